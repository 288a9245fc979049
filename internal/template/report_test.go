package template

import (
	"errors"
	"strings"
	"testing"

	dodecaerr "github.com/bearcove/dodeca-sub000/internal/errors"
)

func TestFormatReportHTMLCarriesErrorMarker(t *testing.T) {
	err := dodecaerr.New(dodecaerr.Input, "unexpected token").WithSpan(dodecaerr.Span{
		Source: "page.html", Line: 2, Column: 5,
	})
	out := FormatReportHTML(err, "line one\nline two\nline three")
	if !strings.Contains(out, errorMarkerAttr) {
		t.Fatalf("expected %q marker attribute, got %q", errorMarkerAttr, out)
	}
	if !strings.Contains(out, "unexpected token") {
		t.Fatalf("expected message in output, got %q", out)
	}
	if !strings.Contains(out, "line two") {
		t.Fatalf("expected the offending source line in output, got %q", out)
	}
}

func TestFormatReportHTMLEscapesUntrustedContent(t *testing.T) {
	err := dodecaerr.New(dodecaerr.Input, `<script>alert(1)</script>`).WithSpan(dodecaerr.Span{
		Source: "page.html", Line: 1, Column: 1,
	})
	out := FormatReportHTML(err, "<script>alert(1)</script>")
	if strings.Contains(out, "<script>") {
		t.Fatalf("expected message/snippet to be escaped, got %q", out)
	}
	if !strings.Contains(out, "&lt;script&gt;") {
		t.Fatalf("expected escaped marker in output, got %q", out)
	}
}

func TestFormatReportHTMLWithoutSpanStillCarriesMarker(t *testing.T) {
	out := FormatReportHTML(errors.New("boom"), "")
	if !strings.Contains(out, errorMarkerAttr) {
		t.Fatalf("expected %q marker attribute, got %q", errorMarkerAttr, out)
	}
	if !strings.Contains(out, "boom") {
		t.Fatalf("expected message in output, got %q", out)
	}
}

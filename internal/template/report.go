package template

import (
	"fmt"
	"strings"

	"github.com/fatih/color"

	dodecaerr "github.com/bearcove/dodeca-sub000/internal/errors"
)

// FormatReport renders a template error as an ANSI source-context report
// for terminal output, in the style of a compiler diagnostic: the
// failing line, a caret under the offending column, and the message.
// `source` is the original template text `err`'s span points into.
func FormatReport(err error, source string) string {
	de, ok := err.(*dodecaerr.Error)
	if !ok || de.Span == nil {
		return err.Error()
	}

	lines := strings.Split(source, "\n")
	lineNo := de.Span.Line
	var b strings.Builder

	bold := color.New(color.Bold)
	red := color.New(color.FgRed, color.Bold)
	cyan := color.New(color.FgCyan)

	red.Fprintf(&b, "error: ")
	bold.Fprintf(&b, "%s\n", de.Message)
	cyan.Fprintf(&b, "  --> %s:%d:%d\n", de.Span.Source, de.Span.Line, de.Span.Column)

	if lineNo >= 1 && lineNo <= len(lines) {
		srcLine := lines[lineNo-1]
		gutter := fmt.Sprintf("%d", lineNo)
		cyan.Fprintf(&b, "%s | ", gutter)
		b.WriteString(srcLine)
		b.WriteString("\n")
		pad := strings.Repeat(" ", len(gutter)+3+max(0, de.Span.Column-1))
		red.Fprintf(&b, "%s^\n", pad)
	}

	if de.Help != "" {
		bold.Fprintf(&b, "help: ")
		b.WriteString(de.Help)
		b.WriteString("\n")
	}
	if len(de.Alternatives) > 0 {
		b.WriteString("did you mean: " + strings.Join(de.Alternatives, ", ") + "?\n")
	}
	return b.String()
}

// errorMarkerAttr is a bare boolean attribute on every rendered error
// page, surviving HTML minification, so the live-update client can tell
// "the page currently on screen is an error page" apart from ordinary
// content with a plain DOM query (spec.md §4.J "ErrorResolved" forces a
// full reload rather than a patch when this attribute is present and
// the rebuild succeeds), grounded on
// `_examples/original_source/crates/dodeca/src/error_pages.rs`'s
// `RENDER_ERROR_MARKER` constant.
const errorMarkerAttr = "data-dodeca-error"

const errorReportTemplateSource = `<div class="dodeca-error" ` + errorMarkerAttr + `>
  <p class="dodeca-error-message">{{ message }}</p>
  <p class="dodeca-error-location" data-source="{{ source }}" data-line="{{ line }}" data-column="{{ column }}">{{ source }}:{{ line }}:{{ column }}</p>
  <pre class="dodeca-error-snippet">{{ snippet }}</pre>
</div>`

const errorReportTemplateSourceNoSpan = `<div class="dodeca-error" ` + errorMarkerAttr + `>
  <pre class="dodeca-error-message">{{ message }}</pre>
</div>`

// FormatReportHTML renders the same diagnostic as a minimal HTML error
// page with a source-line locator carried as data-source, data-line and
// data-column attributes (spec.md §4.H error
// reporting, dev-server path), for display in the live-update overlay.
// It is rendered by this same package's engine (dogfooding §4.H for
// auto-escaping) rather than by hand-built string formatting.
func FormatReportHTML(err error, source string) string {
	if de, ok := err.(*dodecaerr.Error); ok && de.Span != nil {
		lines := strings.Split(source, "\n")
		var snippet string
		if de.Span.Line >= 1 && de.Span.Line <= len(lines) {
			snippet = lines[de.Span.Line-1]
		}
		if out, rerr := renderErrorTemplate(errorReportTemplateSource, map[string]Value{
			"message": de.Message,
			"source":  de.Span.Source,
			"line":    int64(de.Span.Line),
			"column":  int64(de.Span.Column),
			"snippet": snippet,
		}); rerr == nil {
			return out
		}
	}

	message := err.Error()
	if de, ok := err.(*dodecaerr.Error); ok {
		message = de.Message
	}
	if out, rerr := renderErrorTemplate(errorReportTemplateSourceNoSpan, map[string]Value{"message": message}); rerr == nil {
		return out
	}
	// The templates above are fixed and already covered by this
	// package's own tests, so only a programmer error reaches here;
	// still fail open with an escaped, marker-bearing fallback rather
	// than an empty error page.
	return fmt.Sprintf(`<div class="dodeca-error" %s><pre>%s</pre></div>`, errorMarkerAttr, htmlEscapeString(message))
}

func renderErrorTemplate(src string, data map[string]Value) (string, error) {
	env := NewEnvironment(func(string) (string, error) { return src, nil })
	return env.Render("error-report", data)
}

func htmlEscapeString(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}

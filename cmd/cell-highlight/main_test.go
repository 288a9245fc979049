package main

import (
	"context"
	"strings"
	"testing"

	"github.com/bearcove/dodeca-sub000/internal/content"
)

func TestHighlightProducesMarkup(t *testing.T) {
	out, err := highlight("go", `fmt.Println("hi")`)
	if err != nil {
		t.Fatalf("highlight: %v", err)
	}
	if !strings.Contains(out, "<span") {
		t.Fatalf("expected chroma-tokenised markup, got %q", out)
	}
}

func TestHighlightFallsBackForUnknownLanguage(t *testing.T) {
	out, err := highlight("not-a-real-language", "some text")
	if err != nil {
		t.Fatalf("highlight: %v", err)
	}
	if !strings.Contains(out, "some text") {
		t.Fatalf("expected fallback lexer to still emit the source text, got %q", out)
	}
}

func TestDispatcherRejectsUnknownMethod(t *testing.T) {
	var d highlightDispatcher
	if _, err := d.Dispatch(context.Background(), 999, nil); err == nil {
		t.Fatal("expected an error for an unrecognized method id")
	}
}

func TestDispatcherRoundTripsHighlightRequest(t *testing.T) {
	var d highlightDispatcher
	req := content.EncodeHighlightRequest("go", "x := 1")
	resp, err := d.Dispatch(context.Background(), content.MethodHighlight, req)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	rendered, err := content.DecodeHighlightResponse(resp)
	if err != nil {
		t.Fatalf("DecodeHighlightResponse: %v", err)
	}
	if !strings.Contains(rendered, "x") {
		t.Fatalf("expected rendered code to retain source text, got %q", rendered)
	}
}

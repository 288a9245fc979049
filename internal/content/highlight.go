package content

import (
	"encoding/binary"
	"html"
	"strconv"
	"strings"

	dodecaerr "github.com/bearcove/dodeca-sub000/internal/errors"
)

// MethodHighlight is the RPC method ID a highlighting cell (cmd/cell-highlight)
// dispatches on (spec.md §4.E, "cells call back by holding their own
// Session"). Request/response payloads use the same length-prefixed
// encoding as internal/rpc's own Frame, since spec.md §1 Non-goals
// leaves the wire codec unprescribed and this keeps every payload in
// the system speaking one dialect.
const MethodHighlight uint32 = 1

// HighlightFunc renders code in language to HTML, via whatever
// transport the caller wired up (an RPC session to a highlighting
// cell, most commonly). A nil HighlightFunc falls back to an escaped,
// unhighlighted <pre><code> block.
type HighlightFunc func(language, code string) (string, error)

// EncodeHighlightRequest serializes a highlight request as
// varint(len(language)) language varint(len(code)) code.
func EncodeHighlightRequest(language, code string) []byte {
	buf := make([]byte, 0, len(language)+len(code)+16)
	buf = appendString(buf, language)
	buf = appendString(buf, code)
	return buf
}

// DecodeHighlightRequest is EncodeHighlightRequest's inverse.
func DecodeHighlightRequest(b []byte) (language, code string, err error) {
	language, b, err = readString(b)
	if err != nil {
		return "", "", err
	}
	code, _, err = readString(b)
	if err != nil {
		return "", "", err
	}
	return language, code, nil
}

// EncodeHighlightResponse serializes a rendered HTML fragment.
func EncodeHighlightResponse(renderedHTML string) []byte {
	return appendString(nil, renderedHTML)
}

// DecodeHighlightResponse is EncodeHighlightResponse's inverse.
func DecodeHighlightResponse(b []byte) (string, error) {
	renderedHTML, _, err := readString(b)
	return renderedHTML, err
}

func appendString(buf []byte, s string) []byte {
	var lenPrefix [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenPrefix[:], uint64(len(s)))
	buf = append(buf, lenPrefix[:n]...)
	return append(buf, s...)
}

func readString(b []byte) (string, []byte, error) {
	l, n := binary.Uvarint(b)
	if n <= 0 {
		return "", nil, dodecaerr.New(dodecaerr.Protocol, "highlight: truncated length prefix")
	}
	b = b[n:]
	if uint64(len(b)) < l {
		return "", nil, dodecaerr.New(dodecaerr.Protocol, "highlight: truncated payload")
	}
	return string(b[:l]), b[l:], nil
}

const fencePlaceholderPrefix = "<!--dodeca:code:"

// RenderFences replaces every `<!--dodeca:code:N-->` placeholder
// fencedCodeRenderer left in html with fences[N]'s rendered markup: the
// highlighter's output as returned, or, with a nil highlight, the
// escaped-plain code in a <pre><code>. A fence with a title or hidden
// lines is wrapped in a <div class="code-fence"> carrying them as
// data-title and data-hide-lines attributes (spec.md §4.G+). A fence
// whose HighlightFunc call errors or returns an empty string falls back
// to the escaped-plain rendering rather than failing the whole document.
func RenderFences(htmlBody string, fences []CodeFence, highlight HighlightFunc) string {
	if len(fences) == 0 {
		return htmlBody
	}
	var b strings.Builder
	rest := htmlBody
	for {
		idx := strings.Index(rest, fencePlaceholderPrefix)
		if idx == -1 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:idx])
		rest = rest[idx+len(fencePlaceholderPrefix):]
		end := strings.Index(rest, "-->")
		if end == -1 {
			b.WriteString(fencePlaceholderPrefix)
			break
		}
		n, err := strconv.Atoi(rest[:end])
		rest = rest[end+len("-->"):]
		if err != nil || n < 0 || n >= len(fences) {
			continue
		}
		b.WriteString(renderFence(fences[n], highlight))
	}
	return b.String()
}

func renderFence(f CodeFence, highlight HighlightFunc) string {
	body := ""
	if highlight != nil {
		if rendered, err := highlight(f.Language, f.Code); err == nil {
			body = rendered
		}
	}
	if body == "" {
		body = "<pre><code>" + html.EscapeString(f.Code) + "</code></pre>"
	}

	attrs := ""
	if f.Title != "" {
		attrs += ` data-title="` + html.EscapeString(f.Title) + `"`
	}
	if len(f.HideLines) > 0 {
		parts := make([]string, len(f.HideLines))
		for i, n := range f.HideLines {
			parts[i] = strconv.Itoa(n)
		}
		attrs += ` data-hide-lines="` + strings.Join(parts, ",") + `"`
	}
	if attrs == "" {
		return body
	}
	return `<div class="code-fence"` + attrs + `>` + body + `</div>`
}

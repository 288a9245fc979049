// Package htmldiff computes minimal patch lists between two renders of
// the same route (spec.md §4.I), for the live-update server to apply
// in the browser without a full page reload.
package htmldiff

import (
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/net/html"
)

// NodeKind distinguishes the two tree shapes the diff cares about;
// comments and doctype nodes are dropped during parse since they never
// need patching.
type NodeKind int

const (
	KindElement NodeKind = iota
	KindText
)

// Node is our own light DOM tree, built from golang.org/x/net/html's
// parse tree: one struct per element/text node with a precomputed
// SubtreeHash, so equal subtrees short-circuit in O(1) (§4.I).
type Node struct {
	Kind        NodeKind
	Tag         string
	Text        string
	Attrs       map[string]string
	Children    []*Node
	SubtreeHash uint64
}

// Parse builds a Node tree from an HTML fragment's body contents.
func Parse(docHTML string) (*Node, error) {
	doc, err := html.Parse(strings.NewReader(docHTML))
	if err != nil {
		return nil, err
	}
	body := findBody(doc)
	if body == nil {
		body = doc
	}
	root := &Node{Kind: KindElement, Tag: "body"}
	for c := body.FirstChild; c != nil; c = c.NextSibling {
		if n := convert(c); n != nil {
			root.Children = append(root.Children, n)
		}
	}
	computeHashes(root)
	return root, nil
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.Data == "body" {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if b := findBody(c); b != nil {
			return b
		}
	}
	return nil
}

func convert(n *html.Node) *Node {
	switch n.Type {
	case html.TextNode:
		if strings.TrimSpace(n.Data) == "" {
			return nil
		}
		return &Node{Kind: KindText, Text: n.Data}
	case html.ElementNode:
		attrs := make(map[string]string, len(n.Attr))
		for _, a := range n.Attr {
			attrs[a.Key] = a.Val
		}
		out := &Node{Kind: KindElement, Tag: n.Data, Attrs: attrs}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if child := convert(c); child != nil {
				out.Children = append(out.Children, child)
			}
		}
		return out
	default:
		return nil
	}
}

// computeHashes fills SubtreeHash bottom-up: xxhash over
// {tag, text, sorted attrs, child hashes} (§4.I).
func computeHashes(n *Node) {
	for _, c := range n.Children {
		computeHashes(c)
	}
	var b strings.Builder
	b.WriteString(n.Tag)
	b.WriteByte(0)
	b.WriteString(n.Text)
	b.WriteByte(0)
	for _, k := range sortedAttrKeys(n.Attrs) {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(n.Attrs[k])
		b.WriteByte(0)
	}
	for _, c := range n.Children {
		b.WriteString(formatHash(c.SubtreeHash))
		b.WriteByte(0)
	}
	n.SubtreeHash = xxhash.Sum64String(b.String())
}

func sortedAttrKeys(attrs map[string]string) []string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatHash(h uint64) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		buf[i] = hexDigits[h&0xf]
		h >>= 4
	}
	return string(buf)
}

// Serialize renders a Node subtree back to an HTML string, used for the
// html payload of Replace/AppendChild/InsertBefore/ReplaceInnerHtml
// patches.
func Serialize(n *Node) string {
	var b strings.Builder
	serializeInto(&b, n)
	return b.String()
}

func serializeInto(b *strings.Builder, n *Node) {
	if n.Kind == KindText {
		b.WriteString(html.EscapeString(n.Text))
		return
	}
	b.WriteByte('<')
	b.WriteString(n.Tag)
	for _, k := range sortedAttrKeys(n.Attrs) {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteString(`="`)
		b.WriteString(html.EscapeString(n.Attrs[k]))
		b.WriteByte('"')
	}
	b.WriteByte('>')
	for _, c := range n.Children {
		serializeInto(b, c)
	}
	b.WriteString("</")
	b.WriteString(n.Tag)
	b.WriteByte('>')
}

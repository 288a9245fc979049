package content

import (
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/adrg/frontmatter"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmhtml "github.com/yuin/goldmark/renderer/html"

	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"

	dodecaerr "github.com/bearcove/dodeca-sub000/internal/errors"
)

var (
	tomlFrontmatterRe = regexp.MustCompile(`(?s)\A\+\+\+\r?\n(.*?)\r?\n\+\+\+\r?\n?`)
	yamlFrontmatterRe = regexp.MustCompile(`(?s)\A---\r?\n(.*?)\r?\n---\r?\n?`)
	headingRe         = regexp.MustCompile(`(?s)<h([1-6]) id="([^"]*)">(.*?)</h[1-6]>`)
	ruleMarkerRe      = regexp.MustCompile(`\br\[([A-Za-z0-9_-]+)\]`)
	hrefRe            = regexp.MustCompile(`href="([^"]*)"`)
	tagStripRe        = regexp.MustCompile(`<[^>]*>`)
)

// ParseMarkdown performs the content pipeline's single streaming pass
// over a Source's raw bytes (spec.md §4.G): frontmatter detection, code
// fence extraction, heading slugging, `r[name]` rule markers, and link
// canonicalization.
func ParseMarkdown(sourcePath string, raw []byte) (*Document, error) {
	doc := &Document{SourcePath: sourcePath}

	rawMeta, format, body := splitFrontmatter(raw)
	doc.RawMetadata = rawMeta
	doc.MetadataFormat = format

	if format != MetadataNone {
		var meta map[string]any
		if _, err := frontmatter.Parse(bytes.NewReader(raw), &meta); err != nil {
			return nil, dodecaerr.Wrap(dodecaerr.Input, err, "parse frontmatter").WithSpan(dodecaerr.Span{Source: sourcePath})
		}
		doc.Metadata = meta
	}

	var fences []CodeFence
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		goldmark.WithRendererOptions(
			gmhtml.WithUnsafe(), // we are the sole producer of the raw HTML we inject (rule anchors, fence placeholders)
		),
	)
	md.Renderer().AddOptions(renderer.WithNodeRenderers(
		util.Prioritized(&fencedCodeRenderer{fences: &fences}, 100),
	))

	var buf bytes.Buffer
	if err := md.Convert(body, &buf); err != nil {
		return nil, dodecaerr.Wrap(dodecaerr.Input, err, "render markdown").WithSpan(dodecaerr.Span{Source: sourcePath})
	}
	doc.Fences = fences

	htmlOut := buf.String()
	htmlOut, doc.Headings = extractHeadings(htmlOut)
	htmlOut, doc.Rules = rewriteRuleMarkers(htmlOut)
	htmlOut = rewriteLinks(htmlOut)

	doc.HTML = htmlOut
	doc.Summary, doc.WordCount = summarize(htmlOut)

	return doc, nil
}

// splitFrontmatter detects a leading `+++...+++` (TOML) or `---...---`
// (YAML) metadata block and returns its raw text, detected format, and
// the remaining body bytes.
func splitFrontmatter(raw []byte) (string, MetadataFormat, []byte) {
	if m := tomlFrontmatterRe.FindSubmatchIndex(raw); m != nil {
		return string(raw[m[2]:m[3]]), MetadataTOML, raw[m[1]:]
	}
	if m := yamlFrontmatterRe.FindSubmatchIndex(raw); m != nil {
		return string(raw[m[2]:m[3]]), MetadataYAML, raw[m[1]:]
	}
	return "", MetadataNone, raw
}

// fencedCodeRenderer intercepts fenced code blocks, recording each as an
// opaque (index, language, code) triple and emitting a placeholder
// comment in their place, for a downstream rendering cell to fill in
// (spec.md §4.G, "convert code fences into opaque placeholders").
type fencedCodeRenderer struct {
	fences *[]CodeFence
}

func (r *fencedCodeRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(ast.KindFencedCodeBlock, r.render)
}

func (r *fencedCodeRenderer) render(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	fence := n.(*ast.FencedCodeBlock)

	lang, title, hideLines := "", "", []int(nil)
	if info := fence.Info; info != nil {
		lang, title, hideLines = parseFenceInfo(string(info.Text(source)))
	}

	var code bytes.Buffer
	lines := fence.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		code.Write(seg.Value(source))
	}

	index := len(*r.fences)
	*r.fences = append(*r.fences, CodeFence{
		Index: index, Language: lang, Code: code.String(), Title: title, HideLines: hideLines,
	})
	fmt.Fprintf(w, "<!--dodeca:code:%d-->", index)
	return ast.WalkSkipChildren, nil
}

var fenceAttrRe = regexp.MustCompile(`(\w+)="([^"]*)"`)

// parseFenceInfo parses a fence info string like
// `go title="Example" hide_lines="1,2"` (spec.md §4.G+).
func parseFenceInfo(info string) (lang, title string, hideLines []int) {
	info = strings.TrimSpace(info)
	if info == "" {
		return "", "", nil
	}
	fields := strings.SplitN(info, " ", 2)
	lang = fields[0]
	if len(fields) == 1 {
		return lang, "", nil
	}
	for _, m := range fenceAttrRe.FindAllStringSubmatch(fields[1], -1) {
		switch m[1] {
		case "title":
			title = m[2]
		case "hide_lines":
			for _, part := range strings.Split(m[2], ",") {
				if n, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
					hideLines = append(hideLines, n)
				}
			}
		}
	}
	return lang, title, hideLines
}

func extractHeadings(html string) (string, []Heading) {
	var headings []Heading
	out := headingRe.ReplaceAllStringFunc(html, func(m string) string {
		sub := headingRe.FindStringSubmatch(m)
		level, _ := strconv.Atoi(sub[1])
		title := strings.TrimSpace(tagStripRe.ReplaceAllString(sub[3], ""))
		headings = append(headings, Heading{Title: title, ID: sub[2], Level: level})
		return m
	})
	return out, headings
}

func rewriteRuleMarkers(html string) (string, []RuleDefinition) {
	var rules []RuleDefinition
	out := ruleMarkerRe.ReplaceAllStringFunc(html, func(m string) string {
		name := ruleMarkerRe.FindStringSubmatch(m)[1]
		rules = append(rules, RuleDefinition{Name: name})
		return fmt.Sprintf(`<a id="r-%s" data-dodeca-rule="%s"></a>`, name, name)
	})
	return out, rules
}

// rewriteLinks canonicalizes `@/path` and relative `.md` link
// destinations to their served routes (spec.md §4.G).
func rewriteLinks(html string) string {
	return hrefRe.ReplaceAllStringFunc(html, func(m string) string {
		dest := hrefRe.FindStringSubmatch(m)[1]
		return `href="` + rewriteLinkDestination(dest) + `"`
	})
}

func rewriteLinkDestination(dest string) string {
	if strings.HasPrefix(dest, "@/") {
		return "/" + strings.TrimPrefix(dest, "@/")
	}
	if isRelativeReference(dest) && strings.HasSuffix(dest, ".md") {
		trimmed := strings.TrimSuffix(dest, ".md")
		if !strings.HasPrefix(trimmed, "/") {
			trimmed = "/" + trimmed
		}
		return trimmed
	}
	return dest
}

func isRelativeReference(dest string) bool {
	if strings.Contains(dest, "://") {
		return false
	}
	if strings.HasPrefix(dest, "#") || strings.HasPrefix(dest, "mailto:") {
		return false
	}
	return true
}

// summarize extracts a plain-text summary (the first 40 words of the
// whole document's text, with "…" appended when it was cut) and the total
// word count from rendered HTML (spec.md §4.G+, consumed by the search index and
// sitemap build steps which sit outside the core's boundary).
func summarize(html string) (summary string, wordCount int) {
	plain := strings.TrimSpace(tagStripRe.ReplaceAllString(html, " "))
	plain = strings.Join(strings.Fields(plain), " ")
	words := strings.Fields(plain)
	wordCount = len(words)

	const maxSummaryWords = 40
	if len(words) > maxSummaryWords {
		summary = strings.Join(words[:maxSummaryWords], " ") + "…"
	} else {
		summary = plain
	}
	return summary, wordCount
}

package content

import (
	"strings"
	"testing"
)

func TestParseMarkdownExtractsHeadingsAndFences(t *testing.T) {
	src := []byte("# Title One\n\nSome text.\n\n## Sub Heading\n\n```go title=\"Example\"\nfmt.Println(\"hi\")\n```\n")
	doc, err := ParseMarkdown("test.md", src)
	if err != nil {
		t.Fatalf("ParseMarkdown: %v", err)
	}
	if len(doc.Headings) != 2 {
		t.Fatalf("expected 2 headings, got %d: %+v", len(doc.Headings), doc.Headings)
	}
	if doc.Headings[0].Title != "Title One" || doc.Headings[0].Level != 1 {
		t.Fatalf("unexpected first heading: %+v", doc.Headings[0])
	}
	if doc.Headings[0].ID == "" {
		t.Fatal("expected a non-empty slug id")
	}
	if len(doc.Fences) != 1 {
		t.Fatalf("expected 1 code fence, got %d", len(doc.Fences))
	}
	if doc.Fences[0].Language != "go" || doc.Fences[0].Title != "Example" {
		t.Fatalf("unexpected fence: %+v", doc.Fences[0])
	}
	if !strings.Contains(doc.HTML, "<!--dodeca:code:0-->") {
		t.Fatalf("expected a code placeholder in html, got %q", doc.HTML)
	}
	if strings.Contains(doc.HTML, "fmt.Println") {
		t.Fatal("raw code should not leak into rendered html")
	}
}

func TestParseMarkdownDetectsTOMLFrontmatter(t *testing.T) {
	src := []byte("+++\ntitle = \"Hi\"\n+++\n\nBody text.\n")
	doc, err := ParseMarkdown("test.md", src)
	if err != nil {
		t.Fatalf("ParseMarkdown: %v", err)
	}
	if doc.MetadataFormat != MetadataTOML {
		t.Fatalf("expected TOML format, got %v", doc.MetadataFormat)
	}
	if doc.Metadata["title"] != "Hi" {
		t.Fatalf("expected title=Hi, got %+v", doc.Metadata)
	}
}

func TestParseMarkdownDetectsYAMLFrontmatter(t *testing.T) {
	src := []byte("---\ntitle: Hi\n---\n\nBody text.\n")
	doc, err := ParseMarkdown("test.md", src)
	if err != nil {
		t.Fatalf("ParseMarkdown: %v", err)
	}
	if doc.MetadataFormat != MetadataYAML {
		t.Fatalf("expected YAML format, got %v", doc.MetadataFormat)
	}
	if doc.Metadata["title"] != "Hi" {
		t.Fatalf("expected title=Hi, got %+v", doc.Metadata)
	}
}

func TestParseMarkdownRewritesRuleMarkersAndLinks(t *testing.T) {
	src := []byte("See r[my-rule] and [docs](@/guide/intro) or [page](./other.md).\n")
	doc, err := ParseMarkdown("test.md", src)
	if err != nil {
		t.Fatalf("ParseMarkdown: %v", err)
	}
	if len(doc.Rules) != 1 || doc.Rules[0].Name != "my-rule" {
		t.Fatalf("expected rule my-rule, got %+v", doc.Rules)
	}
	if !strings.Contains(doc.HTML, `id="r-my-rule"`) {
		t.Fatalf("expected rule anchor in html, got %q", doc.HTML)
	}
	if !strings.Contains(doc.HTML, `href="/guide/intro"`) {
		t.Fatalf("expected @/ rewrite, got %q", doc.HTML)
	}
	if strings.Contains(doc.HTML, ".md\"") {
		t.Fatalf("expected .md suffix to be stripped, got %q", doc.HTML)
	}
}

func TestParseMarkdownComputesSummaryAndWordCount(t *testing.T) {
	doc, err := ParseMarkdown("test.md", []byte("One two three four five.\n"))
	if err != nil {
		t.Fatalf("ParseMarkdown: %v", err)
	}
	if doc.WordCount != 5 {
		t.Fatalf("expected word count 5, got %d", doc.WordCount)
	}
	if doc.Summary == "" {
		t.Fatal("expected a non-empty summary")
	}
}

func TestDocumentQueryHashStableAcrossIdenticalInput(t *testing.T) {
	a, _ := ParseMarkdown("a.md", []byte("# Hi\n\nbody\n"))
	b, _ := ParseMarkdown("a.md", []byte("# Hi\n\nbody\n"))
	if a.QueryHash() != b.QueryHash() {
		t.Fatal("expected identical documents to hash identically")
	}
	c, _ := ParseMarkdown("a.md", []byte("# Hi\n\ndifferent body\n"))
	if a.QueryHash() == c.QueryHash() {
		t.Fatal("expected different documents to hash differently")
	}
}

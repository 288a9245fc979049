package linkcheck

import "testing"

const samplePage = `
<html><body>
<h2 id="install">Install</h2>
<a href="/guides/setup">setup guide</a>
<a href="/guides/setup#install">setup install anchor</a>
<a href="https://other.test/x">external</a>
<a href="#install">self anchor</a>
<a href="mailto:hi@example.com">mail</a>
</body></html>
`

func TestExtractPageLinks(t *testing.T) {
	page, err := ExtractPageLinks("/docs/intro", "mysite.test", samplePage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !page.ElementIDs["install"] {
		t.Fatalf("expected element id 'install' to be collected, got %v", page.ElementIDs)
	}
	if len(page.ExternalRefs) != 2 {
		t.Fatalf("expected 2 external refs (https + mailto), got %d: %v", len(page.ExternalRefs), page.ExternalRefs)
	}
	if len(page.InternalRefs) != 3 {
		t.Fatalf("expected 3 internal refs, got %d: %+v", len(page.InternalRefs), page.InternalRefs)
	}

	var sawAnchor bool
	for _, ref := range page.InternalRefs {
		if ref.Route == "/guides/setup" && ref.Fragment == "install" {
			sawAnchor = true
		}
	}
	if !sawAnchor {
		t.Fatalf("expected a ref to /guides/setup#install, got %+v", page.InternalRefs)
	}
}

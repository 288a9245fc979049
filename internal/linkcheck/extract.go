package linkcheck

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PageLinks is one page's outbound links and its own anchor targets,
// extracted via goquery selection (§4.K "per-page element IDs are
// collected to resolve fragment references").
type PageLinks struct {
	Route        string
	InternalRefs []Reference
	ExternalRefs []string
	ElementIDs   map[string]bool
}

// Reference is one internal link occurrence, kept with its raw href so
// a report can point back at the offending anchor text.
type Reference struct {
	Route    string
	Fragment string
	Raw      string
}

// ExtractPageLinks walks html's anchors and element ids via goquery —
// a selection API fits this better than a raw tree walk, since the
// query here really is "all a[href]" and "all [id]", not a structural
// diff (that's internal/htmldiff's job).
func ExtractPageLinks(route, ownHost, html string) (*PageLinks, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	out := &PageLinks{Route: route, ElementIDs: make(map[string]bool)}

	doc.Find("[id]").Each(func(_ int, s *goquery.Selection) {
		if id, ok := s.Attr("id"); ok && id != "" {
			out.ElementIDs[id] = true
		}
	})

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || href == "" || strings.HasPrefix(href, "javascript:") {
			return
		}
		if IsExternal(href, ownHost) {
			out.ExternalRefs = append(out.ExternalRefs, href)
			return
		}
		target, fragment := NormalizeRoute(route, href)
		out.InternalRefs = append(out.InternalRefs, Reference{Route: target, Fragment: fragment, Raw: href})
	})

	return out, nil
}

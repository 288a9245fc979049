package linkcheck

import "testing"

func TestCheckInternalLinksMissingRoute(t *testing.T) {
	page := &PageLinks{
		Route:        "/docs/intro",
		InternalRefs: []Reference{{Route: "/guides/ghost", Raw: "/guides/ghost"}},
		ElementIDs:   map[string]bool{},
	}
	known := map[string]bool{"/docs/intro": true}
	issues := CheckInternalLinks(page, known, nil)
	if len(issues) != 1 || issues[0].Kind != IssueRouteMissing {
		t.Fatalf("expected one RouteMissing issue, got %+v", issues)
	}
}

func TestCheckInternalLinksStaticFileExempt(t *testing.T) {
	page := &PageLinks{
		Route:        "/docs/intro",
		InternalRefs: []Reference{{Route: "/images/logo.png", Raw: "/images/logo.png"}},
		ElementIDs:   map[string]bool{},
	}
	issues := CheckInternalLinks(page, map[string]bool{"/docs/intro": true}, nil)
	if len(issues) != 0 {
		t.Fatalf("expected no issues for a static-file target, got %+v", issues)
	}
}

func TestCheckInternalLinksMissingAnchorOnOtherPage(t *testing.T) {
	page := &PageLinks{
		Route:        "/docs/intro",
		InternalRefs: []Reference{{Route: "/guides/setup", Fragment: "install", Raw: "/guides/setup#install"}},
		ElementIDs:   map[string]bool{},
	}
	known := map[string]bool{"/docs/intro": true, "/guides/setup": true}
	ids := map[string]map[string]bool{"/guides/setup": {"other-anchor": true}}
	issues := CheckInternalLinks(page, known, ids)
	if len(issues) != 1 || issues[0].Kind != IssueAnchorMissing {
		t.Fatalf("expected one AnchorMissing issue, got %+v", issues)
	}
}

func TestCheckInternalLinksSelfAnchorResolved(t *testing.T) {
	page := &PageLinks{
		Route:        "/docs/intro",
		InternalRefs: []Reference{{Route: "/docs/intro", Fragment: "install", Raw: "#install"}},
		ElementIDs:   map[string]bool{"install": true},
	}
	known := map[string]bool{"/docs/intro": true}
	issues := CheckInternalLinks(page, known, nil)
	if len(issues) != 0 {
		t.Fatalf("expected self anchor to resolve via page.ElementIDs, got %+v", issues)
	}
}

func TestIssueStringFormatting(t *testing.T) {
	routeIssue := Issue{SourceRoute: "/a", Kind: IssueRouteMissing, Target: "/b", Raw: "/b"}
	if routeIssue.String() == "" {
		t.Fatal("expected non-empty string")
	}
	anchorIssue := Issue{SourceRoute: "/a", Kind: IssueAnchorMissing, Target: "/b", Fragment: "x", Raw: "/b#x"}
	if anchorIssue.String() == "" {
		t.Fatal("expected non-empty string")
	}
}

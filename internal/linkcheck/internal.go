package linkcheck

import "fmt"

// IssueKind classifies an internal link problem (§4.K).
type IssueKind int

const (
	IssueRouteMissing IssueKind = iota
	IssueAnchorMissing
)

func (k IssueKind) String() string {
	switch k {
	case IssueRouteMissing:
		return "RouteMissing"
	case IssueAnchorMissing:
		return "AnchorMissing"
	default:
		return "Unknown"
	}
}

// Issue is one broken internal reference found on SourceRoute.
type Issue struct {
	SourceRoute string
	Kind        IssueKind
	Target      string
	Fragment    string
	Raw         string
}

func (i Issue) String() string {
	if i.Kind == IssueAnchorMissing {
		return fmt.Sprintf("%s: %s#%s does not exist (href=%q)", i.SourceRoute, i.Target, i.Fragment, i.Raw)
	}
	return fmt.Sprintf("%s: %s does not exist (href=%q)", i.SourceRoute, i.Target, i.Raw)
}

// CheckInternalLinks validates every internal reference on a page
// against the site's known routes and per-page element-ID sets.
func CheckInternalLinks(page *PageLinks, knownRoutes map[string]bool, idsByRoute map[string]map[string]bool) []Issue {
	var issues []Issue
	for _, ref := range page.InternalRefs {
		if !knownRoutes[ref.Route] && !IsStaticFilePath(ref.Route) {
			issues = append(issues, Issue{SourceRoute: page.Route, Kind: IssueRouteMissing, Target: ref.Route, Raw: ref.Raw})
			continue
		}
		if ref.Fragment == "" {
			continue
		}
		ids := idsByRoute[ref.Route]
		if ref.Route == page.Route {
			ids = page.ElementIDs
		}
		if ids == nil || !ids[ref.Fragment] {
			issues = append(issues, Issue{SourceRoute: page.Route, Kind: IssueAnchorMissing, Target: ref.Route, Fragment: ref.Fragment, Raw: ref.Raw})
		}
	}
	return issues
}

// Package linkcheck validates the final set of rendered (route, html)
// pairs: internal links/anchors against the route table, external links
// via a day-bucketed, rate-limited HEAD probe (spec.md §4.K).
package linkcheck

import (
	"net/url"
	"path"
	"strings"
)

// staticFileExtensions lists extensions that are valid internal targets
// even though no route renders them (images, downloads, etc.) — §4.K
// "or if the path matches a known static-file extension set".
var staticFileExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true,
	".webp": true, ".ico": true, ".css": true, ".js": true, ".pdf": true,
	".woff": true, ".woff2": true, ".txt": true, ".json": true, ".xml": true,
}

// NormalizeRoute resolves `.`/`..` segments, strips any fragment, and
// canonicalizes a trailing slash (kept only for the root route "/").
func NormalizeRoute(base, target string) (route, fragment string) {
	if i := strings.IndexByte(target, '#'); i >= 0 {
		fragment = target[i+1:]
		target = target[:i]
	}
	if target == "" {
		return base, fragment
	}

	var joined string
	if strings.HasPrefix(target, "/") {
		joined = path.Clean(target)
	} else {
		joined = path.Clean(path.Join(path.Dir(base), target))
	}
	if joined != "/" {
		joined = strings.TrimSuffix(joined, "/")
	}
	return joined, fragment
}

// IsStaticFilePath reports whether route's extension is in the
// known-static allowlist, exempting it from route-table membership.
func IsStaticFilePath(route string) bool {
	return staticFileExtensions[strings.ToLower(path.Ext(route))]
}

// IsExternal reports whether href points off-site (any http(s):// URL
// not matching ownHost). A bare scheme-relative or other-scheme URL
// (mailto:, tel:) is treated as external too, since none of those are
// checkable against the internal route table.
func IsExternal(href, ownHost string) bool {
	u, err := url.Parse(href)
	if err != nil {
		return true
	}
	if u.Scheme == "" && u.Host == "" {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return true
	}
	return !strings.EqualFold(u.Host, ownHost)
}

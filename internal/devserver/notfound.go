package devserver

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// maxSuggestions caps how many nearby routes a 404 page offers.
const maxSuggestions = 5

// suggestionDistance is the farthest edit distance worth surfacing —
// beyond this the suggestion is more likely to confuse than help.
const suggestionDistance = 4

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request, route string) {
	suggestions := nearestRoutes(route, s.pipeline.KnownRoutes())

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusNotFound)

	fmt.Fprintf(w, "<!doctype html><html><head><title>404 Not Found</title></head><body>")
	fmt.Fprintf(w, "<h1>404 Not Found</h1><p><code>%s</code> has no matching route.</p>", html404Escape(route))
	if len(suggestions) > 0 {
		fmt.Fprintf(w, "<p>Did you mean:</p><ul>")
		for _, sug := range suggestions {
			fmt.Fprintf(w, `<li><a href="%s">%s</a></li>`, html404Escape(sug), html404Escape(sug))
		}
		fmt.Fprintf(w, "</ul>")
	}
	fmt.Fprintf(w, "</body></html>")
}

func html404Escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")
	return r.Replace(s)
}

// nearestRoutes ranks known routes by Levenshtein distance to route,
// keeping only those close enough to plausibly be a typo.
func nearestRoutes(route string, known map[string]bool) []string {
	type scored struct {
		route string
		dist  int
	}
	var candidates []scored
	for r := range known {
		d := levenshteinDistance(route, r)
		if d <= suggestionDistance {
			candidates = append(candidates, scored{route: r, dist: d})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].dist != candidates[j].dist {
			return candidates[i].dist < candidates[j].dist
		}
		return candidates[i].route < candidates[j].route
	})
	if len(candidates) > maxSuggestions {
		candidates = candidates[:maxSuggestions]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.route
	}
	return out
}

// levenshteinDistance computes the edit distance between a and b. No
// dependency in the corpus offers fuzzy string matching (see
// DESIGN.md), so this is hand-rolled the same way the pack's own
// typosquatting detector does it.
func levenshteinDistance(a, b string) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	matrix := make([][]int, len(a)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(b)+1)
		matrix[i][0] = i
	}
	for j := range matrix[0] {
		matrix[0][j] = j
	}

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := matrix[i-1][j] + 1
			ins := matrix[i][j-1] + 1
			sub := matrix[i-1][j-1] + cost
			matrix[i][j] = min3(del, ins, sub)
		}
	}
	return matrix[len(a)][len(b)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

package linkcheck

import "testing"

func TestNormalizeRouteRelative(t *testing.T) {
	route, frag := NormalizeRoute("/docs/intro", "../guides/setup")
	if route != "/guides/setup" || frag != "" {
		t.Fatalf("got route=%q frag=%q", route, frag)
	}
}

func TestNormalizeRouteAbsoluteWithFragment(t *testing.T) {
	route, frag := NormalizeRoute("/docs/intro", "/guides/setup#install")
	if route != "/guides/setup" || frag != "install" {
		t.Fatalf("got route=%q frag=%q", route, frag)
	}
}

func TestNormalizeRouteBareFragment(t *testing.T) {
	route, frag := NormalizeRoute("/docs/intro", "#section-2")
	if route != "/docs/intro" || frag != "section-2" {
		t.Fatalf("got route=%q frag=%q", route, frag)
	}
}

func TestNormalizeRouteRootKeepsSlash(t *testing.T) {
	route, _ := NormalizeRoute("/docs/intro", "/")
	if route != "/" {
		t.Fatalf("got route=%q, want /", route)
	}
}

func TestNormalizeRouteTrailingSlashStripped(t *testing.T) {
	route, _ := NormalizeRoute("/docs/intro", "/guides/setup/")
	if route != "/guides/setup" {
		t.Fatalf("got route=%q", route)
	}
}

func TestIsStaticFilePath(t *testing.T) {
	cases := map[string]bool{
		"/images/logo.png": true,
		"/site.css":        true,
		"/docs/intro":      false,
		"/archive.PDF":     true,
	}
	for route, want := range cases {
		if got := IsStaticFilePath(route); got != want {
			t.Errorf("IsStaticFilePath(%q) = %v, want %v", route, got, want)
		}
	}
}

func TestIsExternal(t *testing.T) {
	cases := []struct {
		href string
		want bool
	}{
		{"/docs/intro", false},
		{"https://example.com/docs", true},
		{"https://mysite.test/docs", false},
		{"mailto:hi@example.com", true},
		{"#fragment", false},
	}
	for _, c := range cases {
		if got := IsExternal(c.href, "mysite.test"); got != c.want {
			t.Errorf("IsExternal(%q) = %v, want %v", c.href, got, c.want)
		}
	}
}

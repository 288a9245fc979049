package content

import (
	"strings"
	"testing"
)

func TestHashAssetProducesContentAddressedName(t *testing.T) {
	a := HashAsset("style.css", []byte("body{}"), nil)
	if a.PublicName == "style.css" {
		t.Fatal("expected a hashed name, got the original")
	}
	if !strings.HasSuffix(a.PublicName, ".css") {
		t.Fatalf("expected .css extension preserved, got %q", a.PublicName)
	}

	b := HashAsset("style.css", []byte("body{}"), nil)
	if a.PublicName != b.PublicName {
		t.Fatal("expected identical bytes to produce identical names")
	}

	c := HashAsset("style.css", []byte("body{color:red}"), nil)
	if a.PublicName == c.PublicName {
		t.Fatal("expected different bytes to produce different names")
	}
}

func TestHashAssetKeepsStableNames(t *testing.T) {
	a := HashAsset("favicon.ico", []byte("icon-bytes"), []string{"favicon.ico"})
	if a.PublicName != "favicon.ico" {
		t.Fatalf("expected stable name to be preserved, got %q", a.PublicName)
	}
}

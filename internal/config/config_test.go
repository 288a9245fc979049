package config

import (
	"testing"

	"github.com/spf13/viper"
)

func TestLoadDefaultsHighlightEnabledAndDerivesSHMPath(t *testing.T) {
	v := viper.New()
	v.Set("content_dir", "content")
	v.Set("cache_dir", ".cache")

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.HighlightEnabled {
		t.Fatal("expected HighlightEnabled to default true")
	}
	if cfg.SHMPath != ".cache/dodeca.shm" {
		t.Fatalf("expected a cache-dir-derived shm path, got %q", cfg.SHMPath)
	}
	if len(cfg.SlotClasses) == 0 {
		t.Fatal("expected default slot classes when none configured")
	}
}

func TestLoadHonorsExplicitHighlightDisabled(t *testing.T) {
	v := viper.New()
	v.Set("highlight_enabled", false)

	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HighlightEnabled {
		t.Fatal("expected HighlightEnabled to honor an explicit false")
	}
}

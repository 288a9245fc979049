// Package config loads dodeca's build/serve configuration. The core
// does not prescribe a config file format (spec.md §1 Non-goals); viper
// is used to accept TOML, YAML or JSON transparently, with BurntSushi/toml
// backing the precise decode of the slot-class table where viper's
// generic map decoding loses integer-vs-string nuance.
package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
)

// SlotClass describes one segregated free-list size class in the SHM hub (§4.A).
type SlotClass struct {
	SizeBytes int `toml:"size_bytes"`
	Count     int `toml:"count"`
}

// Config holds all runtime configuration for the dodeca engine.
type Config struct {
	ContentDir string
	OutputDir  string
	CacheDir   string

	// Dev server
	ServeAddr string
	ServePort int

	// RPC / shared-memory hub
	SHMPath      string
	SHMTotalSize int
	SlotClasses  []SlotClass

	// Link checker
	LinkCheckEnabled    bool
	ExternalRateLimitMS int
	LinkCheckSkipList   []string

	// Code execution
	CodeSampleTimeoutSec   int
	CodeSampleOutputCapKiB int

	// Content pipeline: asset basenames (file names without directory) that keep
	// their original name instead of a content-hashed one (spec.md §4.G
	// "Stable assets ... retain their original names").
	StableAssetNames []string

	// HighlightEnabled spawns cmd/cell-highlight and routes code-fence
	// rendering through it (spec.md §4.E+). Disabling it falls back to
	// escaped-plain-text code blocks, e.g. when no cell-highlight binary
	// is installed alongside dodeca.
	HighlightEnabled bool

	// Logging
	LogLevel  string
	LogPretty bool
}

// defaultSlotClasses mirrors the spec's "powers of two from 4 KiB to a
// chosen maximum, typical 64 KiB".
func defaultSlotClasses() []SlotClass {
	sizes := []int{4 << 10, 8 << 10, 16 << 10, 32 << 10, 64 << 10}
	out := make([]SlotClass, len(sizes))
	for i, s := range sizes {
		out[i] = SlotClass{SizeBytes: s, Count: 64}
	}
	return out
}

// Load reads configuration from viper, which merges an optional
// dodeca.toml (read from the working directory by cmd/dodeca),
// environment variables prefixed DODECA_, and flag values bound by the
// cobra command in cmd/dodeca.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.GetViper()
	}

	cfg := &Config{
		ContentDir:             v.GetString("content_dir"),
		OutputDir:              v.GetString("output_dir"),
		CacheDir:               v.GetString("cache_dir"),
		ServeAddr:              v.GetString("serve_addr"),
		ServePort:              v.GetInt("serve_port"),
		SHMPath:                v.GetString("shm_path"),
		SHMTotalSize:           v.GetInt("shm_total_size"),
		LinkCheckEnabled:       v.GetBool("link_check_enabled"),
		ExternalRateLimitMS:    v.GetInt("external_rate_limit_ms"),
		LinkCheckSkipList:      v.GetStringSlice("link_check_skip_list"),
		CodeSampleTimeoutSec:   v.GetInt("code_sample_timeout_sec"),
		CodeSampleOutputCapKiB: v.GetInt("code_sample_output_cap_kib"),
		StableAssetNames:       v.GetStringSlice("stable_asset_names"),
		HighlightEnabled:       true,
		LogLevel:               v.GetString("log_level"),
		LogPretty:              v.GetBool("log_pretty"),
	}
	if v.IsSet("highlight_enabled") {
		cfg.HighlightEnabled = v.GetBool("highlight_enabled")
	}

	if cfg.SHMTotalSize == 0 {
		cfg.SHMTotalSize = 16 << 20 // 16 MiB default region
	}
	if cfg.SHMPath == "" && cfg.CacheDir != "" {
		cfg.SHMPath = cfg.CacheDir + "/dodeca.shm"
	}
	if cfg.ExternalRateLimitMS == 0 {
		cfg.ExternalRateLimitMS = 1000
	}
	if cfg.CodeSampleTimeoutSec == 0 {
		cfg.CodeSampleTimeoutSec = 300 // 5 minutes, matching spec.md §5 default
	}
	if cfg.CodeSampleOutputCapKiB == 0 {
		cfg.CodeSampleOutputCapKiB = 10 * 1024 // 10 MiB
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if v.Get("rpc") != nil {
		classes, err := decodeSlotClasses(v)
		if err != nil {
			return nil, fmt.Errorf("decode slot classes: %w", err)
		}
		if len(classes) > 0 {
			cfg.SlotClasses = classes
		}
	}
	if len(cfg.SlotClasses) == 0 {
		cfg.SlotClasses = defaultSlotClasses()
	}

	return cfg, nil
}

// decodeSlotClasses re-parses the [rpc.slot_classes] table with
// BurntSushi/toml's precise types, since viper's mapstructure decode of
// heterogeneous TOML tables can coerce integers to float64.
func decodeSlotClasses(v *viper.Viper) ([]SlotClass, error) {
	path := v.ConfigFileUsed()
	if path == "" {
		var classes []SlotClass
		_ = v.UnmarshalKey("rpc.slot_classes", &classes)
		return classes, nil
	}

	var wrapper struct {
		RPC struct {
			SlotClasses []SlotClass `toml:"slot_classes"`
		} `toml:"rpc"`
	}
	if _, err := toml.DecodeFile(path, &wrapper); err != nil {
		// Non-TOML config files (YAML/JSON) fall back to viper's own
		// decode, which is good enough outside the slot-class edge case.
		var classes []SlotClass
		_ = v.UnmarshalKey("rpc.slot_classes", &classes)
		return classes, nil
	}
	return wrapper.RPC.SlotClasses, nil
}

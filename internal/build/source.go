// Package build implements the pipeline orchestrator: discovering
// source files, driving them through the query engine's registered
// compute functions (parse_markdown, render_document, hash_asset), and
// wiring the resulting routes into htmldiff/live/linkcheck (spec.md
// §2 "Control flow" and the per-component sections it cites).
package build

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// SourceFile is the query engine's external input type (spec.md §4.F
// "typed inputs"): a content or asset file on disk, tracked by path and
// content hash so the engine can cut off recomputation when bytes are
// unchanged even though mtime moved.
type SourceFile struct {
	Path     string // relative to the content root
	AbsPath  string
	Data     []byte
	IsAsset  bool // not markdown: images, css, js, etc. served/hashed as-is
	Revision uint64
}

// QueryHash lets SourceFile participate in the query engine's
// early-cutoff comparison (spec.md §4.F step 4).
func (s *SourceFile) QueryHash() uint64 {
	return xxhash.Sum64(s.Data)
}

// markdownExtensions names files the content pipeline parses; anything
// else under the content root is treated as a static asset.
var markdownExtensions = map[string]bool{".md": true, ".markdown": true}

// templatesDirName is the reserved subdirectory newTemplateEnvironment
// loads layouts from; its contents are never treated as page or asset
// sources.
const templatesDirName = "templates"

// DiscoverSources walks root, returning one SourceFile per file found,
// split between markdown content and opaque assets by extension.
func DiscoverSources(root string) ([]*SourceFile, error) {
	var out []*SourceFile
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && d.Name() == templatesDirName {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out = append(out, &SourceFile{
			Path:    filepath.ToSlash(rel),
			AbsPath: path,
			Data:    data,
			IsAsset: !markdownExtensions[strings.ToLower(filepath.Ext(path))],
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// RouteForSource derives a served route from a markdown source's
// relative path: strips the extension, maps `index` basenames to their
// directory, and always starts with "/" (mirrors rewriteLinkDestination
// in internal/content, which assumes the same convention for `.md`
// cross-references).
func RouteForSource(relPath string) string {
	route := strings.TrimSuffix(relPath, filepath.Ext(relPath))
	route = strings.TrimSuffix(route, "/index")
	if route == "index" {
		route = ""
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	if route != "/" {
		route = strings.TrimSuffix(route, "/")
	}
	if route == "" {
		route = "/"
	}
	return route
}

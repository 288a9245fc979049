package content

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// documentHash produces a stable content hash of a Document's rendered
// fields, used for the query engine's early-cutoff comparison (spec.md
// §4.F step 4): if a rebuilt Document hashes equal to the prior one,
// dependents are not recomputed.
func documentHash(d *Document) uint64 {
	var b strings.Builder
	b.WriteString(d.RawMetadata)
	b.WriteByte(0)
	b.WriteString(d.HTML)
	b.WriteByte(0)
	for _, h := range d.Headings {
		fmt.Fprintf(&b, "h:%d:%s:%s;", h.Level, h.ID, h.Title)
	}
	for _, r := range d.Rules {
		fmt.Fprintf(&b, "r:%s;", r.Name)
	}
	for _, f := range d.Fences {
		fmt.Fprintf(&b, "f:%d:%s:%s;", f.Index, f.Language, f.Code)
	}
	return xxhash.Sum64String(b.String())
}

// hashBytes is the shared content-hashing primitive used for asset
// addressing and source-file change detection.
func hashBytes(b []byte) uint64 {
	return xxhash.Sum64(b)
}

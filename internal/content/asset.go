package content

import (
	"fmt"
	"path"
	"strings"
)

// HashedAsset is the result of hash_asset (spec.md §4.G): a
// content-addressed filename suffix plus the public name to serve it
// under.
type HashedAsset struct {
	ContentHash uint64
	PublicName  string
}

// HashAsset produces a cache-busted public name for originalName's
// bytes, unless originalName is in stableNames, in which case it keeps
// its original name (spec.md §4.G, "Stable assets retain their original
// names").
func HashAsset(originalName string, data []byte, stableNames []string) HashedAsset {
	hash := hashBytes(data)
	if isStableAssetName(originalName, stableNames) {
		return HashedAsset{ContentHash: hash, PublicName: originalName}
	}

	ext := path.Ext(originalName)
	base := strings.TrimSuffix(originalName, ext)
	return HashedAsset{
		ContentHash: hash,
		PublicName:  fmt.Sprintf("%s.%016x%s", base, hash, ext),
	}
}

func isStableAssetName(name string, stableNames []string) bool {
	for _, s := range stableNames {
		if s == name {
			return true
		}
	}
	return false
}

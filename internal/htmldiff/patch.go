package htmldiff

// PatchOp names the operation kind; the wire encoding (binary, §6) maps
// each to a small integer tag.
type PatchOp int

const (
	OpSetText PatchOp = iota
	OpSetAttribute
	OpRemoveAttribute
	OpRemove
	OpReplace
	OpReplaceInnerHtml
	OpInsertBefore
	OpAppendChild
)

// Patch is one edit against the old tree. Path is the child-index
// sequence from the root (e.g. [2, 0] means "root's 3rd child's 1st
// child"), stable across the whole diff pass (§4.I).
type Patch struct {
	Op    PatchOp
	Path  []int
	Text  string
	Attr  string
	Value string
	HTML  string
}

// maxReasonablePatches bounds how large a patch list can get before the
// live-update server prefers a full Reload over shipping a forest of
// small edits (§4.J "patch list exceeds a threshold").
const maxReasonablePatches = 200

// Diff produces the patch list that transforms oldTree into newTree.
func Diff(oldTree, newTree *Node) []Patch {
	var patches []Patch
	diffNode(oldTree, newTree, nil, &patches)
	return dedupe(patches)
}

// TooLargeForPatching reports whether a patch list should be replaced
// by a full-page Reload instruction instead (§4.J backpressure rule).
func TooLargeForPatching(patches []Patch) bool {
	return len(patches) > maxReasonablePatches
}

func diffNode(oldNode, newNode *Node, path []int, out *[]Patch) {
	if oldNode.SubtreeHash == newNode.SubtreeHash {
		return
	}
	if oldNode.Kind != newNode.Kind || oldNode.Tag != newNode.Tag {
		*out = append(*out, Patch{Op: OpReplace, Path: clonePath(path), HTML: Serialize(newNode)})
		return
	}
	if oldNode.Kind == KindText {
		if oldNode.Text != newNode.Text {
			*out = append(*out, Patch{Op: OpSetText, Path: clonePath(path), Text: newNode.Text})
		}
		return
	}

	diffAttrs(oldNode, newNode, path, out)

	if reorderedBeyondRepair(oldNode.Children, newNode.Children) {
		*out = append(*out, Patch{Op: OpReplaceInnerHtml, Path: clonePath(path), HTML: serializeChildren(newNode)})
		return
	}
	diffChildren(oldNode.Children, newNode.Children, path, out)
}

func diffAttrs(oldNode, newNode *Node, path []int, out *[]Patch) {
	for _, k := range sortedAttrKeys(newNode.Attrs) {
		nv := newNode.Attrs[k]
		if ov, ok := oldNode.Attrs[k]; !ok || ov != nv {
			*out = append(*out, Patch{Op: OpSetAttribute, Path: clonePath(path), Attr: k, Value: nv})
		}
	}
	for _, k := range sortedAttrKeys(oldNode.Attrs) {
		if _, ok := newNode.Attrs[k]; !ok {
			*out = append(*out, Patch{Op: OpRemoveAttribute, Path: clonePath(path), Attr: k})
		}
	}
}

func diffChildren(oldChildren, newChildren []*Node, path []int, out *[]Patch) {
	n := len(oldChildren)
	if len(newChildren) < n {
		n = len(newChildren)
	}
	for i := 0; i < n; i++ {
		diffNode(oldChildren[i], newChildren[i], append(path, i), out)
	}
	for i := n; i < len(oldChildren); i++ {
		*out = append(*out, Patch{Op: OpRemove, Path: clonePath(append(path, i))})
	}
	for i := n; i < len(newChildren); i++ {
		if n == len(oldChildren) {
			// No old child remains at or after this position: the new
			// child lands at the tail, a pure append.
			*out = append(*out, Patch{Op: OpAppendChild, Path: clonePath(path), HTML: Serialize(newChildren[i])})
			continue
		}
		*out = append(*out, Patch{Op: OpInsertBefore, Path: clonePath(append(path, i)), HTML: Serialize(newChildren[i])})
	}
}

// reorderedBeyondRepair is a cheap heuristic for the §4.I "wholesale
// reordering detected" fallback: if most of the new children's hashes
// exist somewhere in the old set but at different positions, a
// positional diff would emit more patches than just replacing the
// subtree's inner HTML outright.
func reorderedBeyondRepair(oldChildren, newChildren []*Node) bool {
	if len(oldChildren) < 4 || len(newChildren) < 4 {
		return false
	}
	oldHashes := make(map[uint64]int, len(oldChildren))
	for i, c := range oldChildren {
		oldHashes[c.SubtreeHash] = i
	}
	moved := 0
	matched := 0
	for i, c := range newChildren {
		if oldIdx, ok := oldHashes[c.SubtreeHash]; ok {
			matched++
			if oldIdx != i {
				moved++
			}
		}
	}
	return matched > 0 && moved*2 > matched
}

func serializeChildren(n *Node) string {
	var b []byte
	for _, c := range n.Children {
		b = append(b, Serialize(c)...)
	}
	return string(b)
}

func clonePath(path []int) []int {
	out := make([]int, len(path))
	copy(out, path)
	return out
}

// dedupe applies §4.I's rules: a ReplaceInnerHtml drops every patch
// targeting a descendant path, and a SetAttribute drops any
// RemoveAttribute for the same (path, name).
func dedupe(patches []Patch) []Patch {
	replacedPrefixes := make([][]int, 0)
	for _, p := range patches {
		if p.Op == OpReplaceInnerHtml || p.Op == OpReplace {
			replacedPrefixes = append(replacedPrefixes, p.Path)
		}
	}
	setAttrs := make(map[string]bool)
	for _, p := range patches {
		if p.Op == OpSetAttribute {
			setAttrs[pathKey(p.Path)+"\x00"+p.Attr] = true
		}
	}

	var out []Patch
	for _, p := range patches {
		if p.Op == OpRemoveAttribute && setAttrs[pathKey(p.Path)+"\x00"+p.Attr] {
			continue
		}
		if isDescendantOfAny(p, replacedPrefixes) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func isDescendantOfAny(p Patch, prefixes [][]int) bool {
	for _, prefix := range prefixes {
		if isStrictDescendantPath(p.Path, prefix) {
			return true
		}
	}
	return false
}

func isStrictDescendantPath(path, prefix []int) bool {
	if len(path) <= len(prefix) {
		return false
	}
	for i, v := range prefix {
		if path[i] != v {
			return false
		}
	}
	return true
}

func pathKey(path []int) string {
	var b []byte
	for _, i := range path {
		b = append(b, byte(i), 0)
	}
	return string(b)
}

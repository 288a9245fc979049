package htmldiff

// WirePatch is the JSON-serializable form of a Patch sent to the
// browser over the live-update WebSocket tunnel (internal/live). Field
// names are short since this rides the wire on every hot-reload.
type WirePatch struct {
	Op    string `json:"op"`
	Path  []int  `json:"path"`
	Text  string `json:"text,omitempty"`
	Attr  string `json:"attr,omitempty"`
	Value string `json:"value,omitempty"`
	HTML  string `json:"html,omitempty"`
}

var opNames = map[PatchOp]string{
	OpSetText:          "set_text",
	OpSetAttribute:     "set_attribute",
	OpRemoveAttribute:  "remove_attribute",
	OpRemove:           "remove",
	OpReplace:          "replace",
	OpReplaceInnerHtml: "replace_inner_html",
	OpInsertBefore:     "insert_before",
	OpAppendChild:      "append_child",
}

// ToWire converts patches into their wire representation.
func ToWire(patches []Patch) []WirePatch {
	out := make([]WirePatch, len(patches))
	for i, p := range patches {
		out[i] = WirePatch{
			Op: opNames[p.Op], Path: p.Path, Text: p.Text, Attr: p.Attr,
			Value: p.Value, HTML: p.HTML,
		}
	}
	return out
}

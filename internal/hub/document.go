package hub

import (
	"bytes"
	"encoding/json"
)

// Document is the single shared editable value. It has no history: every
// content change replaces it wholesale.
type Document struct {
	content json.RawMessage
}

// NewDocument creates an unset document.
func NewDocument() *Document {
	return &Document{}
}

// Replace overwrites the content verbatim.
func (d *Document) Replace(content json.RawMessage) {
	d.content = bytes.Clone(content)
}

// Content returns the current content, or JSON null while unset.
func (d *Document) Content() json.RawMessage {
	if len(d.content) == 0 {
		return json.RawMessage("null")
	}
	return d.content
}

package hub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// MessageType is the tag carried in the "type" field of every envelope.
type MessageType string

const (
	// TypeUserEvent announces or updates the sender's identity.
	TypeUserEvent MessageType = "userevent"

	// TypeContentChange replaces the shared document.
	TypeContentChange MessageType = "contentchange"
)

// ErrMalformedMessage is returned by Decode when raw is not a valid envelope.
var ErrMalformedMessage = errors.New("malformed message")

// Message is one decoded inbound envelope: UserEvent, ContentChange or
// Unknown.
type Message interface {
	Type() MessageType
}

// UserEvent is sent by a client to identify itself.
type UserEvent struct {
	Username string

	// Payload is the whole envelope as sent, additional fields included.
	Payload json.RawMessage
}

// Type implements Message.
func (UserEvent) Type() MessageType { return TypeUserEvent }

// ContentChange carries the new document content.
type ContentChange struct {
	Content json.RawMessage
}

// Type implements Message.
func (ContentChange) Type() MessageType { return TypeContentChange }

// Unknown is any envelope with a tag the hub does not handle.
type Unknown struct {
	Tag MessageType
}

// Type implements Message.
func (u Unknown) Type() MessageType { return u.Tag }

// Envelope keys, matched case-sensitively.
const (
	keyType     = "type"
	keyUsername = "username"
	keyContent  = "content"
)

// Decode parses a raw client frame into a Message.
func Decode(raw []byte) (Message, error) {
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("%w: invalid UTF-8", ErrMalformedMessage)
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedMessage)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var tag MessageType
	if rawTag, ok := fields[keyType]; ok {
		if err := json.Unmarshal(rawTag, &tag); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
	}

	switch tag {
	case TypeUserEvent:
		rawName := fields[keyUsername]
		if len(rawName) == 0 || rawName[0] != '"' {
			return nil, fmt.Errorf("%w: userevent requires a string username", ErrMalformedMessage)
		}
		var username string
		if err := json.Unmarshal(rawName, &username); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
		return UserEvent{Username: username, Payload: bytes.Clone(trimmed)}, nil
	case TypeContentChange:
		return ContentChange{Content: bytes.Clone(fields[keyContent])}, nil
	default:
		return Unknown{Tag: tag}, nil
	}
}

// Snapshot is the payload fanned out to every open connection after an
// accepted event.
type Snapshot struct {
	Type MessageType `json:"type"`
	Data any         `json:"data"`
}

// UserEventData is the snapshot body for user joins, re-identifications and
// departures.
type UserEventData struct {
	Users        Participants `json:"users"`
	UserActivity []string     `json:"userActivity"`
}

// ContentChangeData is the snapshot body for document replacements.
type ContentChangeData struct {
	EditorContent json.RawMessage `json:"editorContent"`
	UserActivity  []string        `json:"userActivity"`
}

// Encode serializes the snapshot.
func (s Snapshot) Encode() ([]byte, error) {
	return json.Marshal(s)
}

package hub

import (
	"bytes"
	"encoding/json"
	"slices"

	"github.com/samber/lo"
)

// Participant is the identity a connection announced with its latest user
// event.
type Participant struct {
	ID          ConnectionID
	DisplayName string

	// Payload is the user event exactly as the client sent it.
	Payload json.RawMessage
}

// Participants is an insertion-ordered list of participants. It marshals to a
// JSON object keyed by connection id whose keys keep that order.
type Participants []Participant

// MarshalJSON implements json.Marshaler.
func (ps Participants) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range ps {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(p.ID))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		if len(p.Payload) == 0 {
			buf.WriteString("null")
			continue
		}
		buf.Write(p.Payload)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Directory maps connection ids to their last-known participant profile and
// keeps the append-only activity log. Only the hub loop touches it.
type Directory struct {
	participants map[ConnectionID]Participant
	order        []ConnectionID
	activity     []string
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{participants: make(map[ConnectionID]Participant)}
}

// Upsert inserts or overwrites the participant stored under id. An
// overwritten entry keeps its original position.
func (d *Directory) Upsert(id ConnectionID, p Participant) {
	if _, ok := d.participants[id]; !ok {
		d.order = append(d.order, id)
	}
	p.ID = id
	d.participants[id] = p
}

// Remove deletes id and returns the participant it held.
func (d *Directory) Remove(id ConnectionID) (Participant, bool) {
	p, ok := d.participants[id]
	if !ok {
		return Participant{}, false
	}
	delete(d.participants, id)
	d.order = slices.DeleteFunc(d.order, func(other ConnectionID) bool { return other == id })
	return p, true
}

// All returns every participant in insertion order.
func (d *Directory) All() Participants {
	return lo.Map(d.order, func(id ConnectionID, _ int) Participant { return d.participants[id] })
}

// Len returns the number of participants.
func (d *Directory) Len() int {
	return len(d.participants)
}

// AppendActivity appends text to the activity log.
func (d *Directory) AppendActivity(text string) {
	d.activity = append(d.activity, text)
}

// Activity returns a copy of the activity log in append order. It is never
// nil so it always serializes as a JSON array.
func (d *Directory) Activity() []string {
	out := make([]string, len(d.activity))
	copy(out, d.activity)
	return out
}

package domain

import (
	"fmt"
	"time"
)

// OpKind names the lifecycle transition an event records.
type OpKind string

const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Valid reports whether k is one of the known kinds.
func (k OpKind) Valid() bool {
	switch k {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// ParseOpKind converts a persisted kind back into an OpKind.
func ParseOpKind(s string) (OpKind, error) {
	k := OpKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown op kind %q", s)
	}
	return k, nil
}

// Fields maps field names to values. Values are JSON scalars as decoded by encoding/json.
type Fields map[string]any

// Clone returns a shallow copy; nil stays empty but non-nil.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Event is an immutable fact appended to an entity's log.
// Sequence is assigned by the event log; VersionAfter always equals Sequence.
type Event struct {
	EntityID     string    `json:"entity_id"`
	Sequence     int64     `json:"sequence"`
	VersionAfter int64     `json:"version_after"`
	Kind         OpKind    `json:"op_kind"`
	Changes      Fields    `json:"changes"`
	Actor        string    `json:"actor,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Draft describes an event before the log assigns its sequence and timestamp.
type Draft struct {
	EntityID string
	Kind     OpKind
	Changes  Fields
	Actor    string
}

// Seal turns a draft into an event at the given sequence.
func (d Draft) Seal(sequence int64, at time.Time) Event {
	return Event{
		EntityID:     d.EntityID,
		Sequence:     sequence,
		VersionAfter: sequence,
		Kind:         d.Kind,
		Changes:      d.Changes.Clone(),
		Actor:        d.Actor,
		Timestamp:    at,
	}
}

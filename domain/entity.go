package domain

import "time"

// Entity is the state of a record reconstructed from its event log.
type Entity struct {
	ID        string    `json:"id"`
	Version   int64     `json:"version"`
	Deleted   bool      `json:"deleted"`
	Fields    Fields    `json:"fields"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Exists reports whether at least one event has been folded into e.
func (e Entity) Exists() bool {
	return e.Version > 0
}

// Active reports whether e exists and carries no tombstone.
func (e Entity) Active() bool {
	return e.Exists() && !e.Deleted
}

// Apply folds a single event onto e and returns the resulting state.
// e is left untouched.
func (e Entity) Apply(ev Event) Entity {
	next := Entity{
		ID:        e.ID,
		Version:   ev.VersionAfter,
		Deleted:   e.Deleted,
		Fields:    e.Fields.Clone(),
		CreatedAt: e.CreatedAt,
		UpdatedAt: ev.Timestamp,
	}
	if next.ID == "" {
		next.ID = ev.EntityID
	}
	if next.CreatedAt.IsZero() {
		next.CreatedAt = ev.Timestamp
	}
	for k, v := range ev.Changes {
		next.Fields[k] = v
	}
	if ev.Kind == OpDelete {
		next.Deleted = true
	}
	return next
}

package domain

import (
	"sort"
	"time"
)

// FieldWrite is the latest committed write to one field.
type FieldWrite struct {
	Value     any
	Timestamp time.Time
	Sequence  int64
}

// LatestWrites maps every field touched by events to the write of the latest event that touched it.
func LatestWrites(events []Event) map[string]FieldWrite {
	out := make(map[string]FieldWrite)
	for _, ev := range events {
		for k, v := range ev.Changes {
			out[k] = FieldWrite{Value: v, Timestamp: ev.Timestamp, Sequence: ev.Sequence}
		}
	}
	return out
}

// Resolution is the outcome of merging a proposed change against missed writes.
type Resolution struct {
	Changes Fields
	// Kept lists proposed fields that lost to a committed write, sorted by name.
	Kept []string
}

// ResolveLWW merges proposed changes, stamped at proposedAt, against writes the proposer
// did not see. For a field written on both sides the later timestamp wins and a tie keeps
// the committed write. Fields only in proposed pass through; fields only in missed are
// not part of the result.
func ResolveLWW(proposed Fields, proposedAt time.Time, missed map[string]FieldWrite) Resolution {
	res := Resolution{Changes: make(Fields, len(proposed))}
	for k, v := range proposed {
		w, ok := missed[k]
		if ok && !proposedAt.After(w.Timestamp) {
			res.Changes[k] = w.Value
			res.Kept = append(res.Kept, k)
			continue
		}
		res.Changes[k] = v
	}
	sort.Strings(res.Kept)
	return res
}

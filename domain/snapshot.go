package domain

import "fmt"

// Build folds an ordered event sequence into the entity state it produces.
// It is pure: the same events always yield the same entity.
func Build(events []Event) Entity {
	return BuildAsOf(events, 0)
}

// BuildAsOf folds events up to and including version asOf. A non-positive asOf folds
// the whole sequence. Events must be ordered by Sequence.
func BuildAsOf(events []Event, asOf int64) Entity {
	entity := Entity{Fields: Fields{}}
	for _, ev := range events {
		if asOf > 0 && ev.VersionAfter > asOf {
			break
		}
		entity = entity.Apply(ev)
	}
	return entity
}

// VerifyHistory checks the structural invariants of one entity's log: a single
// create at version 1, versions increasing by exactly one, one entity id.
func VerifyHistory(events []Event) error {
	for i, ev := range events {
		want := int64(i + 1)
		if ev.Sequence != want || ev.VersionAfter != want {
			return fmt.Errorf("event %d of %s: sequence %d version_after %d, want %d",
				i, ev.EntityID, ev.Sequence, ev.VersionAfter, want)
		}
		if ev.EntityID != events[0].EntityID {
			return fmt.Errorf("event %d belongs to %s, want %s", i, ev.EntityID, events[0].EntityID)
		}
		if (i == 0) != (ev.Kind == OpCreate) {
			return fmt.Errorf("event %d of %s has kind %s", i, ev.EntityID, ev.Kind)
		}
	}
	return nil
}

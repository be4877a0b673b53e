package uniques

import (
	"fmt"
	"sort"

	"SiteSpectra/internal/estimator"
	"SiteSpectra/internal/model"
)

const (
	// IngestCap bounds the exact id list stored inside a rollup
	// document. Kept small because every ingest transaction rewrites
	// the list.
	IngestCap = 5_000

	// QueryCap bounds the exact set built while merging documents at
	// query time, where the set only lives for one request.
	QueryCap = 20_000
)

// Accumulator tracks distinct identifiers either exactly, in a bounded
// set, or approximately, in an estimator sketch. Promotion from exact
// to sketch happens once the set outgrows the cap and is irreversible:
// there is no path back from a sketch to a set.
type Accumulator struct {
	cap    int
	exact  map[string]struct{}
	sketch *estimator.Sketch
}

// New returns an empty exact accumulator with the given promotion cap.
func New(capacity int) *Accumulator {
	return &Accumulator{
		cap:   capacity,
		exact: make(map[string]struct{}),
	}
}

// FromRollup reconstructs the accumulator persisted in a rollup
// document. Documents carrying a sketch yield a sketch accumulator;
// everything else yields an exact one seeded with the stored id list.
func FromRollup(doc *model.RollupDoc, capacity int) (*Accumulator, error) {
	if doc.Sketch != "" {
		s, err := estimator.Deserialize(doc.Sketch)
		if err != nil {
			return nil, fmt.Errorf("failed to restore sketch for %s %s: %w", doc.Site, doc.Path, err)
		}
		return &Accumulator{cap: capacity, sketch: s}, nil
	}
	a := New(capacity)
	for _, id := range doc.ExactIDs {
		a.exact[id] = struct{}{}
	}
	return a, nil
}

// Promoted reports whether the accumulator has switched to a sketch.
func (a *Accumulator) Promoted() bool {
	return a.sketch != nil
}

// AddValues folds identifiers in. If the exact set crosses the cap
// mid-iteration the accumulator promotes and the remaining ids go
// straight into the sketch.
func (a *Accumulator) AddValues(ids ...string) {
	for _, id := range ids {
		if a.sketch != nil {
			a.sketch.Add(id)
			continue
		}
		a.exact[id] = struct{}{}
		if len(a.exact) >= a.cap {
			a.promote()
		}
	}
}

// AddSketch merges a serialized sketch in, promoting first if the
// accumulator is still exact so the existing members are not lost.
func (a *Accumulator) AddSketch(encoded string) error {
	other, err := estimator.Deserialize(encoded)
	if err != nil {
		return err
	}
	if a.sketch == nil {
		a.promote()
	}
	a.sketch.Merge(other)
	return nil
}

// Merge folds another accumulator in. The operation is commutative and
// associative up to estimator error, so callers may merge documents in
// any order.
func (a *Accumulator) Merge(other *Accumulator) {
	if other.sketch != nil {
		if a.sketch == nil {
			a.promote()
		}
		a.sketch.Merge(other.sketch)
		return
	}
	for id := range other.exact {
		a.AddValues(id)
	}
}

// Count returns the exact set size, or the sketch estimate once
// promoted.
func (a *Accumulator) Count() uint64 {
	if a.sketch != nil {
		return a.sketch.Count()
	}
	return uint64(len(a.exact))
}

// promote builds a sketch from every exact member and discards the set.
func (a *Accumulator) promote() {
	s := estimator.New()
	for id := range a.exact {
		s.Add(id)
	}
	a.sketch = s
	a.exact = nil
}

// ApplyTo writes the accumulator state back into a rollup document,
// keeping the exact-list and sketch fields mutually exclusive: a
// promoted accumulator clears the id list in the same write that sets
// the sketch.
func (a *Accumulator) ApplyTo(doc *model.RollupDoc) {
	doc.Uniques = a.Count()
	if a.sketch != nil {
		doc.Sketch = a.sketch.Serialize()
		doc.ExactIDs = nil
		return
	}
	ids := make([]string, 0, len(a.exact))
	for id := range a.exact {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	doc.ExactIDs = ids
	doc.Sketch = ""
}

package memstore

import (
	"context"
	"sync"
	"time"

	"SiteSpectra/internal/model"
)

// RollupStore is an in-memory implementation of model.RollupStore. A
// single mutex plays the role of the per-document transaction: updates
// of one document serialize, and Compact commits its whole batch or
// nothing. Used as the hermetic backend in tests and for local
// development.
type RollupStore struct {
	mu   sync.Mutex
	docs map[string]*model.RollupDoc
}

// NewRollupStore creates an empty in-memory rollup store.
func NewRollupStore() *RollupStore {
	return &RollupStore{docs: make(map[string]*model.RollupDoc)}
}

func cloneDoc(d *model.RollupDoc) *model.RollupDoc {
	c := *d
	if d.ExactIDs != nil {
		c.ExactIDs = append([]string(nil), d.ExactIDs...)
	}
	return &c
}

func newDoc(key model.RollupKey) *model.RollupDoc {
	return &model.RollupDoc{
		Site:        key.Site,
		Path:        key.Path,
		Bucket:      key.Bucket.UTC(),
		Granularity: key.Granularity,
		ExactIDs:    []string{},
	}
}

// Update applies fn to the document for key under the store lock,
// creating it on first write. fn sees a private copy; the store state
// only changes if fn succeeds.
func (s *RollupStore) Update(ctx context.Context, key model.RollupKey, fn func(doc *model.RollupDoc) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := key.ID()
	doc, ok := s.docs[id]
	if !ok {
		doc = newDoc(key)
	}
	work := cloneDoc(doc)
	if err := fn(work); err != nil {
		return err
	}
	work.UpdatedAt = time.Now().UTC()
	s.docs[id] = work
	return nil
}

// InRange returns copies of every matching document, so callers can
// never mutate stored state through a query result.
func (s *RollupStore) InRange(ctx context.Context, site string, g model.Granularity, from, to time.Time, path string) ([]*model.RollupDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.RollupDoc
	for _, doc := range s.docs {
		if doc.Site != site || doc.Granularity != g {
			continue
		}
		if doc.Bucket.Before(from) || doc.Bucket.After(to) {
			continue
		}
		if path == "" {
			if doc.Path == model.WildcardPath {
				continue
			}
		} else if doc.Path != path {
			continue
		}
		out = append(out, cloneDoc(doc))
	}
	return out, nil
}

func (s *RollupStore) Uncompacted(ctx context.Context, g model.Granularity, cutoff time.Time, limit int) ([]*model.RollupDoc, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.RollupDoc
	for _, doc := range s.docs {
		if doc.Granularity != g || !doc.Bucket.Before(cutoff) {
			continue
		}
		if g == model.GranularityMinute && doc.CompactedHour {
			continue
		}
		if g == model.GranularityHour && doc.CompactedDay {
			continue
		}
		out = append(out, cloneDoc(doc))
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// Compact folds into the target document and flags every source, all
// under one lock acquisition so a crash between the two halves is not
// observable.
func (s *RollupStore) Compact(ctx context.Context, target model.RollupKey, fn func(doc *model.RollupDoc) error, sources []model.RollupKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := target.ID()
	doc, ok := s.docs[id]
	if !ok {
		doc = newDoc(target)
	}
	work := cloneDoc(doc)
	if err := fn(work); err != nil {
		return err
	}
	work.UpdatedAt = time.Now().UTC()
	s.docs[id] = work

	for _, src := range sources {
		srcDoc, ok := s.docs[src.ID()]
		if !ok {
			continue
		}
		switch target.Granularity {
		case model.GranularityHour:
			srcDoc.CompactedHour = true
		case model.GranularityDay:
			srcDoc.CompactedDay = true
		}
	}
	return nil
}

// EventStore is an in-memory implementation of model.EventStore.
type EventStore struct {
	mu     sync.Mutex
	events []*model.Event
}

// NewEventStore creates an empty in-memory event log.
func NewEventStore() *EventStore {
	return &EventStore{}
}

func (s *EventStore) Append(ctx context.Context, ev *model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *ev
	s.events = append(s.events, &copied)
	return nil
}

func (s *EventStore) ActiveSessions(ctx context.Context, site string, since time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for _, ev := range s.events {
		if ev.Site == site && !ev.Timestamp.Before(since) {
			seen[ev.SessionID] = struct{}{}
		}
	}
	return int64(len(seen)), nil
}

// Len reports the number of stored events.
func (s *EventStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

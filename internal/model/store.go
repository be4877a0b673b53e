package model

import (
	"context"
	"time"
)

// RollupStore is the contract every rollup backend must satisfy. The
// ingestion, query and compaction pipelines only ever talk to rollups
// through this interface, so backends can be swapped by configuration.
type RollupStore interface {
	// Update runs fn against the document for key inside a per-document
	// transaction, creating the document (views=0, empty exact list, no
	// sketch) on first write. Concurrent updates of the same document
	// serialize through the transaction; write conflicts are retried
	// internally before surfacing as ErrTransientStore.
	Update(ctx context.Context, key RollupKey, fn func(doc *RollupDoc) error) error

	// InRange returns every document of the given granularity whose
	// bucket lies in [from, to]. path selects a single rollup series
	// (a concrete path or WildcardPath); an empty path returns every
	// non-wildcard series, as needed for top-path grouping.
	InRange(ctx context.Context, site string, g Granularity, from, to time.Time, path string) ([]*RollupDoc, error)

	// Uncompacted returns up to limit documents of granularity g with
	// bucket before cutoff that have not yet been folded into the next
	// granularity up.
	Uncompacted(ctx context.Context, g Granularity, cutoff time.Time, limit int) ([]*RollupDoc, error)

	// Compact atomically folds into the target document via fn and
	// flags every source document as consumed at the target's
	// granularity. Either all writes commit or none do.
	Compact(ctx context.Context, target RollupKey, fn func(doc *RollupDoc) error, sources []RollupKey) error
}

// EventStore is the append-only event log. It is written once per
// accepted ingest and read only by the active-users query.
type EventStore interface {
	Append(ctx context.Context, ev *Event) error

	// ActiveSessions counts distinct session ids for the site seen
	// since the given instant.
	ActiveSessions(ctx context.Context, site string, since time.Time) (int64, error)
}

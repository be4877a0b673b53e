package model

import (
	"fmt"
	"time"
)

// WildcardPath is the rollup path that aggregates every path of a site.
const WildcardPath = "__all__"

// Granularity is the time-bucket width of a rollup document.
type Granularity string

const (
	GranularityMinute Granularity = "minute"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
)

// Step returns the bucket width as a duration.
func (g Granularity) Step() time.Duration {
	switch g {
	case GranularityHour:
		return time.Hour
	case GranularityDay:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Floor aligns t down to the start of the bucket containing it, in UTC.
func (g Granularity) Floor(t time.Time) time.Time {
	return t.UTC().Truncate(g.Step())
}

// Next returns the granularity a compaction pass folds this one into,
// or "" for day, which is the coarsest level.
func (g Granularity) Next() Granularity {
	switch g {
	case GranularityMinute:
		return GranularityHour
	case GranularityHour:
		return GranularityDay
	}
	return ""
}

// Event holds a single pageview as reported by client instrumentation.
// Events are append-only; once written they are never mutated.
type Event struct {
	Site      string            `json:"site"`
	Timestamp time.Time         `json:"timestamp"`
	AnonID    string            `json:"anon_id"`
	SessionID string            `json:"session_id"`
	URL       string            `json:"url,omitempty"`
	Path      string            `json:"path"`
	Referrer  string            `json:"referrer,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// RollupKey identifies one rollup document.
type RollupKey struct {
	Site        string
	Path        string // a concrete path or WildcardPath
	Bucket      time.Time
	Granularity Granularity
}

// RollupDoc is the persisted pre-aggregate for one (site, path, bucket,
// granularity) combination. The unique-visitor state is either ExactIDs
// or Sketch, never both: once Sketch is set, ExactIDs must be absent
// from the store, and the transition is irreversible. The compaction
// flags are likewise monotonic, set once and never cleared.
type RollupDoc struct {
	Site        string
	Path        string
	Bucket      time.Time
	Granularity Granularity

	Views    uint64
	ExactIDs []string
	Sketch   string // serialized estimator registers, "" while exact
	Uniques  uint64 // cached count, recomputed on every write

	CompactedHour bool
	CompactedDay  bool

	UpdatedAt time.Time
}

// ID renders the key as the deterministic document id used by every
// backend. The path goes last so ids stay unambiguous even though paths
// may contain the separator.
func (k RollupKey) ID() string {
	return fmt.Sprintf("%s|%s|%d|%s", k.Site, k.Granularity, k.Bucket.UTC().UnixMilli(), k.Path)
}

// Key returns the document's identifying key.
func (d *RollupDoc) Key() RollupKey {
	return RollupKey{Site: d.Site, Path: d.Path, Bucket: d.Bucket, Granularity: d.Granularity}
}

package query

import (
	"context"
	"fmt"
	"sort"
	"time"

	"SiteSpectra/internal/model"
	"SiteSpectra/internal/uniques"
)

const (
	// DefaultWindow is used when a caller supplies no window or one
	// that does not parse.
	DefaultWindow = 24 * time.Hour

	// ActiveWindow is the trailing window behind "active users now".
	ActiveWindow = 5 * time.Minute

	summaryTopLimit = 5
)

// ParseWindow turns a duration string like "24h" or "15m" into a
// window, falling back to DefaultWindow when the string is empty or
// unparseable.
func ParseWindow(s string) time.Duration {
	if s == "" {
		return DefaultWindow
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return DefaultWindow
	}
	return d
}

// AutoGranularity picks the timeseries bucket width for a window:
// minute up to two hours, hour up to two days, day beyond that.
func AutoGranularity(window time.Duration) model.Granularity {
	switch {
	case window <= 2*time.Hour:
		return model.GranularityMinute
	case window <= 48*time.Hour:
		return model.GranularityHour
	default:
		return model.GranularityDay
	}
}

// PathCount is one entry of a top-paths ranking.
type PathCount struct {
	Path    string `json:"path"`
	Views   uint64 `json:"views"`
	Uniques uint64 `json:"uniques"`
}

// Summary is the aggregate answer for one site and window.
type Summary struct {
	Site           string      `json:"site"`
	WindowMs       int64       `json:"window_ms"`
	Pageviews      uint64      `json:"pageviews"`
	UniqueUsers    uint64      `json:"unique_users"`
	TopPaths       []PathCount `json:"top_paths"`
	ActiveUsersNow int64       `json:"active_users_now"`
}

// Bucket is one point of a timeseries.
type Bucket struct {
	BucketStart time.Time `json:"bucket_start"`
	Views       uint64    `json:"views"`
	Uniques     uint64    `json:"uniques"`
}

// Timeseries is a gap-free series of buckets covering a whole window.
type Timeseries struct {
	Site        string            `json:"site"`
	Granularity model.Granularity `json:"granularity"`
	Buckets     []Bucket          `json:"buckets"`
}

// Live is the raw per-minute view of the trailing window.
type Live struct {
	Site           string   `json:"site"`
	Buckets        []Bucket `json:"buckets"`
	ActiveUsersNow int64    `json:"active_users_now"`
}

// Querier answers analytics queries by merging rollup documents. It
// never rescans raw events except for the active-users count.
type Querier struct {
	rollups model.RollupStore
	events  model.EventStore
	now     func() time.Time
}

// New creates a querier over the given stores.
func New(rollups model.RollupStore, events model.EventStore) *Querier {
	return &Querier{rollups: rollups, events: events, now: time.Now}
}

// mergeDocs folds the unique-visitor state of every document into one
// accumulator. Merging is commutative and associative, so the result
// does not depend on the order the store returned the documents.
func mergeDocs(docs []*model.RollupDoc) (uint64, *uniques.Accumulator, error) {
	views := uint64(0)
	acc := uniques.New(uniques.QueryCap)
	for _, doc := range docs {
		views += doc.Views
		if doc.Sketch != "" {
			if err := acc.AddSketch(doc.Sketch); err != nil {
				return 0, nil, fmt.Errorf("document %s: %w", doc.Key().ID(), err)
			}
			continue
		}
		acc.AddValues(doc.ExactIDs...)
	}
	return views, acc, nil
}

func seriesPath(path string) string {
	if path == "" {
		return model.WildcardPath
	}
	return path
}

// Summary sums views and merges uniques across every minute bucket in
// the window, and attaches the top paths and the active-now count.
func (q *Querier) Summary(ctx context.Context, site string, window time.Duration, path string) (*Summary, error) {
	now := q.now().UTC()
	from := now.Add(-window)

	docs, err := q.rollups.InRange(ctx, site, model.GranularityMinute, from, now, seriesPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load summary rollups: %w", err)
	}
	views, acc, err := mergeDocs(docs)
	if err != nil {
		return nil, err
	}

	top, err := q.Top(ctx, site, window, "", summaryTopLimit)
	if err != nil {
		return nil, err
	}
	active, err := q.events.ActiveSessions(ctx, site, now.Add(-ActiveWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to count active users: %w", err)
	}

	return &Summary{
		Site:           site,
		WindowMs:       window.Milliseconds(),
		Pageviews:      views,
		UniqueUsers:    acc.Count(),
		TopPaths:       top,
		ActiveUsersNow: active,
	}, nil
}

// Timeseries returns one bucket per step across the whole window,
// zero-filled where no rollup exists, so charts never show gaps.
func (q *Querier) Timeseries(ctx context.Context, site string, window time.Duration, path string, g model.Granularity) (*Timeseries, error) {
	if g == "" {
		g = AutoGranularity(window)
	}
	now := q.now().UTC()
	from := g.Floor(now.Add(-window))
	last := g.Floor(now)

	docs, err := q.rollups.InRange(ctx, site, g, from, now, seriesPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load timeseries rollups: %w", err)
	}

	byBucket := make(map[int64]*Bucket)
	for _, doc := range docs {
		b := byBucket[doc.Bucket.UnixMilli()]
		if b == nil {
			b = &Bucket{BucketStart: doc.Bucket}
			byBucket[doc.Bucket.UnixMilli()] = b
		}
		b.Views += doc.Views
		b.Uniques += doc.Uniques
	}

	step := g.Step()
	buckets := make([]Bucket, 0, int(last.Sub(from)/step)+1)
	for t := from; !t.After(last); t = t.Add(step) {
		if b, ok := byBucket[t.UnixMilli()]; ok {
			buckets = append(buckets, *b)
		} else {
			buckets = append(buckets, Bucket{BucketStart: t})
		}
	}

	return &Timeseries{Site: site, Granularity: g, Buckets: buckets}, nil
}

// Live returns the raw minute buckets of the window, without
// re-bucketing, plus the active-now count.
func (q *Querier) Live(ctx context.Context, site string, window time.Duration, path string) (*Live, error) {
	now := q.now().UTC()
	docs, err := q.rollups.InRange(ctx, site, model.GranularityMinute, now.Add(-window), now, seriesPath(path))
	if err != nil {
		return nil, fmt.Errorf("failed to load live rollups: %w", err)
	}

	buckets := make([]Bucket, 0, len(docs))
	for _, doc := range docs {
		buckets = append(buckets, Bucket{BucketStart: doc.Bucket, Views: doc.Views, Uniques: doc.Uniques})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].BucketStart.Before(buckets[j].BucketStart) })

	active, err := q.events.ActiveSessions(ctx, site, now.Add(-ActiveWindow))
	if err != nil {
		return nil, fmt.Errorf("failed to count active users: %w", err)
	}

	return &Live{Site: site, Buckets: buckets, ActiveUsersNow: active}, nil
}

// Top groups the window's non-wildcard minute rollups by path, sums
// views, merges per-path uniques and returns the paths with the most
// views. A non-empty path restricts the ranking to that path alone.
func (q *Querier) Top(ctx context.Context, site string, window time.Duration, path string, limit int) ([]PathCount, error) {
	now := q.now().UTC()
	docs, err := q.rollups.InRange(ctx, site, model.GranularityMinute, now.Add(-window), now, path)
	if err != nil {
		return nil, fmt.Errorf("failed to load top-path rollups: %w", err)
	}

	byPath := make(map[string][]*model.RollupDoc)
	for _, doc := range docs {
		byPath[doc.Path] = append(byPath[doc.Path], doc)
	}

	ranked := make([]PathCount, 0, len(byPath))
	for p, group := range byPath {
		views, acc, err := mergeDocs(group)
		if err != nil {
			return nil, err
		}
		ranked = append(ranked, PathCount{Path: p, Views: views, Uniques: acc.Count()})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Views != ranked[j].Views {
			return ranked[i].Views > ranked[j].Views
		}
		return ranked[i].Path < ranked[j].Path
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// ActiveUsers counts distinct sessions in the trailing window, reading
// raw events. One session id counts as one active user.
func (q *Querier) ActiveUsers(ctx context.Context, site string, window time.Duration) (int64, error) {
	if window <= 0 {
		window = ActiveWindow
	}
	return q.events.ActiveSessions(ctx, site, q.now().UTC().Add(-window))
}

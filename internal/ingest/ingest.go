package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"SiteSpectra/internal/model"
	"SiteSpectra/internal/uniques"
)

// Field length bounds applied defensively before anything is stored.
const (
	MaxURLLen       = 2048
	MaxPathLen      = 512
	MaxReferrerLen  = 2048
	MaxUserAgentLen = 512
)

// Request is one pageview as submitted by client instrumentation.
// Timestamp is RFC 3339 and optional; it defaults to the server clock.
type Request struct {
	Site      string            `json:"site"`
	Timestamp string            `json:"timestamp,omitempty"`
	URL       string            `json:"url,omitempty"`
	Path      string            `json:"path"`
	Referrer  string            `json:"referrer,omitempty"`
	AnonID    string            `json:"anon_id"`
	SessionID string            `json:"session_id"`
	UserAgent string            `json:"user_agent,omitempty"`
	Meta      map[string]string `json:"meta,omitempty"`
}

// Result reports what an accepted ingest did. Dropped marks bot traffic
// that was acknowledged but produced no event and no rollup mutation.
type Result struct {
	Dropped bool
}

// Pipeline validates events, appends them to the event log and folds
// them into the two per-minute rollup documents (wildcard and the
// event's own path).
type Pipeline struct {
	rollups model.RollupStore
	events  model.EventStore
	now     func() time.Time
}

// New creates an ingestion pipeline over the given stores.
func New(rollups model.RollupStore, events model.EventStore) *Pipeline {
	return &Pipeline{rollups: rollups, events: events, now: time.Now}
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// Ingest processes one event. Validation fails fast with no side
// effects; after that, the event append and the two rollup
// transactions run in order. The rollup transactions are independent:
// a failure between them leaves a partial state that a client retry
// heals, since rollup updates are monotonic.
func (p *Pipeline) Ingest(ctx context.Context, req *Request) (Result, error) {
	if req.Path == "" || !strings.HasPrefix(req.Path, "/") {
		return Result{}, model.ErrInvalidPath
	}

	ts := p.now().UTC()
	if req.Timestamp != "" {
		parsed, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			return Result{}, fmt.Errorf("%w: %q", model.ErrInvalidTimestamp, req.Timestamp)
		}
		ts = parsed.UTC()
	}

	if IsBot(req.UserAgent) {
		return Result{Dropped: true}, nil
	}

	ev := &model.Event{
		Site:      req.Site,
		Timestamp: ts,
		AnonID:    req.AnonID,
		SessionID: req.SessionID,
		URL:       truncate(req.URL, MaxURLLen),
		Path:      truncate(req.Path, MaxPathLen),
		Referrer:  truncate(req.Referrer, MaxReferrerLen),
		UserAgent: truncate(req.UserAgent, MaxUserAgentLen),
		Meta:      req.Meta,
	}
	if err := p.events.Append(ctx, ev); err != nil {
		return Result{}, fmt.Errorf("failed to append event: %w", err)
	}

	bucket := model.GranularityMinute.Floor(ts)
	for _, path := range []string{model.WildcardPath, ev.Path} {
		key := model.RollupKey{Site: ev.Site, Path: path, Bucket: bucket, Granularity: model.GranularityMinute}
		if err := p.applyToRollup(ctx, key, ev.AnonID); err != nil {
			return Result{}, fmt.Errorf("failed to fold event into rollup %s: %w", key.ID(), err)
		}
	}

	return Result{}, nil
}

// applyToRollup runs one per-document transaction: reconstruct the
// unique-visitor state, fold the id in (promoting at the ingest cap in
// the same write), bump views, recache uniques.
func (p *Pipeline) applyToRollup(ctx context.Context, key model.RollupKey, anonID string) error {
	return p.rollups.Update(ctx, key, func(doc *model.RollupDoc) error {
		acc, err := uniques.FromRollup(doc, uniques.IngestCap)
		if err != nil {
			return err
		}
		acc.AddValues(anonID)
		acc.ApplyTo(doc)
		doc.Views++
		return nil
	})
}

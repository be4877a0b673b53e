package compact

import (
	"context"
	"fmt"
	"log"
	"time"

	"SiteSpectra/internal/estimator"
	"SiteSpectra/internal/model"
)

// Defaults for the compaction schedule. Minute rollups rest long
// enough that their bucket can no longer receive late ingests before
// they are folded up.
const (
	DefaultMinuteCutoff = 10 * time.Minute
	DefaultHourCutoff   = 2 * time.Hour
	DefaultBatchSize    = 500
)

// Compactor folds stale fine-grained rollups into the next granularity
// up: minutes into hours, hours into days. Every pass is idempotent;
// an interrupted batch is simply recomputed from the same unflagged
// sources on the next run.
type Compactor struct {
	rollups      model.RollupStore
	minuteCutoff time.Duration
	hourCutoff   time.Duration
	batchSize    int
	now          func() time.Time
}

// New creates a compactor with the given cutoffs and batch size; zero
// values fall back to the defaults.
func New(rollups model.RollupStore, minuteCutoff, hourCutoff time.Duration, batchSize int) *Compactor {
	if minuteCutoff <= 0 {
		minuteCutoff = DefaultMinuteCutoff
	}
	if hourCutoff <= 0 {
		hourCutoff = DefaultHourCutoff
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Compactor{
		rollups:      rollups,
		minuteCutoff: minuteCutoff,
		hourCutoff:   hourCutoff,
		batchSize:    batchSize,
		now:          time.Now,
	}
}

// MinutesToHours folds one batch of stale minute rollups into their
// hour documents. cutoff overrides the configured rest period when
// positive.
func (c *Compactor) MinutesToHours(ctx context.Context, cutoff time.Duration) error {
	if cutoff <= 0 {
		cutoff = c.minuteCutoff
	}
	return c.compact(ctx, model.GranularityMinute, cutoff)
}

// HoursToDays folds one batch of stale hour rollups into their day
// documents.
func (c *Compactor) HoursToDays(ctx context.Context) error {
	return c.compact(ctx, model.GranularityHour, c.hourCutoff)
}

func (c *Compactor) compact(ctx context.Context, g model.Granularity, cutoff time.Duration) error {
	target := g.Next()
	docs, err := c.rollups.Uncompacted(ctx, g, c.now().UTC().Add(-cutoff), c.batchSize)
	if err != nil {
		return fmt.Errorf("failed to select uncompacted %s rollups: %w", g, err)
	}
	if len(docs) == 0 {
		return nil
	}

	// Group sources by their coarse bucket.
	type group struct {
		key     model.RollupKey
		sources []*model.RollupDoc
	}
	groups := make(map[string]*group)
	for _, doc := range docs {
		key := model.RollupKey{
			Site:        doc.Site,
			Path:        doc.Path,
			Bucket:      target.Floor(doc.Bucket),
			Granularity: target,
		}
		id := key.ID()
		if groups[id] == nil {
			groups[id] = &group{key: key}
		}
		groups[id].sources = append(groups[id].sources, doc)
	}

	folded := 0
	for _, grp := range groups {
		sourceKeys := make([]model.RollupKey, len(grp.sources))
		for i, src := range grp.sources {
			sourceKeys[i] = src.Key()
		}
		sources := grp.sources

		err := c.rollups.Compact(ctx, grp.key, func(doc *model.RollupDoc) error {
			return fold(doc, sources)
		}, sourceKeys)
		if err != nil {
			return fmt.Errorf("failed to compact into %s: %w", grp.key.ID(), err)
		}
		folded += len(grp.sources)
	}
	log.Printf("Compacted %d %s rollups into %d %s rollups.", folded, g, len(groups), target)
	return nil
}

// fold merges every source's views and unique-visitor state into the
// coarse document. The result always carries a sketch: exact id lists
// are re-added into a fresh sketch, sketches are merged register-wise.
func fold(doc *model.RollupDoc, sources []*model.RollupDoc) error {
	var s *estimator.Sketch
	if doc.Sketch != "" {
		restored, err := estimator.Deserialize(doc.Sketch)
		if err != nil {
			return fmt.Errorf("failed to restore target sketch: %w", err)
		}
		s = restored
	} else {
		s = estimator.New()
		for _, id := range doc.ExactIDs {
			s.Add(id)
		}
	}

	for _, src := range sources {
		doc.Views += src.Views
		if src.Sketch != "" {
			other, err := estimator.Deserialize(src.Sketch)
			if err != nil {
				return fmt.Errorf("failed to restore source sketch %s: %w", src.Key().ID(), err)
			}
			s.Merge(other)
			continue
		}
		for _, id := range src.ExactIDs {
			s.Add(id)
		}
	}

	doc.Sketch = s.Serialize()
	doc.ExactIDs = nil
	doc.Uniques = s.Count()
	return nil
}

// Runner drives both compaction passes on a fixed interval until the
// context is cancelled. Failures are logged and left for the next
// tick.
func (c *Compactor) Runner(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.RunOnce(ctx, 0)
		case <-ctx.Done():
			log.Println("Compaction runner shutting down.")
			return
		}
	}
}

// RunOnce runs the minute and hour passes back to back. A failing pass
// does not stop the other one.
func (c *Compactor) RunOnce(ctx context.Context, minuteCutoff time.Duration) {
	if err := c.MinutesToHours(ctx, minuteCutoff); err != nil {
		log.Printf("Error compacting minutes to hours: %v", err)
	}
	if err := c.HoursToDays(ctx); err != nil {
		log.Printf("Error compacting hours to days: %v", err)
	}
}

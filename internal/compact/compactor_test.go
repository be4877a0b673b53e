package compact

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"SiteSpectra/internal/model"
	"SiteSpectra/internal/store/memstore"
	"SiteSpectra/internal/uniques"
)

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func newFixture() (*Compactor, *memstore.RollupStore) {
	rollups := memstore.NewRollupStore()
	c := New(rollups, 0, 0, 0)
	c.now = func() time.Time { return testNow }
	return c, rollups
}

// seed writes one rollup document the way ingestion would: views
// incremented per id, uniques tracked through the accumulator.
func seed(t *testing.T, rollups *memstore.RollupStore, g model.Granularity, site, path string, bucket time.Time, ids ...string) {
	t.Helper()
	key := model.RollupKey{Site: site, Path: path, Bucket: bucket, Granularity: g}
	err := rollups.Update(context.Background(), key, func(doc *model.RollupDoc) error {
		acc, err := uniques.FromRollup(doc, uniques.IngestCap)
		if err != nil {
			return err
		}
		acc.AddValues(ids...)
		acc.ApplyTo(doc)
		doc.Views += uint64(len(ids))
		return nil
	})
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func hourDocs(t *testing.T, rollups *memstore.RollupStore, site, path string) []*model.RollupDoc {
	t.Helper()
	docs, err := rollups.InRange(context.Background(), site, model.GranularityHour,
		testNow.Add(-48*time.Hour), testNow, path)
	if err != nil {
		t.Fatalf("InRange failed: %v", err)
	}
	return docs
}

func TestMinutesToHoursFolds(t *testing.T) {
	c, rollups := newFixture()

	hour := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	seed(t, rollups, model.GranularityMinute, "s1", "/a", hour.Add(1*time.Minute), "v1", "v2")
	seed(t, rollups, model.GranularityMinute, "s1", "/a", hour.Add(2*time.Minute), "v2", "v3")
	seed(t, rollups, model.GranularityMinute, "s1", "/a", hour.Add(59*time.Minute), "v4")

	if err := c.MinutesToHours(context.Background(), 0); err != nil {
		t.Fatalf("MinutesToHours failed: %v", err)
	}

	docs := hourDocs(t, rollups, "s1", "/a")
	if len(docs) != 1 {
		t.Fatalf("%d hour docs, want 1", len(docs))
	}
	doc := docs[0]
	if !doc.Bucket.Equal(hour) {
		t.Errorf("hour bucket = %v, want %v", doc.Bucket, hour)
	}
	if doc.Views != 5 {
		t.Errorf("hour views = %d, want 5", doc.Views)
	}
	if doc.Sketch == "" || doc.ExactIDs != nil {
		t.Error("hour doc must carry a sketch and no exact list after compaction")
	}
	// v1..v4 distinct; small cardinalities sit in the linear-counting
	// range where the estimate is essentially exact.
	if math.Abs(float64(doc.Uniques)-4) > 2 {
		t.Errorf("hour uniques = %d, want about 4", doc.Uniques)
	}

	// Consumed minutes are flagged and no longer selectable.
	left, err := rollups.Uncompacted(context.Background(), model.GranularityMinute, testNow, 100)
	if err != nil {
		t.Fatalf("Uncompacted failed: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("%d minute docs still unflagged, want 0", len(left))
	}
}

func TestDoubleRunDoesNotDoubleCount(t *testing.T) {
	c, rollups := newFixture()

	hour := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	seed(t, rollups, model.GranularityMinute, "s1", "/a", hour.Add(5*time.Minute), "v1", "v2", "v3")

	if err := c.MinutesToHours(context.Background(), 0); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	first := hourDocs(t, rollups, "s1", "/a")[0]

	if err := c.MinutesToHours(context.Background(), 0); err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	second := hourDocs(t, rollups, "s1", "/a")[0]

	if second.Views != first.Views || second.Uniques != first.Uniques || second.Sketch != first.Sketch {
		t.Errorf("second run changed the hour doc: views %d->%d uniques %d->%d",
			first.Views, second.Views, first.Uniques, second.Uniques)
	}
}

func TestRecentMinutesAreLeftAlone(t *testing.T) {
	c, rollups := newFixture()
	seed(t, rollups, model.GranularityMinute, "s1", "/a", testNow.Add(-3*time.Minute), "v1")

	if err := c.MinutesToHours(context.Background(), 0); err != nil {
		t.Fatalf("MinutesToHours failed: %v", err)
	}
	if docs := hourDocs(t, rollups, "s1", "/a"); len(docs) != 0 {
		t.Error("a minute younger than the cutoff was compacted")
	}
}

func TestHoursToDays(t *testing.T) {
	c, rollups := newFixture()

	day := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	seed(t, rollups, model.GranularityMinute, "s1", "/a", day.Add(10*time.Hour+(1*time.Minute)), "v1", "v2")
	seed(t, rollups, model.GranularityMinute, "s1", "/a", day.Add(11*time.Hour+(1*time.Minute)), "v2", "v3")

	if err := c.MinutesToHours(context.Background(), 0); err != nil {
		t.Fatalf("MinutesToHours failed: %v", err)
	}
	if err := c.HoursToDays(context.Background()); err != nil {
		t.Fatalf("HoursToDays failed: %v", err)
	}

	docs, err := rollups.InRange(context.Background(), "s1", model.GranularityDay,
		day.Add(-time.Hour), testNow, "/a")
	if err != nil {
		t.Fatalf("InRange failed: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("%d day docs, want 1", len(docs))
	}
	doc := docs[0]
	if !doc.Bucket.Equal(day) {
		t.Errorf("day bucket = %v, want %v", doc.Bucket, day)
	}
	if doc.Views != 4 {
		t.Errorf("day views = %d, want 4", doc.Views)
	}
	if math.Abs(float64(doc.Uniques)-3) > 2 {
		t.Errorf("day uniques = %d, want about 3", doc.Uniques)
	}

	// Repeat runs of the full pipeline stay a no-op.
	c.RunOnce(context.Background(), 0)
	again, _ := rollups.InRange(context.Background(), "s1", model.GranularityDay, day.Add(-time.Hour), testNow, "/a")
	if again[0].Views != doc.Views {
		t.Errorf("rerun changed day views %d -> %d", doc.Views, again[0].Views)
	}
}

func TestFlagsAreInvisibleToQueries(t *testing.T) {
	c, rollups := newFixture()

	hour := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	seed(t, rollups, model.GranularityMinute, "s1", "/a", hour.Add(1*time.Minute), "v1")
	if err := c.MinutesToHours(context.Background(), 0); err != nil {
		t.Fatalf("MinutesToHours failed: %v", err)
	}

	// The flagged minute document still serves minute-granularity reads.
	docs, err := rollups.InRange(context.Background(), "s1", model.GranularityMinute,
		hour, hour.Add(time.Hour), "/a")
	if err != nil {
		t.Fatalf("InRange failed: %v", err)
	}
	if len(docs) != 1 || docs[0].Views != 1 {
		t.Fatalf("compacted minute doc no longer readable: %+v", docs)
	}
	if !docs[0].CompactedHour {
		t.Error("minute doc not flagged after compaction")
	}
}

func TestBatchSizeBoundsOneRun(t *testing.T) {
	rollups := memstore.NewRollupStore()
	c := New(rollups, 0, 0, 3)
	c.now = func() time.Time { return testNow }

	hour := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		seed(t, rollups, model.GranularityMinute, "s1", "/a", hour.Add(time.Duration(i)*time.Minute), fmt.Sprintf("v-%d", i))
	}

	if err := c.MinutesToHours(context.Background(), 0); err != nil {
		t.Fatalf("MinutesToHours failed: %v", err)
	}
	left, err := rollups.Uncompacted(context.Background(), model.GranularityMinute, testNow, 100)
	if err != nil {
		t.Fatalf("Uncompacted failed: %v", err)
	}
	if len(left) != 2 {
		t.Fatalf("%d minute docs left after batch of 3, want 2", len(left))
	}

	// The next run picks up the remainder into the same hour doc.
	if err := c.MinutesToHours(context.Background(), 0); err != nil {
		t.Fatalf("second MinutesToHours failed: %v", err)
	}
	docs := hourDocs(t, rollups, "s1", "/a")
	if len(docs) != 1 || docs[0].Views != 5 {
		t.Fatalf("hour doc after both batches: %+v", docs)
	}
}
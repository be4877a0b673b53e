package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"SiteSpectra/internal/model"
	"SiteSpectra/internal/store/memstore"
)

func newTestPipeline() (*Pipeline, *memstore.RollupStore, *memstore.EventStore) {
	rollups := memstore.NewRollupStore()
	events := memstore.NewEventStore()
	return New(rollups, events), rollups, events
}

func minuteDocs(t *testing.T, rollups *memstore.RollupStore, site, path string) []*model.RollupDoc {
	t.Helper()
	docs, err := rollups.InRange(context.Background(), site, model.GranularityMinute,
		time.Now().Add(-time.Hour), time.Now().Add(time.Hour), path)
	if err != nil {
		t.Fatalf("InRange failed: %v", err)
	}
	return docs
}

func TestRejectsBadPath(t *testing.T) {
	p, _, events := newTestPipeline()
	for _, path := range []string{"", "pricing", "no-slash"} {
		_, err := p.Ingest(context.Background(), &Request{Site: "s1", Path: path, AnonID: "a", SessionID: "s"})
		if !errors.Is(err, model.ErrInvalidPath) {
			t.Errorf("path %q: got err %v, want ErrInvalidPath", path, err)
		}
	}
	if events.Len() != 0 {
		t.Errorf("rejected ingests stored %d events", events.Len())
	}
}

func TestRejectsBadTimestamp(t *testing.T) {
	p, _, _ := newTestPipeline()
	_, err := p.Ingest(context.Background(), &Request{Site: "s1", Path: "/", Timestamp: "yesterdayish"})
	if !errors.Is(err, model.ErrInvalidTimestamp) {
		t.Errorf("got err %v, want ErrInvalidTimestamp", err)
	}
}

func TestBotTrafficIsSilentlyDropped(t *testing.T) {
	p, rollups, events := newTestPipeline()
	res, err := p.Ingest(context.Background(), &Request{
		Site: "s1", Path: "/pricing", AnonID: "a1", SessionID: "s1",
		UserAgent: "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)",
	})
	if err != nil {
		t.Fatalf("bot ingest must succeed, got %v", err)
	}
	if !res.Dropped {
		t.Error("bot ingest not marked dropped")
	}
	if events.Len() != 0 {
		t.Error("bot ingest created an event")
	}
	if docs := minuteDocs(t, rollups, "s1", model.WildcardPath); len(docs) != 0 {
		t.Error("bot ingest mutated a rollup")
	}
}

func TestWritesWildcardAndPathRollups(t *testing.T) {
	p, rollups, events := newTestPipeline()
	_, err := p.Ingest(context.Background(), &Request{Site: "s1", Path: "/pricing", AnonID: "a1", SessionID: "s1"})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if events.Len() != 1 {
		t.Fatalf("stored %d events, want 1", events.Len())
	}
	for _, path := range []string{model.WildcardPath, "/pricing"} {
		docs := minuteDocs(t, rollups, "s1", path)
		if len(docs) != 1 {
			t.Fatalf("path %q: %d rollup docs, want 1", path, len(docs))
		}
		if docs[0].Views != 1 || docs[0].Uniques != 1 {
			t.Errorf("path %q: views=%d uniques=%d, want 1/1", path, docs[0].Views, docs[0].Uniques)
		}
		if docs[0].Bucket != docs[0].Bucket.Truncate(time.Minute) {
			t.Errorf("path %q: bucket %v not minute aligned", path, docs[0].Bucket)
		}
	}
}

func TestTruncatesLongFields(t *testing.T) {
	p, rollups, _ := newTestPipeline()
	long := strings.Repeat("x", 10_000)
	_, err := p.Ingest(context.Background(), &Request{
		Site: "s1", Path: "/" + long, URL: "https://e.com/" + long,
		Referrer: long, UserAgent: "Mozilla " + long, AnonID: "a", SessionID: "s",
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	// The rollup series is keyed by the truncated path.
	truncated := ("/" + long)[:MaxPathLen]
	if docs := minuteDocs(t, rollups, "s1", truncated); len(docs) != 1 {
		t.Errorf("no rollup found under the truncated path")
	}
}

func TestRepeatVisitorCountsViewsNotUniques(t *testing.T) {
	p, rollups, _ := newTestPipeline()
	for i := 0; i < 4; i++ {
		_, err := p.Ingest(context.Background(), &Request{Site: "s1", Path: "/pricing", AnonID: "returning", SessionID: "s"})
		if err != nil {
			t.Fatalf("Ingest %d failed: %v", i, err)
		}
	}
	docs := minuteDocs(t, rollups, "s1", "/pricing")
	if len(docs) != 1 {
		t.Fatalf("%d rollup docs, want 1", len(docs))
	}
	if docs[0].Views != 4 || docs[0].Uniques != 1 {
		t.Errorf("views=%d uniques=%d, want 4/1", docs[0].Views, docs[0].Uniques)
	}
}

func TestConcurrentSameVisitor(t *testing.T) {
	p, rollups, _ := newTestPipeline()

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Ingest(context.Background(), &Request{Site: "s1", Path: "/a", AnonID: "same-id", SessionID: "s"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent ingest failed: %v", err)
		}
	}

	docs := minuteDocs(t, rollups, "s1", "/a")
	if len(docs) != 1 {
		t.Fatalf("%d rollup docs, want 1", len(docs))
	}
	if docs[0].Views != 2 || docs[0].Uniques != 1 {
		t.Errorf("views=%d uniques=%d, want views=2 uniques=1", docs[0].Views, docs[0].Uniques)
	}
}

func TestPromotionAtIngestCap(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping 5001-event ingest in short mode")
	}
	p, rollups, _ := newTestPipeline()

	const n = 5_001
	ctx := context.Background()
	for i := 0; i < n; i++ {
		_, err := p.Ingest(ctx, &Request{Site: "s1", Path: "/burst", AnonID: fmt.Sprintf("v-%d", i), SessionID: "s"})
		if err != nil {
			t.Fatalf("Ingest %d failed: %v", i, err)
		}
	}

	docs := minuteDocs(t, rollups, "s1", "/burst")
	if len(docs) != 1 {
		t.Fatalf("%d rollup docs, want 1", len(docs))
	}
	doc := docs[0]
	if doc.Sketch == "" {
		t.Fatal("rollup did not promote to a sketch at the ingest cap")
	}
	if doc.ExactIDs != nil {
		t.Fatal("promoted rollup kept a stale exact id list")
	}
	if doc.Views != n {
		t.Errorf("views=%d, want %d", doc.Views, n)
	}
	if diff := math.Abs(float64(doc.Uniques) - n); diff > n*0.4 {
		t.Errorf("uniques=%d, want within tolerance of %d", doc.Uniques, n)
	}
}

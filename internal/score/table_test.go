package score

import (
	"math"
	"testing"
	"time"
)

func TestTableUpdateAndBest(t *testing.T) {
	t.Parallel()
	tbl := NewTable()
	now := time.Now()

	tbl.Update("10.0.0.1", 50, []string{"clipA"}, now)
	tbl.Update("10.0.0.2", 10, []string{"clipA"}, now)
	tbl.Update("10.0.0.3", 100, []string{"clipA"}, now)

	best, ok := tbl.Best(now)
	if !ok {
		t.Fatal("expected a best entry")
	}
	if best.IP != "10.0.0.2" {
		t.Errorf("best = %s, want 10.0.0.2", best.IP)
	}
}

func TestTableBestTieBreaksByInsertionOrder(t *testing.T) {
	t.Parallel()
	tbl := NewTable()
	now := time.Now()

	tbl.Update("first", 10, nil, now)
	tbl.Update("second", 10, nil, now)

	best, ok := tbl.Best(now)
	if !ok || best.IP != "first" {
		t.Errorf("best = %+v, want first (insertion order tiebreak)", best)
	}
}

func TestTableEmptyIsNotOK(t *testing.T) {
	t.Parallel()
	tbl := NewTable()
	if _, ok := tbl.Best(time.Now()); ok {
		t.Error("expected ok=false for empty table")
	}
}

func TestTableStaleEviction(t *testing.T) {
	t.Parallel()
	tbl := NewTable()
	base := time.Now()

	tbl.Update("10.0.0.1", 5, []string{"clipA"}, base)

	future := base.Add(StaleTimeout + time.Second)
	if _, ok := tbl.Best(future); ok {
		t.Error("expected stale entry to be evicted before best-selection")
	}
	if _, ok := tbl.Get("10.0.0.1"); ok {
		t.Error("expected Get to reflect the eviction performed by Best's sweep")
	}
}

func TestTableMarkUnreachable(t *testing.T) {
	t.Parallel()
	tbl := NewTable()
	now := time.Now()
	tbl.MarkUnreachable("10.0.0.9", now)

	entry, ok := tbl.Get("10.0.0.9")
	if !ok {
		t.Fatal("expected entry to exist")
	}
	if !math.IsInf(entry.LatencyMillis, 1) {
		t.Errorf("LatencyMillis = %v, want +Inf", entry.LatencyMillis)
	}
	if len(entry.Catalogue) != 1 || entry.Catalogue[0] != "NO_DATA" {
		t.Errorf("Catalogue = %v, want [NO_DATA]", entry.Catalogue)
	}
}

func TestTableSnapshotIsIndependentCopy(t *testing.T) {
	t.Parallel()
	tbl := NewTable()
	now := time.Now()
	tbl.Update("10.0.0.1", 5, []string{"clipA"}, now)

	snap := tbl.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot len = %d, want 1", len(snap))
	}
	snap[0].Catalogue[0] = "mutated"

	entry, _ := tbl.Get("10.0.0.1")
	if entry.Catalogue[0] != "clipA" {
		t.Error("mutating a snapshot entry must not affect the table")
	}
}

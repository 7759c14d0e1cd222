package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/cognicore/dailyintel/pkg/dailyintel/store"
	"github.com/cognicore/dailyintel/pkg/dailyintel/store/memstore"
	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

func openTemp(t *testing.T) store.Store {
	t.Helper()
	st, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "dailyintel.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// Both implementations must agree on sighting semantics.
func stores(t *testing.T) map[string]store.Store {
	return map[string]store.Store{"sqlite": openTemp(t), "memstore": memstore.New()}
}

func TestSightingsKeepEarliestDay(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := st.RecordSightings(ctx, []story.Sighting{
				{ID: "a", Day: "21_11_25", Title: "A"},
				{ID: "b", Day: "21_11_25", Title: "B"},
			}); err != nil {
				t.Fatalf("RecordSightings: %v", err)
			}
			// A later day must not move the first sighting.
			if err := st.RecordSightings(ctx, []story.Sighting{{ID: "a", Day: "22_11_25", Title: "A again"}}); err != nil {
				t.Fatal(err)
			}
			// An earlier day (backfill) does.
			if err := st.RecordSightings(ctx, []story.Sighting{{ID: "b", Day: "01_11_25", Title: "B earlier"}}); err != nil {
				t.Fatal(err)
			}

			got, err := st.Lookup(ctx, []string{"a", "b", "c"})
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("expected 2 sightings, got %d", len(got))
			}
			if got["a"].Day != "21_11_25" || got["a"].Title != "A" {
				t.Errorf("a = %+v", got["a"])
			}
			if got["b"].Day != "01_11_25" {
				t.Errorf("b = %+v", got["b"])
			}
			if n, _ := st.CountSightings(ctx); n != 2 {
				t.Errorf("count = %d", n)
			}
		})
	}
}

func TestSetImageOnlyForFirstSeenDay(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			st.RecordSightings(ctx, []story.Sighting{{ID: "a", Day: "21_11_25"}})
			st.SetImage(ctx, "a", "22_11_25", "images/22_11_25/a.png")
			got, _ := st.Lookup(ctx, []string{"a"})
			if got["a"].ImageURL != "" {
				t.Errorf("image from a later day must not be recorded: %q", got["a"].ImageURL)
			}
			st.SetImage(ctx, "a", "21_11_25", "images/21_11_25/a.png")
			got, _ = st.Lookup(ctx, []string{"a"})
			if got["a"].ImageURL != "images/21_11_25/a.png" {
				t.Errorf("image_url = %q", got["a"].ImageURL)
			}
		})
	}
}

func TestLookupManyIDs(t *testing.T) {
	ctx := context.Background()
	st := openTemp(t)

	var sightings []story.Sighting
	var ids []string
	for i := 0; i < 1200; i++ {
		id := fmt.Sprintf("id-%04d", i)
		ids = append(ids, id)
		sightings = append(sightings, story.Sighting{ID: id, Day: "21_11_25"})
	}
	if err := st.RecordSightings(ctx, sightings); err != nil {
		t.Fatal(err)
	}
	got, err := st.Lookup(ctx, ids)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if len(got) != 1200 {
		t.Errorf("expected 1200 sightings across batches, got %d", len(got))
	}
}

func TestRecordSightingsRejectsBadDay(t *testing.T) {
	st := openTemp(t)
	if err := st.RecordSightings(context.Background(), []story.Sighting{{ID: "a", Day: "2025-11-21"}}); err == nil {
		t.Error("expected error for malformed day")
	}
}

func TestEnrichmentLedger(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if got, err := st.ListEnrichment(ctx, "21_11_25"); err != nil || len(got) != 0 {
				t.Fatalf("empty ledger: %v err=%v", got, err)
			}

			st.UpsertEnrichment(ctx, store.Enrichment{ID: "b", Day: "21_11_25", State: "Failed", Attempts: 3, LastError: "timeout"})
			st.UpsertEnrichment(ctx, store.Enrichment{ID: "a", Day: "21_11_25", State: "Requested", Attempts: 1})
			st.UpsertEnrichment(ctx, store.Enrichment{ID: "a", Day: "21_11_25", State: "Attached", Attempts: 1, ImageURL: "images/21_11_25/a.png"})
			st.UpsertEnrichment(ctx, store.Enrichment{ID: "z", Day: "22_11_25", State: "NoImage"})

			day, err := st.ListEnrichment(ctx, "21_11_25")
			if err != nil {
				t.Fatal(err)
			}
			if len(day) != 2 || day[0].ID != "a" || day[1].ID != "b" || day[1].LastError != "timeout" {
				t.Fatalf("ListEnrichment = %+v", day)
			}
			if got := day[0]; got.State != "Attached" || got.ImageURL != "images/21_11_25/a.png" || got.UpdatedAt.IsZero() {
				t.Errorf("a = %+v", got)
			}
			all, _ := st.ListEnrichment(ctx, "")
			if len(all) != 3 {
				t.Errorf("expected 3 entries overall, got %d", len(all))
			}
		})
	}
}

func TestEnrichmentLedgerKeepsEachDay(t *testing.T) {
	ctx := context.Background()
	for name, st := range stores(t) {
		t.Run(name, func(t *testing.T) {
			st.UpsertEnrichment(ctx, store.Enrichment{ID: "a", Day: "20_11_25", State: "Attached", ImageURL: "images/20_11_25/a.png"})
			st.UpsertEnrichment(ctx, store.Enrichment{ID: "a", Day: "21_11_25", State: "Failed", Attempts: 5, LastError: "timeout"})

			first, _ := st.ListEnrichment(ctx, "20_11_25")
			if len(first) != 1 || first[0].State != "Attached" {
				t.Errorf("first day entry overwritten by the repost: %+v", first)
			}
			second, _ := st.ListEnrichment(ctx, "21_11_25")
			if len(second) != 1 || second[0].State != "Failed" || second[0].Attempts != 5 {
				t.Errorf("repost entry = %+v", second)
			}
			all, _ := st.ListEnrichment(ctx, "")
			if len(all) != 2 || all[0].Day != "20_11_25" {
				t.Errorf("all = %+v", all)
			}
		})
	}
}

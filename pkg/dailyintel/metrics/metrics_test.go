package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveEnrichment(t *testing.T) {
	m := New()
	m.ObserveEnrichment("Attached", 1, 2*time.Second)
	m.ObserveEnrichment("Attached", 3, time.Second)
	m.ObserveEnrichment("Failed", 5, 10*time.Second)

	if got := testutil.ToFloat64(m.Enrichments.WithLabelValues("Attached")); got != 2 {
		t.Errorf("attached = %v", got)
	}
	if got := testutil.ToFloat64(m.Enrichments.WithLabelValues("Failed")); got != 1 {
		t.Errorf("failed = %v", got)
	}
	if n := testutil.CollectAndCount(m.EnrichmentAttempts); n != 1 {
		t.Errorf("attempt histogram series = %d", n)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.Stories.WithLabelValues("published").Add(12)
	m.Stories.WithLabelValues("duplicate").Add(1)
	m.ObserveStage("ingest", 1500*time.Millisecond)
	m.Succeeded("ingest", time.Unix(1763683200, 0))

	path := filepath.Join(t.TempDir(), "dailyintel.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{
		`dailyintel_stories_total{outcome="published"} 12`,
		`dailyintel_stage_duration_seconds{stage="ingest"} 1.5`,
		`dailyintel_last_success_timestamp_seconds{command="ingest"} 1.7636832e+09`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("textfile missing %q:\n%s", want, out)
		}
	}
}

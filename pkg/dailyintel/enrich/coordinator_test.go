package enrich

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cognicore/dailyintel/pkg/dailyintel/dataset"
	"github.com/cognicore/dailyintel/pkg/dailyintel/internalerr"
	"github.com/cognicore/dailyintel/pkg/dailyintel/store"
	"github.com/cognicore/dailyintel/pkg/dailyintel/store/memstore"
	"github.com/cognicore/dailyintel/pkg/dailyintel/story"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR fake image body")

type fakeGenerator struct {
	mu      sync.Mutex
	fail    map[string]error // seed -> error returned on every attempt
	calls   map[string]int
	prompts map[string]string
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{fail: map[string]error{}, calls: map[string]int{}, prompts: map[string]string{}}
}

func (g *fakeGenerator) Generate(ctx context.Context, prompt, seed string) (Image, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[seed]++
	g.prompts[seed] = prompt
	if err := g.fail[seed]; err != nil {
		return Image{}, err
	}
	return Image{Data: pngBytes}, nil
}

func (g *fakeGenerator) callsFor(seed string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[seed]
}

func writeDay(t *testing.T, dir, day string, ids ...string) string {
	t.Helper()
	records := make([]story.Record, len(ids))
	for i, id := range ids {
		records[i] = story.Record{
			ID:      id,
			Title:   "Story " + id,
			Summary: "Summary of " + id,
			RawText: "Raw  text of " + id + "\n\n  with <markup> & spacing ",
		}
		records[i].SetMeta(story.MetaPosition, i)
	}
	path, err := dataset.NewWriter(dir, nil).Write(context.Background(), day, records, dataset.WriteOptions{})
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	return path
}

func newCoordinator(t *testing.T, dir string, gen Generator, opts Options) *Coordinator {
	t.Helper()
	c, err := New(Config{
		Generator: gen,
		Assets:    NewLocalAssets(dir),
		Writer:    dataset.NewWriter(dir, nil),
		Options:   opts,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	return c
}

func TestRunLeavesFailuresForNextPass(t *testing.T) {
	dir := t.TempDir()
	path := writeDay(t, dir, "21_11_25", "a", "b", "c", "d", "e")
	before, _ := dataset.Read(path)

	gen := newFakeGenerator()
	gen.fail["b"] = errors.New("upstream 503")
	gen.fail["d"] = errors.New("timeout")
	c := newCoordinator(t, dir, gen, Options{Workers: 2, Attempts: 3})

	rep, err := c.Run(context.Background(), path)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Missing != 5 || len(rep.Attached) != 3 || len(rep.Failed) != 2 {
		t.Fatalf("report = %+v", rep)
	}
	for _, f := range rep.Failed {
		if f.Attempts != 3 {
			t.Errorf("%s: attempts = %d, want 3", f.ID, f.Attempts)
		}
		var ef *internalerr.EnrichmentFailure
		if !errors.As(f.Err, &ef) {
			t.Errorf("%s: expected EnrichmentFailure, got %v", f.ID, f.Err)
		}
	}
	if gen.callsFor("b") != 3 || gen.callsFor("a") != 1 {
		t.Errorf("calls: a=%d b=%d", gen.callsFor("a"), gen.callsFor("b"))
	}

	missing, err := c.Scan(path)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(missing) != 2 || missing[0].ID != "b" || missing[1].ID != "d" {
		t.Fatalf("scan after partial failure = %v", ids(missing))
	}

	after, _ := dataset.Read(path)
	for i := range before {
		if after[i].RawText != before[i].RawText {
			t.Errorf("%s: raw_text changed: %q -> %q", before[i].ID, before[i].RawText, after[i].RawText)
		}
		if after[i].Title != before[i].Title || after[i].Summary != before[i].Summary {
			t.Errorf("%s: derived fields changed", before[i].ID)
		}
	}
	if after[0].ImageURL != "images/21_11_25/a.png" || after[0].ImagePrompt == "" {
		t.Errorf("a = %q / %q", after[0].ImageURL, after[0].ImagePrompt)
	}
	if _, err := os.Stat(filepath.Join(dir, "images", "21_11_25", "a.png")); err != nil {
		t.Errorf("image not saved: %v", err)
	}

	// The next run picks up exactly the two failures.
	delete(gen.fail, "b")
	delete(gen.fail, "d")
	rep, err = c.Run(context.Background(), path)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if rep.Missing != 2 || len(rep.Attached) != 2 || gen.callsFor("a") != 1 {
		t.Errorf("second report = %+v, a calls = %d", rep, gen.callsFor("a"))
	}
}

func TestRunIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writeDay(t, dir, "21_11_25", "a", "b")
	c := newCoordinator(t, dir, newFakeGenerator(), Options{})

	if _, err := c.Run(context.Background(), path); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(path)

	rep, err := c.Run(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Missing != 0 || len(rep.Attached) != 0 {
		t.Errorf("second run should find nothing: %+v", rep)
	}
	second, _ := os.ReadFile(path)
	if !bytes.Equal(first, second) {
		t.Error("an already enriched file must not be rewritten")
	}
}

func TestAttachIsIdempotent(t *testing.T) {
	rec := story.Record{ID: "a", Title: "T", RawText: "  raw text  ", Categories: []string{"AI"}}
	once := Attach(rec, "images/21_11_25/a.png", "p")
	twice := Attach(once, "images/21_11_25/a.png", "p")

	a, _ := once.MarshalJSON()
	b, _ := twice.MarshalJSON()
	if !bytes.Equal(a, b) {
		t.Errorf("attach twice differs:\n%s\n%s", a, b)
	}
	if twice.RawText != rec.RawText {
		t.Errorf("raw_text changed: %q", twice.RawText)
	}
	if rec.ImageURL != "" {
		t.Error("Attach must not modify its input")
	}
}

func TestPermanentErrorStopsRetrying(t *testing.T) {
	dir := t.TempDir()
	gen := newFakeGenerator()
	gen.fail["a"] = Permanent(errors.New("400 bad prompt"))
	c := newCoordinator(t, dir, gen, Options{Attempts: 5})

	_, err := c.Request(context.Background(), "21_11_25", story.Record{ID: "a", Title: "T"})
	var ef *internalerr.EnrichmentFailure
	if !errors.As(err, &ef) || ef.Attempts != 1 {
		t.Fatalf("expected failure after one attempt, got %v", err)
	}
	if gen.callsFor("a") != 1 {
		t.Errorf("calls = %d", gen.callsFor("a"))
	}
}

type slowGenerator struct{}

func (slowGenerator) Generate(ctx context.Context, prompt, seed string) (Image, error) {
	<-ctx.Done()
	return Image{}, ctx.Err()
}

func TestRequestAppliesPerAttemptTimeout(t *testing.T) {
	c := newCoordinator(t, t.TempDir(), slowGenerator{}, Options{Attempts: 2, Timeout: 10 * time.Millisecond})
	_, err := c.Request(context.Background(), "21_11_25", story.Record{ID: "a", Title: "T"})
	var ef *internalerr.EnrichmentFailure
	if !errors.As(err, &ef) || ef.Attempts != 2 {
		t.Fatalf("expected 2 timed out attempts, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestBackoffDoubles(t *testing.T) {
	gen := newFakeGenerator()
	gen.fail["a"] = errors.New("busy")
	c := newCoordinator(t, t.TempDir(), gen, Options{Attempts: 4, Backoff: time.Second, MaxBackoff: 3 * time.Second})
	var waits []time.Duration
	c.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	c.Request(context.Background(), "21_11_25", story.Record{ID: "a", Title: "T"})
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}
	if len(waits) != len(want) {
		t.Fatalf("waits = %v", waits)
	}
	for i := range want {
		if waits[i] != want[i] {
			t.Errorf("wait %d = %v, want %v", i, waits[i], want[i])
		}
	}
}

type failingPrompts struct{}

func (failingPrompts) WritePrompt(context.Context, story.Record) (string, error) {
	return "", errors.New("model unavailable")
}

func TestPromptFallsBackToTemplate(t *testing.T) {
	gen := newFakeGenerator()
	c, err := New(Config{
		Generator: gen,
		Prompts:   []PromptWriter{failingPrompts{}},
		Assets:    NewLocalAssets(t.TempDir()),
		Writer:    dataset.NewWriter(t.TempDir(), nil),
	})
	if err != nil {
		t.Fatal(err)
	}
	asset, err := c.Request(context.Background(), "21_11_25", story.Record{ID: "a", Title: "Chip export rules [cite: 3]", Summary: "New limits."})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if !strings.Contains(asset.Prompt, "Chip export rules") || len([]rune(asset.Prompt)) > MaxPromptRunes {
		t.Errorf("prompt = %q", asset.Prompt)
	}
}

type stalledPrompts struct{}

func (stalledPrompts) WritePrompt(ctx context.Context, _ story.Record) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestPromptWriterIsBoundedByTimeout(t *testing.T) {
	c, err := New(Config{
		Generator: newFakeGenerator(),
		Prompts:   []PromptWriter{stalledPrompts{}},
		Assets:    NewLocalAssets(t.TempDir()),
		Writer:    dataset.NewWriter(t.TempDir(), nil),
		Options:   Options{Attempts: 1, Timeout: 50 * time.Millisecond},
	})
	if err != nil {
		t.Fatal(err)
	}

	type outcome struct {
		asset Asset
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		asset, err := c.Request(context.Background(), "21_11_25", story.Record{ID: "a", Title: "Chip export rules"})
		done <- outcome{asset, err}
	}()

	select {
	case got := <-done:
		if got.err != nil {
			t.Fatalf("Request: %v", got.err)
		}
		if !strings.Contains(got.asset.Prompt, "Chip export rules") {
			t.Errorf("expected template prompt after the writer timed out, got %q", got.asset.Prompt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Request still blocked on a stalled prompt writer")
	}
}

func TestVerifyAssetsTreatsDanglingImageAsMissing(t *testing.T) {
	dir := t.TempDir()
	records := []story.Record{
		{ID: "a", Title: "A", RawText: "a", ImageURL: "images/21_11_25/a.png"},
		{ID: "b", Title: "B", RawText: "b"},
	}
	path, err := dataset.NewWriter(dir, nil).Write(context.Background(), "21_11_25", records, dataset.WriteOptions{})
	if err != nil {
		t.Fatal(err)
	}

	plain := newCoordinator(t, dir, newFakeGenerator(), Options{})
	if got, _ := plain.Scan(path); len(got) != 1 || got[0].ID != "b" {
		t.Errorf("scan = %v", ids(got))
	}
	verifying := newCoordinator(t, dir, newFakeGenerator(), Options{VerifyAssets: true})
	if got, _ := verifying.Scan(path); len(got) != 2 {
		t.Errorf("scan with verification = %v", ids(got))
	}
	if verifying.StateOf(records[0]) != NoImage || plain.StateOf(records[0]) != Attached {
		t.Error("unexpected state")
	}
}

func TestReconcileAttachesExistingImages(t *testing.T) {
	dir := t.TempDir()
	path := writeDay(t, dir, "21_11_25", "a", "b")
	imgDir := filepath.Join(dir, "images", "21_11_25")
	if err := os.MkdirAll(imgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(imgDir, "b.jpg"), []byte("\xff\xd8\xff"), 0o644); err != nil {
		t.Fatal(err)
	}

	ledger := memstore.New()
	c, err := New(Config{
		Generator: newFakeGenerator(),
		Assets:    NewLocalAssets(dir),
		Writer:    dataset.NewWriter(dir, nil),
		Ledger:    ledger,
	})
	if err != nil {
		t.Fatal(err)
	}
	rep, err := c.Reconcile(context.Background(), path)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if rep.Missing != 2 || len(rep.Attached) != 1 || rep.Attached[0] != "b" {
		t.Fatalf("report = %+v", rep)
	}

	got, _ := dataset.Read(path)
	if got[1].ImageURL != "images/21_11_25/b.jpg" || got[1].ImagePrompt != ExternalAgentPrompt {
		t.Errorf("b = %q / %q", got[1].ImageURL, got[1].ImagePrompt)
	}
	if got[0].ImageURL != "" {
		t.Errorf("a should stay without image: %q", got[0].ImageURL)
	}
	states, _ := ledger.ListEnrichment(context.Background(), "21_11_25")
	if len(states) != 1 || states[0].ID != "b" || states[0].State != string(Attached) {
		t.Errorf("ledger = %+v", states)
	}
}

type brokenLedger struct{}

func (brokenLedger) UpsertEnrichment(context.Context, store.Enrichment) error { return nil }

func (brokenLedger) SetImage(context.Context, string, string, string) error {
	return errors.New("database is locked")
}

func TestReconcileLogsLedgerFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeDay(t, dir, "21_11_25", "a")
	imgDir := filepath.Join(dir, "images", "21_11_25")
	if err := os.MkdirAll(imgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(imgDir, "a.png"), pngBytes, 0o644); err != nil {
		t.Fatal(err)
	}

	var logs bytes.Buffer
	c, err := New(Config{
		Generator: newFakeGenerator(),
		Assets:    NewLocalAssets(dir),
		Writer:    dataset.NewWriter(dir, nil),
		Ledger:    brokenLedger{},
		Logger:    slog.New(slog.NewTextHandler(&logs, nil)),
	})
	if err != nil {
		t.Fatal(err)
	}
	rep, err := c.Reconcile(context.Background(), path)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(rep.Attached) != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if !strings.Contains(logs.String(), "Could not record image in index") || !strings.Contains(logs.String(), "database is locked") {
		t.Errorf("ledger failure not logged: %s", logs.String())
	}
}

func TestRunRecordsLedgerStates(t *testing.T) {
	dir := t.TempDir()
	path := writeDay(t, dir, "21_11_25", "a", "b")
	gen := newFakeGenerator()
	gen.fail["b"] = errors.New("boom")

	ledger := memstore.New()
	ledger.RecordSightings(context.Background(), []story.Sighting{{ID: "a", Day: "21_11_25"}, {ID: "b", Day: "21_11_25"}})
	c, err := New(Config{
		Generator: gen,
		Assets:    NewLocalAssets(dir),
		Writer:    dataset.NewWriter(dir, nil),
		Ledger:    ledger,
		Options:   Options{Attempts: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Run(context.Background(), path); err != nil {
		t.Fatal(err)
	}

	states, _ := ledger.ListEnrichment(context.Background(), "21_11_25")
	if len(states) != 2 || states[0].State != string(Attached) || states[1].State != string(Failed) {
		t.Errorf("states = %+v", states)
	}
	if states[1].LastError == "" {
		t.Error("failure should record the error")
	}
	sightings, _ := ledger.Lookup(context.Background(), []string{"a"})
	if sightings["a"].ImageURL != "images/21_11_25/a.png" {
		t.Errorf("sighting image = %q", sightings["a"].ImageURL)
	}
}

func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestClampPrompt(t *testing.T) {
	long := strings.Repeat("word ", 100)
	got := ClampPrompt("\"" + long + "\"")
	if n := len([]rune(got)); n > MaxPromptRunes || n < MaxPromptRunes/2 {
		t.Errorf("clamped length %d", n)
	}
	if strings.HasSuffix(got, " ") || strings.HasPrefix(got, "\"") {
		t.Errorf("clamped = %q", got)
	}
}

func ids(records []story.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

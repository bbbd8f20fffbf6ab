package scan

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/leakscan/internal/config"
	"github.com/sells-group/leakscan/internal/domain"
	"github.com/sells-group/leakscan/internal/extract"
	"github.com/sells-group/leakscan/internal/liveness"
	"github.com/sells-group/leakscan/internal/model"
	"github.com/sells-group/leakscan/internal/notify"
	"github.com/sells-group/leakscan/internal/resilience"
	"github.com/sells-group/leakscan/internal/sink"
	"github.com/sells-group/leakscan/internal/store"
)

// stubSignal answers from a fixed table. Unlisted domains resolve.
type stubSignal struct {
	name     string
	outcomes map[string]model.Outcome
	// block makes Check wait for its context, simulating a hung resolver.
	block   bool
	timeout time.Duration
	onCheck func(domain string)

	mu    sync.Mutex
	calls []string
}

func (s *stubSignal) Name() string { return s.name }

func (s *stubSignal) Timeout() time.Duration { return s.timeout }

func (s *stubSignal) Check(ctx context.Context, d string) (model.Outcome, error) {
	s.mu.Lock()
	s.calls = append(s.calls, d)
	s.mu.Unlock()
	if s.onCheck != nil {
		s.onCheck(d)
	}
	if s.block {
		<-ctx.Done()
		return model.OutcomeError, ctx.Err()
	}
	if o, ok := s.outcomes[d]; ok {
		return o, nil
	}
	return model.OutcomePresent, nil
}

func (s *stubSignal) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func dnsAbsent(domains ...string) *stubSignal {
	s := &stubSignal{name: liveness.SignalDNS, outcomes: map[string]model.Outcome{}}
	for _, d := range domains {
		s.outcomes[d] = model.OutcomeAbsent
	}
	return s
}

func newTestClassifier(signals ...liveness.Signal) *liveness.Classifier {
	return liveness.NewClassifier(signals, liveness.Options{
		Retry: resilience.RetryConfig{MaxAttempts: 1},
	})
}

// memSource serves shards from memory.
type memSource struct {
	ids    []string
	shards map[string][]model.Item
	getErr error

	mu   sync.Mutex
	gets int
}

func (m *memSource) ListShardIDs(context.Context) ([]string, error) {
	return m.ids, nil
}

func (m *memSource) GetShard(_ context.Context, id string) ([]model.Item, error) {
	m.mu.Lock()
	m.gets++
	m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	items, ok := m.shards[id]
	if !ok {
		return nil, source404(id)
	}
	return items, nil
}

func (m *memSource) Gets() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gets
}

func source404(id string) error { return fmt.Errorf("shard %s: not found", id) }

// scenarioSource is the two-item shard used throughout.
func scenarioSource() *memSource {
	return &memSource{
		ids: []string{"shard-0"},
		shards: map[string][]model.Item{
			"shard-0": {
				{ID: "vidA", Text: "Download from http://totally-expired-example.test/x today"},
				{ID: "vidB", Text: "no links in this one"},
			},
		},
	}
}

// numberedShard builds n items each linking to site-<i>.com.
func numberedShard(prefix string, n int) []model.Item {
	items := make([]model.Item, n)
	for i := range items {
		items[i] = model.Item{
			ID:   fmt.Sprintf("%s-%d", prefix, i),
			Text: fmt.Sprintf("see https://%s-site-%d.com/page", prefix, i),
		}
	}
	return items
}

type recNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recNotifier) Notify(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recNotifier) count(kind notify.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// faultyStore injects failures into an otherwise real SQLite store.
type faultyStore struct {
	*store.SQLiteStore
	loadErr    error
	saveFailAt int

	saves int
}

func (f *faultyStore) LoadCursor(ctx context.Context, scan string) (model.ShardCursor, error) {
	if f.loadErr != nil {
		return model.ShardCursor{}, f.loadErr
	}
	return f.SQLiteStore.LoadCursor(ctx, scan)
}

func (f *faultyStore) SaveCursor(ctx context.Context, scan string, c model.ShardCursor) error {
	f.saves++
	if f.saveFailAt > 0 && f.saves == f.saveFailAt {
		return errors.New("disk full")
	}
	return f.SQLiteStore.SaveCursor(ctx, scan, c)
}

type failingRecorder struct{}

func (failingRecorder) Record(context.Context, model.ResultRecord) (bool, error) {
	return false, errors.New("results table locked")
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "scan.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func testScanConfig() config.ScanConfig {
	return config.ScanConfig{Name: "test", CandidateMode: ModeAll, ClassifyConcurrency: 2}
}

func newTestController(cfg config.ScanConfig, st store.Store, src *memSource, n notify.Notifier, signals ...liveness.Signal) *Controller {
	return NewController(cfg, st, src,
		extract.NewRegexExtractor(),
		domain.NewBlocklist("test", "youtube.com", "bit.ly"),
		newTestClassifier(signals...),
		sink.New(st, n),
		n,
	)
}

func loadCursor(t *testing.T, st store.CheckpointStore, scan string) model.ShardCursor {
	t.Helper()
	c, err := st.LoadCursor(context.Background(), scan)
	require.NoError(t, err)
	return c
}

func allResults(t *testing.T, st store.ResultStore) []model.ResultRecord {
	t.Helper()
	recs, err := st.ListResults(context.Background(), store.ResultFilter{Limit: 1000})
	require.NoError(t, err)
	return recs
}

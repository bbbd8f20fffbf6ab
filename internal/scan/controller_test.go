package scan

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leakscan/internal/domain"
	"github.com/sells-group/leakscan/internal/extract"
	"github.com/sells-group/leakscan/internal/model"
	"github.com/sells-group/leakscan/internal/notify"
)

func TestRun_AvailableDomainRecorded(t *testing.T) {
	st := newTestStore(t)
	n := &recNotifier{}
	dns := dnsAbsent("totally-expired-example.test")
	c := newTestController(testScanConfig(), st, scenarioSource(), n, dns)

	sum, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StopShardComplete, sum.StopReason)
	assert.Equal(t, 2, sum.ItemsScanned)
	assert.Equal(t, 1, sum.CandidatesChecked)
	assert.Equal(t, 1, sum.PositiveDomains)
	assert.NotEmpty(t, sum.RunID)

	recs := allResults(t, st)
	require.Len(t, recs, 1)
	assert.Equal(t, "totally-expired-example.test", recs[0].Domain)
	assert.Equal(t, "vidA", recs[0].SourceItemID)
	assert.Equal(t, model.VerdictLikelyAvailable, recs[0].Verdict)
	assert.Equal(t, "dns", recs[0].DecidedBy)
	assert.Equal(t, "http://totally-expired-example.test/x", recs[0].RawURL)

	cur := loadCursor(t, st, "test")
	assert.Equal(t, "shard-0", cur.ShardID)
	assert.Equal(t, 2, cur.Offset)
	assert.True(t, cur.ShardComplete)

	assert.Equal(t, 1, n.count(notify.KindDomainFound))
	assert.Equal(t, 1, n.count(notify.KindRunSummary))
}

func TestRun_DNSTimeoutIsUnknown(t *testing.T) {
	newHungDNS := func() *stubSignal {
		return &stubSignal{name: "dns", block: true, timeout: 20 * time.Millisecond}
	}

	t.Run("not recorded by default", func(t *testing.T) {
		st := newTestStore(t)
		n := &recNotifier{}
		c := newTestController(testScanConfig(), st, scenarioSource(), n, newHungDNS())

		sum, err := c.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, sum.UnknownDomains)
		assert.Equal(t, 0, sum.PositiveDomains)
		assert.Empty(t, allResults(t, st))
		assert.Equal(t, 0, n.count(notify.KindDomainFound))

		cur := loadCursor(t, st, "test")
		assert.Equal(t, 2, cur.Offset)
		assert.True(t, cur.ShardComplete)
	})

	t.Run("recorded as unknown when enabled", func(t *testing.T) {
		st := newTestStore(t)
		n := &recNotifier{}
		cfg := testScanConfig()
		cfg.RecordUnknown = true
		c := newTestController(cfg, st, scenarioSource(), n, newHungDNS())

		_, err := c.Run(context.Background())
		require.NoError(t, err)

		recs := allResults(t, st)
		require.Len(t, recs, 1)
		assert.Equal(t, model.VerdictUnknown, recs[0].Verdict)
		assert.Empty(t, recs[0].DecidedBy)
		assert.Equal(t, 0, n.count(notify.KindDomainFound))
	})
}

func TestRun_MaxItemsBudget(t *testing.T) {
	st := newTestStore(t)
	src := &memSource{ids: []string{"s"}, shards: map[string][]model.Item{"s": numberedShard("s", 10)}}
	cfg := testScanConfig()
	cfg.MaxItems = 3
	dns := dnsAbsent()
	c := newTestController(cfg, st, src, nil, dns)

	sum, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StopBudgetItems, sum.StopReason)
	assert.True(t, sum.StopReason.BudgetHit())
	assert.Equal(t, 3, sum.ItemsScanned)
	assert.Equal(t, 0, sum.StartOffset)
	assert.Equal(t, 3, sum.EndOffset)
	assert.Len(t, dns.Calls(), 3)

	cur := loadCursor(t, st, "test")
	assert.Equal(t, model.ShardCursor{ShardID: "s", Offset: 3}, model.ShardCursor{ShardID: cur.ShardID, Offset: cur.Offset, ShardComplete: cur.ShardComplete})

	n, err := st.CountProcessed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	sum, err = c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.StartOffset)
	assert.Equal(t, 6, sum.EndOffset)
	assert.Equal(t, []string{"s-site-0.com", "s-site-1.com", "s-site-2.com", "s-site-3.com", "s-site-4.com", "s-site-5.com"}, dns.Calls())
}

func TestRun_IdempotentResume(t *testing.T) {
	st := newTestStore(t)
	src := scenarioSource()
	dns := dnsAbsent("totally-expired-example.test")
	c := newTestController(testScanConfig(), st, src, nil, dns)

	_, err := c.Run(context.Background())
	require.NoError(t, err)
	before := loadCursor(t, st, "test")

	sum, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StopExhausted, sum.StopReason)
	assert.Equal(t, 0, sum.ItemsScanned)
	assert.Equal(t, 0, sum.ItemsSkipped)
	assert.Equal(t, 1, src.Gets())
	assert.Len(t, dns.Calls(), 1)
	assert.Len(t, allResults(t, st), 1)

	after := loadCursor(t, st, "test")
	assert.Equal(t, before.ShardID, after.ShardID)
	assert.Equal(t, before.Offset, after.Offset)
	assert.True(t, after.ShardComplete)
}

func TestRun_RollsOverToNextShard(t *testing.T) {
	st := newTestStore(t)
	src := &memSource{
		ids: []string{"a", "b"},
		shards: map[string][]model.Item{
			"a": numberedShard("a", 2),
			"b": numberedShard("b", 3),
		},
	}
	c := newTestController(testScanConfig(), st, src, nil, dnsAbsent())

	sum, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StopShardComplete, sum.StopReason)
	assert.Equal(t, "a", sum.ShardID)

	sum, err = c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StopShardComplete, sum.StopReason)
	assert.Equal(t, "b", sum.ShardID)
	assert.Equal(t, 0, sum.StartOffset)
	assert.Equal(t, 3, sum.ItemsScanned)

	cur := loadCursor(t, st, "test")
	assert.Equal(t, "b", cur.ShardID)
	assert.Equal(t, 3, cur.Offset)
	assert.True(t, cur.ShardComplete)

	sum, err = c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StopExhausted, sum.StopReason)
}

func TestRun_SourceUnavailableKeepsCursor(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, st.SaveCursor(ctx, "test", model.ShardCursor{ShardID: "shard-0", Offset: 1}))

	src := scenarioSource()
	src.getErr = errors.New("mirror unreachable")
	c := newTestController(testScanConfig(), st, src, nil, dnsAbsent())

	sum, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StopSourceUnavailable, sum.StopReason)
	assert.Equal(t, 0, sum.ItemsScanned)

	cur := loadCursor(t, st, "test")
	assert.Equal(t, "shard-0", cur.ShardID)
	assert.Equal(t, 1, cur.Offset)
	assert.False(t, cur.ShardComplete)
}

func TestRun_LoadCursorFailureIsFatal(t *testing.T) {
	fs := &faultyStore{SQLiteStore: newTestStore(t), loadErr: errors.New("db unreachable")}
	src := scenarioSource()
	c := newTestController(testScanConfig(), fs, src, nil, dnsAbsent())

	sum, err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load cursor")
	assert.Equal(t, model.StopFailed, sum.StopReason)
	assert.Equal(t, 0, src.Gets())

	runs, err := fs.ListRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.StopFailed, runs[0].StopReason)
}

func TestRun_CrashBeforeCursorSaveReprocessesSafely(t *testing.T) {
	sqlite := newTestStore(t)
	fs := &faultyStore{SQLiteStore: sqlite, saveFailAt: 2}
	src := &memSource{ids: []string{"s"}, shards: map[string][]model.Item{"s": numberedShard("s", 3)}}
	dns := dnsAbsent("s-site-0.com", "s-site-1.com", "s-site-2.com")

	_, err := newTestController(testScanConfig(), fs, src, nil, dns).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save cursor")

	// Item 1 was marked processed but its cursor save failed.
	cur := loadCursor(t, sqlite, "test")
	assert.Equal(t, 1, cur.Offset)
	done, err := sqlite.IsProcessed(context.Background(), "s-1")
	require.NoError(t, err)
	assert.True(t, done)

	sum, err := newTestController(testScanConfig(), sqlite, src, nil, dns).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.StartOffset)
	assert.Equal(t, 1, sum.ItemsSkipped)
	assert.Equal(t, 1, sum.ItemsScanned)
	assert.Equal(t, model.StopShardComplete, sum.StopReason)
	assert.Len(t, allResults(t, sqlite), 3)
}

func TestRun_CancellationFinishesCurrentItem(t *testing.T) {
	st := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &memSource{ids: []string{"s"}, shards: map[string][]model.Item{"s": numberedShard("s", 5)}}
	var once sync.Once
	dns := dnsAbsent("s-site-0.com")
	dns.onCheck = func(string) { once.Do(cancel) }

	sum, err := newTestController(testScanConfig(), st, src, nil, dns).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StopCancelled, sum.StopReason)
	assert.Equal(t, 1, sum.ItemsScanned)

	recs := allResults(t, st)
	require.Len(t, recs, 1)
	assert.Equal(t, model.VerdictLikelyAvailable, recs[0].Verdict)

	cur := loadCursor(t, st, "test")
	assert.Equal(t, 1, cur.Offset)
	assert.False(t, cur.ShardComplete)
}

func TestRun_PositiveBudget(t *testing.T) {
	st := newTestStore(t)
	src := &memSource{ids: []string{"s"}, shards: map[string][]model.Item{"s": numberedShard("s", 4)}}
	cfg := testScanConfig()
	cfg.MaxPositiveDomains = 1
	c := newTestController(cfg, st, src, nil, dnsAbsent("s-site-0.com", "s-site-1.com"))

	sum, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StopBudgetPositive, sum.StopReason)
	assert.Equal(t, 1, sum.PositiveDomains)
	assert.Equal(t, 1, loadCursor(t, st, "test").Offset)
}

func TestRun_RuntimeBudget(t *testing.T) {
	st := newTestStore(t)
	src := &memSource{ids: []string{"s"}, shards: map[string][]model.Item{"s": numberedShard("s", 4)}}
	cfg := testScanConfig()
	cfg.MaxRuntimeSecs = 1

	var mu sync.Mutex
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dns := dnsAbsent()
	dns.onCheck = func(string) {
		mu.Lock()
		clock = clock.Add(2 * time.Second)
		mu.Unlock()
	}
	c := newTestController(cfg, st, src, nil, dns)
	c.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return clock
	}

	sum, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StopBudgetRuntime, sum.StopReason)
	assert.Equal(t, 1, sum.ItemsScanned)
	assert.Equal(t, 2*time.Second, sum.Duration)
	assert.Equal(t, 1, loadCursor(t, st, "test").Offset)
}

func TestRun_CandidateModes(t *testing.T) {
	item := model.Item{
		ID:   "multi",
		Text: "https://youtube.com/watch?v=1 then http://first-gone.com and www.second-gone.org/path",
	}
	newSource := func() *memSource {
		return &memSource{ids: []string{"s"}, shards: map[string][]model.Item{"s": {item}}}
	}

	t.Run("first", func(t *testing.T) {
		st := newTestStore(t)
		cfg := testScanConfig()
		cfg.CandidateMode = ModeFirst
		dns := dnsAbsent("first-gone.com", "second-gone.org")

		sum, err := newTestController(cfg, st, newSource(), nil, dns).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, sum.CandidatesChecked)
		assert.Equal(t, []string{"first-gone.com"}, dns.Calls())
		assert.Len(t, allResults(t, st), 1)
	})

	t.Run("all", func(t *testing.T) {
		st := newTestStore(t)
		cfg := testScanConfig()
		cfg.ClassifyConcurrency = 4
		dns := dnsAbsent("first-gone.com", "second-gone.org")

		sum, err := newTestController(cfg, st, newSource(), nil, dns).Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, sum.CandidatesChecked)
		assert.Equal(t, 2, sum.PositiveDomains)
		assert.ElementsMatch(t, []string{"first-gone.com", "second-gone.org"}, dns.Calls())
		assert.Len(t, allResults(t, st), 2)
	})
}

func TestRun_RegisteredNotRecorded(t *testing.T) {
	st := newTestStore(t)
	sum, err := newTestController(testScanConfig(), st, scenarioSource(), nil, dnsAbsent()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.CandidatesChecked)
	assert.Equal(t, 0, sum.PositiveDomains)
	assert.Empty(t, allResults(t, st))
}

func TestRun_LedgerSkipsDoNotCountTowardsBudget(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	_, err := st.ImportProcessed(ctx, []string{"s-0", "s-1"})
	require.NoError(t, err)

	src := &memSource{ids: []string{"s"}, shards: map[string][]model.Item{"s": numberedShard("s", 5)}}
	cfg := testScanConfig()
	cfg.MaxItems = 1
	dns := dnsAbsent()

	sum, err := newTestController(cfg, st, src, nil, dns).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StopBudgetItems, sum.StopReason)
	assert.Equal(t, 2, sum.ItemsSkipped)
	assert.Equal(t, 1, sum.ItemsScanned)
	assert.Equal(t, []string{"s-site-2.com"}, dns.Calls())
	assert.Equal(t, 3, loadCursor(t, st, "test").Offset)
}

func TestRun_LedgerSharedAcrossScanNames(t *testing.T) {
	// Cursors are per scan name but item ids are global, so a second scan
	// over the same items checks nothing again.
	st := newTestStore(t)
	ctx := context.Background()
	src := &memSource{ids: []string{"s"}, shards: map[string][]model.Item{"s": numberedShard("s", 3)}}
	dns := dnsAbsent()

	first := testScanConfig()
	first.Name = "kaggle"
	sum, err := newTestController(first, st, src, nil, dns).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.ItemsScanned)

	second := testScanConfig()
	second.Name = "random"
	sum, err = newTestController(second, st, src, nil, dns).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.StopShardComplete, sum.StopReason)
	assert.Equal(t, 0, sum.ItemsScanned)
	assert.Equal(t, 3, sum.ItemsSkipped)
	assert.Len(t, dns.Calls(), 3)

	assert.True(t, loadCursor(t, st, "kaggle").ShardComplete)
	assert.True(t, loadCursor(t, st, "random").ShardComplete)
}

func TestRun_SinkFailureStopsWithoutAdvancing(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	c := NewController(testScanConfig(), st, scenarioSource(),
		extract.NewRegexExtractor(),
		domain.NewBlocklist("test"),
		newTestClassifier(dnsAbsent("totally-expired-example.test")),
		failingRecorder{},
		nil,
	)

	sum, err := c.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "item vidA")
	assert.Equal(t, model.StopFailed, sum.StopReason)

	assert.True(t, loadCursor(t, st, "test").IsZero())
	done, err := st.IsProcessed(ctx, "vidA")
	require.NoError(t, err)
	assert.False(t, done)
}

func TestRun_EmptySource(t *testing.T) {
	st := newTestStore(t)
	sum, err := newTestController(testScanConfig(), st, &memSource{}, nil, dnsAbsent()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StopExhausted, sum.StopReason)
	assert.True(t, loadCursor(t, st, "test").IsZero())
}

func TestRun_EmptyShardCompletes(t *testing.T) {
	st := newTestStore(t)
	src := &memSource{ids: []string{"empty"}, shards: map[string][]model.Item{"empty": {}}}
	sum, err := newTestController(testScanConfig(), st, src, nil, dnsAbsent()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.StopShardComplete, sum.StopReason)

	cur := loadCursor(t, st, "test")
	assert.Equal(t, "empty", cur.ShardID)
	assert.True(t, cur.ShardComplete)
}

func TestRun_HistorySaved(t *testing.T) {
	st := newTestStore(t)
	c := newTestController(testScanConfig(), st, scenarioSource(), nil, dnsAbsent())

	sum, err := c.Run(context.Background())
	require.NoError(t, err)

	runs, err := st.ListRuns(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, sum.RunID, runs[0].RunID)
	assert.Equal(t, "test", runs[0].Scan)
	assert.Equal(t, model.StopShardComplete, runs[0].StopReason)
	assert.Equal(t, 2, runs[0].ItemsScanned)
}

func TestController_Budget(t *testing.T) {
	cfg := testScanConfig()
	cfg.MaxItems = 10
	cfg.MaxPositiveDomains = 2
	cfg.MaxRuntimeSecs = 60
	c := NewController(cfg, nil, nil, nil, nil, nil, nil, nil)
	assert.Equal(t, model.RunBudget{MaxItems: 10, MaxPositiveDomains: 2, MaxRuntime: time.Minute}, c.Budget())
}

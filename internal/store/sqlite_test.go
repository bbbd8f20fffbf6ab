package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/leakscan/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

var _ Store = (*SQLiteStore)(nil)

// --- Checkpoints ---

func TestSQLite_LoadCursor_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	c, err := st.LoadCursor(context.Background(), "default")
	require.NoError(t, err)
	assert.True(t, c.IsZero())
}

func TestSQLite_SaveCursor_Roundtrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveCursor(ctx, "default", model.ShardCursor{ShardID: "shard-0001", Offset: 42}))

	c, err := st.LoadCursor(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "shard-0001", c.ShardID)
	assert.Equal(t, 42, c.Offset)
	assert.False(t, c.ShardComplete)
	assert.False(t, c.UpdatedAt.IsZero())
}

func TestSQLite_SaveCursor_Overwrites(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveCursor(ctx, "default", model.ShardCursor{ShardID: "a", Offset: 1}))
	require.NoError(t, st.SaveCursor(ctx, "default", model.ShardCursor{ShardID: "a", Offset: 9, ShardComplete: true}))

	c, err := st.LoadCursor(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, 9, c.Offset)
	assert.True(t, c.ShardComplete)
}

func TestSQLite_Cursor_PerScan(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveCursor(ctx, "alpha", model.ShardCursor{ShardID: "a", Offset: 3}))
	require.NoError(t, st.SaveCursor(ctx, "beta", model.ShardCursor{ShardID: "b", Offset: 7}))

	a, err := st.LoadCursor(ctx, "alpha")
	require.NoError(t, err)
	b, err := st.LoadCursor(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, 3, a.Offset)
	assert.Equal(t, 7, b.Offset)
}

func TestSQLite_DeleteCursor(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.SaveCursor(ctx, "default", model.ShardCursor{ShardID: "a", Offset: 5}))
	require.NoError(t, st.DeleteCursor(ctx, "default"))

	c, err := st.LoadCursor(ctx, "default")
	require.NoError(t, err)
	assert.True(t, c.IsZero())
}

// --- Ledger ---

func TestSQLite_Ledger_MarkAndCheck(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	ok, err := st.IsProcessed(ctx, "item-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.MarkProcessed(ctx, "item-1"))
	ok, err = st.IsProcessed(ctx, "item-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLite_Ledger_MarkIdempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.MarkProcessed(ctx, "item-1"))
	require.NoError(t, st.MarkProcessed(ctx, "item-1"))

	n, err := st.CountProcessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLite_Ledger_Import(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.MarkProcessed(ctx, "b"))

	n, err := st.ImportProcessed(ctx, []string{"a", "b", "", "c", "a"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	total, err := st.CountProcessed(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestSQLite_Ledger_ImportEmpty(t *testing.T) {
	st := newTestSQLiteStore(t)

	n, err := st.ImportProcessed(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// --- Results ---

func testRecord(domain, item string, v model.Verdict) model.ResultRecord {
	return model.ResultRecord{
		Domain:       domain,
		SourceItemID: item,
		RawURL:       "https://" + domain + "/",
		Verdict:      v,
		DecidedBy:    "dns",
		DiscoveredAt: time.Now().UTC(),
	}
}

func TestSQLite_UpsertResult_InsertThenNoop(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	inserted, err := st.UpsertResult(ctx, testRecord("gone.com", "item-1", model.VerdictLikelyAvailable))
	require.NoError(t, err)
	assert.True(t, inserted)

	again := testRecord("gone.com", "item-1", model.VerdictUnknown)
	again.DecidedBy = "http"
	inserted, err = st.UpsertResult(ctx, again)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := st.GetResult(ctx, model.ResultKey{Domain: "gone.com", SourceItemID: "item-1"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.VerdictLikelyAvailable, got.Verdict)
	assert.Equal(t, "dns", got.DecidedBy)
	assert.Nil(t, got.VerifiedAt)
}

func TestSQLite_UpsertResult_SameDomainDifferentItems(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpsertResult(ctx, testRecord("gone.com", "a", model.VerdictLikelyAvailable))
	require.NoError(t, err)
	inserted, err := st.UpsertResult(ctx, testRecord("gone.com", "b", model.VerdictLikelyAvailable))
	require.NoError(t, err)
	assert.True(t, inserted)

	counts, err := st.CountResults(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[model.VerdictLikelyAvailable])
}

func TestSQLite_GetResult_Missing(t *testing.T) {
	st := newTestSQLiteStore(t)

	got, err := st.GetResult(context.Background(), model.ResultKey{Domain: "x.com", SourceItemID: "1"})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_ListResults_FilterByVerdict(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, rec := range []model.ResultRecord{
		testRecord("a.com", "1", model.VerdictLikelyAvailable),
		testRecord("b.com", "2", model.VerdictUnknown),
		testRecord("c.com", "3", model.VerdictLikelyRegistered),
	} {
		_, err := st.UpsertResult(ctx, rec)
		require.NoError(t, err)
	}

	got, err := st.ListResults(ctx, ResultFilter{
		Verdicts: []model.Verdict{model.VerdictLikelyAvailable, model.VerdictUnknown},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	domains := []string{got[0].Domain, got[1].Domain}
	assert.ElementsMatch(t, []string{"a.com", "b.com"}, domains)

	all, err := st.ListResults(ctx, ResultFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLite_ListResults_StaleFirst(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, d := range []string{"old.com", "new.com", "never.com"} {
		rec := testRecord(d, "1", model.VerdictLikelyAvailable)
		rec.DiscoveredAt = base.Add(time.Duration(i) * time.Hour)
		_, err := st.UpsertResult(ctx, rec)
		require.NoError(t, err)
	}
	require.NoError(t, st.UpdateVerdict(ctx, model.ResultKey{Domain: "new.com", SourceItemID: "1"},
		model.VerdictLikelyAvailable, "registrar", base.Add(48*time.Hour)))
	require.NoError(t, st.UpdateVerdict(ctx, model.ResultKey{Domain: "old.com", SourceItemID: "1"},
		model.VerdictLikelyAvailable, "registrar", base.Add(24*time.Hour)))

	got, err := st.ListResults(ctx, ResultFilter{StaleFirst: true})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "never.com", got[0].Domain)
	assert.Equal(t, "old.com", got[1].Domain)
	assert.Equal(t, "new.com", got[2].Domain)
}

func TestSQLite_UpdateVerdict(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	key := model.ResultKey{Domain: "maybe.com", SourceItemID: "7"}

	_, err := st.UpsertResult(ctx, testRecord("maybe.com", "7", model.VerdictUnknown))
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, st.UpdateVerdict(ctx, key, model.VerdictLikelyAvailable, "registrar", now))

	got, err := st.GetResult(ctx, key)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.VerdictLikelyAvailable, got.Verdict)
	assert.Equal(t, "registrar", got.DecidedBy)
	require.NotNil(t, got.VerifiedAt)
	assert.True(t, now.Equal(got.VerifiedAt.UTC()))
}

func TestSQLite_UpdateVerdict_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateVerdict(context.Background(), model.ResultKey{Domain: "x.com", SourceItemID: "1"},
		model.VerdictLikelyAvailable, "dns", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "result not found")
}

func TestSQLite_DeleteResult(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	key := model.ResultKey{Domain: "taken.com", SourceItemID: "1"}

	_, err := st.UpsertResult(ctx, testRecord("taken.com", "1", model.VerdictLikelyAvailable))
	require.NoError(t, err)
	require.NoError(t, st.DeleteResult(ctx, key))

	got, err := st.GetResult(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got)
}

// --- Runs ---

func TestSQLite_Runs_SaveAndList(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-1", "run-2"} {
		require.NoError(t, st.SaveRun(ctx, model.RunSummary{
			RunID:           id,
			Scan:            "default",
			ShardID:         "shard-0",
			EndOffset:       10 * (i + 1),
			ItemsScanned:    10,
			PositiveDomains: i,
			StopReason:      model.StopBudgetItems,
			StartedAt:       base.Add(time.Duration(i) * time.Minute),
			Duration:        1500 * time.Millisecond,
		}))
	}

	runs, err := st.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, 20, runs[0].EndOffset)
	assert.Equal(t, model.StopBudgetItems, runs[0].StopReason)
	assert.Equal(t, 1500*time.Millisecond, runs[0].Duration)
}

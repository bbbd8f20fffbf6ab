package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/leakscan/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS checkpoints (
	scan           TEXT PRIMARY KEY,
	shard_id       TEXT NOT NULL DEFAULT '',
	shard_offset   INTEGER NOT NULL DEFAULT 0,
	shard_complete INTEGER NOT NULL DEFAULT 0,
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS processed_items (
	item_id      TEXT PRIMARY KEY,
	processed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS results (
	domain         TEXT NOT NULL,
	source_item_id TEXT NOT NULL,
	raw_url        TEXT NOT NULL DEFAULT '',
	verdict        TEXT NOT NULL,
	decided_by     TEXT NOT NULL DEFAULT '',
	discovered_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	verified_at    DATETIME,
	PRIMARY KEY (domain, source_item_id)
);

CREATE TABLE IF NOT EXISTS runs (
	id                 TEXT PRIMARY KEY,
	scan               TEXT NOT NULL,
	shard_id           TEXT NOT NULL DEFAULT '',
	start_offset       INTEGER NOT NULL DEFAULT 0,
	end_offset         INTEGER NOT NULL DEFAULT 0,
	items_scanned      INTEGER NOT NULL DEFAULT 0,
	items_skipped      INTEGER NOT NULL DEFAULT 0,
	candidates_checked INTEGER NOT NULL DEFAULT 0,
	positive_domains   INTEGER NOT NULL DEFAULT 0,
	unknown_domains    INTEGER NOT NULL DEFAULT 0,
	stop_reason        TEXT NOT NULL,
	started_at         DATETIME NOT NULL,
	duration_ms        INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_results_verdict ON results(verdict);
CREATE INDEX IF NOT EXISTS idx_results_verified_at ON results(verified_at);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Checkpoints ---

func (s *SQLiteStore) LoadCursor(ctx context.Context, scan string) (model.ShardCursor, error) {
	var (
		c        model.ShardCursor
		complete int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT shard_id, shard_offset, shard_complete, updated_at FROM checkpoints WHERE scan = ?`,
		scan,
	).Scan(&c.ShardID, &c.Offset, &complete, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ShardCursor{}, nil
	}
	if err != nil {
		return model.ShardCursor{}, eris.Wrapf(err, "sqlite: load cursor %s", scan)
	}
	c.ShardComplete = complete != 0
	return c, nil
}

func (s *SQLiteStore) SaveCursor(ctx context.Context, scan string, cursor model.ShardCursor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (scan, shard_id, shard_offset, shard_complete, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(scan) DO UPDATE SET
			shard_id = excluded.shard_id,
			shard_offset = excluded.shard_offset,
			shard_complete = excluded.shard_complete,
			updated_at = excluded.updated_at`,
		scan, cursor.ShardID, cursor.Offset, boolToInt(cursor.ShardComplete), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save cursor %s", scan)
}

func (s *SQLiteStore) DeleteCursor(ctx context.Context, scan string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE scan = ?`, scan)
	return eris.Wrapf(err, "sqlite: delete cursor %s", scan)
}

// --- Ledger ---

func (s *SQLiteStore) IsProcessed(ctx context.Context, itemID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM processed_items WHERE item_id = ?`, itemID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: is processed %s", itemID)
	}
	return true, nil
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, itemID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_items (item_id, processed_at) VALUES (?, ?) ON CONFLICT(item_id) DO NOTHING`,
		itemID, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: mark processed %s", itemID)
}

func (s *SQLiteStore) ImportProcessed(ctx context.Context, itemIDs []string) (int64, error) {
	ids := cleanIDs(itemIDs)
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import processed: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO processed_items (item_id, processed_at) VALUES (?, ?) ON CONFLICT(item_id) DO NOTHING`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import processed: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	var inserted int64
	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, id, now)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: import processed %s", id)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: import processed: rows affected")
		}
		inserted += n
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import processed: commit")
	}
	return inserted, nil
}

func (s *SQLiteStore) CountProcessed(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM processed_items`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count processed")
}

// --- Results ---

const sqliteResultColumns = `domain, source_item_id, raw_url, verdict, decided_by, discovered_at, verified_at`

func (s *SQLiteStore) UpsertResult(ctx context.Context, rec model.ResultRecord) (bool, error) {
	discovered := rec.DiscoveredAt
	if discovered.IsZero() {
		discovered = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO results (`+sqliteResultColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(domain, source_item_id) DO NOTHING`,
		rec.Domain, rec.SourceItemID, rec.RawURL, string(rec.Verdict), rec.DecidedBy,
		discovered.UTC(), nullTime(rec.VerifiedAt),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: upsert result %s", rec.Domain)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: upsert result: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) GetResult(ctx context.Context, key model.ResultKey) (*model.ResultRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteResultColumns+` FROM results WHERE domain = ? AND source_item_id = ?`,
		key.Domain, key.SourceItemID,
	)
	rec, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get result %s", key.Domain)
	}
	return rec, nil
}

func (s *SQLiteStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.ResultRecord, error) {
	query := `SELECT ` + sqliteResultColumns + ` FROM results WHERE 1=1`
	var args []any

	if len(filter.Verdicts) > 0 {
		query += ` AND verdict IN (?` + strings.Repeat(", ?", len(filter.Verdicts)-1) + `)`
		for _, v := range verdictStrings(filter.Verdicts) {
			args = append(args, v)
		}
	}
	if filter.StaleFirst {
		query += ` ORDER BY verified_at IS NOT NULL, verified_at ASC, discovered_at ASC`
	} else {
		query += ` ORDER BY discovered_at DESC, domain ASC`
	}

	query += ` LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list results")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ResultRecord
	for rows.Next() {
		rec, err := scanResult(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list results iterate")
}

func (s *SQLiteStore) UpdateVerdict(ctx context.Context, key model.ResultKey, verdict model.Verdict, decidedBy string, verifiedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE results SET verdict = ?, decided_by = ?, verified_at = ? WHERE domain = ? AND source_item_id = ?`,
		string(verdict), decidedBy, verifiedAt.UTC(), key.Domain, key.SourceItemID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update verdict %s", key.Domain)
	}
	return checkRowsAffected(res, "result", key.Domain+"/"+key.SourceItemID)
}

func (s *SQLiteStore) DeleteResult(ctx context.Context, key model.ResultKey) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM results WHERE domain = ? AND source_item_id = ?`, key.Domain, key.SourceItemID)
	return eris.Wrapf(err, "sqlite: delete result %s", key.Domain)
}

func (s *SQLiteStore) CountResults(ctx context.Context) (map[model.Verdict]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT verdict, COUNT(*) FROM results GROUP BY verdict`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count results")
	}
	defer rows.Close() //nolint:errcheck

	counts := make(map[model.Verdict]int64)
	for rows.Next() {
		var (
			v string
			n int64
		)
		if err := rows.Scan(&v, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan count")
		}
		counts[model.Verdict(v)] = n
	}
	return counts, eris.Wrap(rows.Err(), "sqlite: count results iterate")
}

// --- Runs ---

func (s *SQLiteStore) SaveRun(ctx context.Context, sum model.RunSummary) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, scan, shard_id, start_offset, end_offset, items_scanned, items_skipped,
			candidates_checked, positive_domains, unknown_domains, stop_reason, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sum.RunID, sum.Scan, sum.ShardID, sum.StartOffset, sum.EndOffset, sum.ItemsScanned, sum.ItemsSkipped,
		sum.CandidatesChecked, sum.PositiveDomains, sum.UnknownDomains, string(sum.StopReason),
		sum.StartedAt.UTC(), sum.Duration.Milliseconds(),
	)
	return eris.Wrapf(err, "sqlite: save run %s", sum.RunID)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, scan, shard_id, start_offset, end_offset, items_scanned, items_skipped,
			candidates_checked, positive_domains, unknown_domains, stop_reason, started_at, duration_ms
		 FROM runs ORDER BY started_at DESC LIMIT ?`,
		listLimit(limit),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.RunSummary
	for rows.Next() {
		sum, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		out = append(out, *sum)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

// --- Helpers ---

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanResult(row scannable) (*model.ResultRecord, error) {
	var (
		rec      model.ResultRecord
		verdict  string
		verified sql.NullTime
	)
	if err := row.Scan(&rec.Domain, &rec.SourceItemID, &rec.RawURL, &verdict, &rec.DecidedBy,
		&rec.DiscoveredAt, &verified); err != nil {
		return nil, err
	}
	v, err := model.ParseVerdict(verdict)
	if err != nil {
		return nil, err
	}
	rec.Verdict = v
	if verified.Valid {
		t := verified.Time
		rec.VerifiedAt = &t
	}
	return &rec, nil
}

func scanRun(row scannable) (*model.RunSummary, error) {
	var (
		sum        model.RunSummary
		stop       string
		durationMs int64
	)
	if err := row.Scan(&sum.RunID, &sum.Scan, &sum.ShardID, &sum.StartOffset, &sum.EndOffset,
		&sum.ItemsScanned, &sum.ItemsSkipped, &sum.CandidatesChecked, &sum.PositiveDomains,
		&sum.UnknownDomains, &stop, &sum.StartedAt, &durationMs); err != nil {
		return nil, err
	}
	sum.StopReason = model.StopReason(stop)
	sum.Duration = time.Duration(durationMs) * time.Millisecond
	return &sum, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

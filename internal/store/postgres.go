package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/leakscan/internal/db"
	"github.com/sells-group/leakscan/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements are prepared on each new connection. They cover the
// per-item hot path of a scan.
var preparedStatements = map[string]string{
	"is_processed":   `SELECT 1 FROM processed_items WHERE item_id = $1`,
	"mark_processed": `INSERT INTO processed_items (item_id, processed_at) VALUES ($1, $2) ON CONFLICT (item_id) DO NOTHING`,
	"save_cursor":    saveCursorSQL,
	"upsert_result":  upsertResultSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS checkpoints (
	scan           TEXT PRIMARY KEY,
	shard_id       TEXT NOT NULL DEFAULT '',
	shard_offset   INTEGER NOT NULL DEFAULT 0,
	shard_complete BOOLEAN NOT NULL DEFAULT false,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS processed_items (
	item_id      TEXT PRIMARY KEY,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS results (
	domain         TEXT NOT NULL,
	source_item_id TEXT NOT NULL,
	raw_url        TEXT NOT NULL DEFAULT '',
	verdict        TEXT NOT NULL,
	decided_by     TEXT NOT NULL DEFAULT '',
	discovered_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	verified_at    TIMESTAMPTZ,
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
	started_at         TIMESTAMPTZ NOT NULL,
	duration_ms        BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_results_verdict ON results(verdict);
CREATE INDEX IF NOT EXISTS idx_results_verified_at ON results(verified_at NULLS FIRST);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

const (
	saveCursorSQL = `INSERT INTO checkpoints (scan, shard_id, shard_offset, shard_complete, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scan) DO UPDATE SET
			shard_id = EXCLUDED.shard_id,
			shard_offset = EXCLUDED.shard_offset,
			shard_complete = EXCLUDED.shard_complete,
			updated_at = EXCLUDED.updated_at`

	pgResultColumns = `domain, source_item_id, raw_url, verdict, decided_by, discovered_at, verified_at`

	upsertResultSQL = `INSERT INTO results (` + pgResultColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (domain, source_item_id) DO NOTHING`

	pgRunColumns = `id, scan, shard_id, start_offset, end_offset, items_scanned, items_skipped,
		candidates_checked, positive_domains, unknown_domains, stop_reason, started_at, duration_ms`
)

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Checkpoints ---

func (s *PostgresStore) LoadCursor(ctx context.Context, scan string) (model.ShardCursor, error) {
	var c model.ShardCursor
	err := s.pool.QueryRow(ctx,
		`SELECT shard_id, shard_offset, shard_complete, updated_at FROM checkpoints WHERE scan = $1`,
		scan,
	).Scan(&c.ShardID, &c.Offset, &c.ShardComplete, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ShardCursor{}, nil
	}
	if err != nil {
		return model.ShardCursor{}, eris.Wrapf(err, "postgres: load cursor %s", scan)
	}
	return c, nil
}

func (s *PostgresStore) SaveCursor(ctx context.Context, scan string, cursor model.ShardCursor) error {
	_, err := s.pool.Exec(ctx, saveCursorSQL,
		scan, cursor.ShardID, cursor.Offset, cursor.ShardComplete, time.Now().UTC())
	return eris.Wrapf(err, "postgres: save cursor %s", scan)
}

func (s *PostgresStore) DeleteCursor(ctx context.Context, scan string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE scan = $1`, scan)
	return eris.Wrapf(err, "postgres: delete cursor %s", scan)
}

// --- Ledger ---

func (s *PostgresStore) IsProcessed(ctx context.Context, itemID string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM processed_items WHERE item_id = $1`, itemID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: is processed %s", itemID)
	}
	return true, nil
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, itemID string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processed_items (item_id, processed_at) VALUES ($1, $2) ON CONFLICT (item_id) DO NOTHING`,
		itemID, time.Now().UTC())
	return eris.Wrapf(err, "postgres: mark processed %s", itemID)
}

func (s *PostgresStore) ImportProcessed(ctx context.Context, itemIDs []string) (int64, error) {
	ids := cleanIDs(itemIDs)
	now := time.Now().UTC()
	rows := make([][]any, len(ids))
	for i, id := range ids {
		rows[i] = []any{id, now}
	}
	n, err := db.BulkInsertIgnore(ctx, s.pool, db.InsertConfig{
		Table:        "processed_items",
		Columns:      []string{"item_id", "processed_at"},
		ConflictKeys: []string{"item_id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: import processed")
}

func (s *PostgresStore) CountProcessed(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM processed_items`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count processed")
}

// --- Results ---

func (s *PostgresStore) UpsertResult(ctx context.Context, rec model.ResultRecord) (bool, error) {
	discovered := rec.DiscoveredAt
	if discovered.IsZero() {
		discovered = time.Now()
	}
	tag, err := s.pool.Exec(ctx, upsertResultSQL,
		rec.Domain, rec.SourceItemID, rec.RawURL, string(rec.Verdict), rec.DecidedBy,
		discovered.UTC(), rec.VerifiedAt)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: upsert result %s", rec.Domain)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) GetResult(ctx context.Context, key model.ResultKey) (*model.ResultRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgResultColumns+` FROM results WHERE domain = $1 AND source_item_id = $2`,
		key.Domain, key.SourceItemID)
	rec, err := scanPgResult(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get result %s", key.Domain)
	}
	return rec, nil
}

func (s *PostgresStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.ResultRecord, error) {
	query := `SELECT ` + pgResultColumns + ` FROM results WHERE 1=1`
	var args []any

	if len(filter.Verdicts) > 0 {
		args = append(args, verdictStrings(filter.Verdicts))
		query += ` AND verdict = ANY($1)`
	}
	if filter.StaleFirst {
		query += ` ORDER BY verified_at ASC NULLS FIRST, discovered_at ASC`
	} else {
		query += ` ORDER BY discovered_at DESC, domain ASC`
	}

	args = append(args, listLimit(filter.Limit))
	query += ` LIMIT ` + placeholder(len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += ` OFFSET ` + placeholder(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list results")
	}
	defer rows.Close()

	var out []model.ResultRecord
	for rows.Next() {
		rec, err := scanPgResult(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list results iterate")
}

func (s *PostgresStore) UpdateVerdict(ctx context.Context, key model.ResultKey, verdict model.Verdict, decidedBy string, verifiedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE results SET verdict = $1, decided_by = $2, verified_at = $3 WHERE domain = $4 AND source_item_id = $5`,
		string(verdict), decidedBy, verifiedAt.UTC(), key.Domain, key.SourceItemID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update verdict %s", key.Domain)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("result not found: %s/%s", key.Domain, key.SourceItemID)
	}
	return nil
}

func (s *PostgresStore) DeleteResult(ctx context.Context, key model.ResultKey) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM results WHERE domain = $1 AND source_item_id = $2`, key.Domain, key.SourceItemID)
	return eris.Wrapf(err, "postgres: delete result %s", key.Domain)
}

func (s *PostgresStore) CountResults(ctx context.Context) (map[model.Verdict]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT verdict, COUNT(*) FROM results GROUP BY verdict`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count results")
	}
	defer rows.Close()

	counts := make(map[model.Verdict]int64)
	for rows.Next() {
		var (
			v string
			n int64
		)
		if err := rows.Scan(&v, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan count")
		}
		counts[model.Verdict(v)] = n
	}
	return counts, eris.Wrap(rows.Err(), "postgres: count results iterate")
}

// --- Runs ---

func (s *PostgresStore) SaveRun(ctx context.Context, sum model.RunSummary) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (`+pgRunColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sum.RunID, sum.Scan, sum.ShardID, sum.StartOffset, sum.EndOffset, sum.ItemsScanned, sum.ItemsSkipped,
		sum.CandidatesChecked, sum.PositiveDomains, sum.UnknownDomains, string(sum.StopReason),
		sum.StartedAt.UTC(), sum.Duration.Milliseconds())
	return eris.Wrapf(err, "postgres: save run %s", sum.RunID)
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.RunSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgRunColumns+` FROM runs ORDER BY started_at DESC LIMIT $1`, listLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.RunSummary
	for rows.Next() {
		sum, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		out = append(out, *sum)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func scanPgResult(row scannable) (*model.ResultRecord, error) {
	var (
		rec     model.ResultRecord
		verdict string
	)
	if err := row.Scan(&rec.Domain, &rec.SourceItemID, &rec.RawURL, &verdict, &rec.DecidedBy,
		&rec.DiscoveredAt, &rec.VerifiedAt); err != nil {
		return nil, err
	}
	v, err := model.ParseVerdict(verdict)
	if err != nil {
		return nil, err
	}
	rec.Verdict = v
	return &rec, nil
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/torn-tools/bazaarwatch/internal/model"
)

// pgxPool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// in tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool pgxPool
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS inventory_snapshots (
	actor_id   BIGINT PRIMARY KEY,
	items      JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS tracked_targets (
	actor_id                  BIGINT PRIMARY KEY,
	actor_name                TEXT NOT NULL,
	accumulated_value         BIGINT NOT NULL,
	sales_breakdown           JSONB NOT NULL DEFAULT '{}',
	last_action_minutes       INTEGER NOT NULL DEFAULT 999,
	status_state              TEXT NOT NULL DEFAULT 'Unknown',
	status_description        TEXT NOT NULL DEFAULT '',
	status_condition          TEXT NOT NULL DEFAULT 'unknown',
	mugged_by                 TEXT NOT NULL DEFAULT '',
	travel_state              TEXT NOT NULL DEFAULT 'Okay',
	transit_deduction_applied BOOLEAN NOT NULL DEFAULT FALSE,
	first_detected            TIMESTAMPTZ NOT NULL,
	last_sale_time            TIMESTAMPTZ NOT NULL,
	last_alerted_at           TIMESTAMPTZ,
	last_alerted_value        BIGINT
);

CREATE TABLE IF NOT EXISTS transaction_log (
	id          TEXT PRIMARY KEY,
	actor_id    BIGINT NOT NULL,
	actor_name  TEXT NOT NULL,
	item_id     BIGINT NOT NULL,
	item_name   TEXT NOT NULL,
	quantity    BIGINT NOT NULL,
	unit_price  BIGINT NOT NULL,
	total_value BIGINT NOT NULL,
	detected_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS alert_log (
	id                TEXT PRIMARY KEY,
	actor_id          BIGINT NOT NULL,
	actor_name        TEXT NOT NULL,
	accumulated_value BIGINT NOT NULL,
	sales_breakdown   JSONB NOT NULL DEFAULT '{}',
	sent_at           TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS monitored_items (
	item_id   BIGINT PRIMARY KEY,
	item_name TEXT NOT NULL,
	enabled   BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE INDEX IF NOT EXISTS idx_targets_accumulated ON tracked_targets(accumulated_value);
CREATE INDEX IF NOT EXISTS idx_txn_actor ON transaction_log(actor_id);
CREATE INDEX IF NOT EXISTS idx_txn_detected_at ON transaction_log(detected_at);
CREATE INDEX IF NOT EXISTS idx_alerts_sent_at ON alert_log(sent_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetSnapshot(ctx context.Context, actorID int64) (model.InventorySnapshot, error) {
	var itemsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT items FROM inventory_snapshots WHERE actor_id = $1`, actorID,
	).Scan(&itemsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get snapshot")
	}

	snap := model.InventorySnapshot{}
	if err := json.Unmarshal(itemsJSON, &snap); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal snapshot")
	}
	return snap, nil
}

func (s *PostgresStore) PutSnapshot(ctx context.Context, actorID int64, snap model.InventorySnapshot) error {
	if snap == nil {
		snap = model.InventorySnapshot{}
	}
	itemsJSON, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal snapshot")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO inventory_snapshots (actor_id, items, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (actor_id) DO UPDATE SET items = EXCLUDED.items, updated_at = EXCLUDED.updated_at`,
		actorID, itemsJSON, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: put snapshot")
}

const pgTargetColumns = `actor_id, actor_name, accumulated_value, sales_breakdown,
	last_action_minutes, status_state, status_description, status_condition, mugged_by,
	travel_state, transit_deduction_applied, first_detected, last_sale_time,
	last_alerted_at, last_alerted_value`

func scanPgTarget(row pgx.Row) (*model.TargetRecord, error) {
	var (
		rec           model.TargetRecord
		breakdownJSON []byte
		condition     string
		alertedAt     *time.Time
		alertedValue  *int64
	)
	err := row.Scan(
		&rec.ActorID, &rec.ActorName, &rec.AccumulatedValue, &breakdownJSON,
		&rec.LastActionMinutes, &rec.StatusState, &rec.StatusDescription,
		&condition, &rec.MuggedBy, &rec.TravelState, &rec.TransitDeductionApplied,
		&rec.FirstDetected, &rec.LastSaleTime, &alertedAt, &alertedValue,
	)
	if err != nil {
		return nil, err
	}
	rec.Condition = model.StatusCondition(condition)
	rec.SalesBreakdown = map[int64]int64{}
	if err := json.Unmarshal(breakdownJSON, &rec.SalesBreakdown); err != nil {
		return nil, eris.Wrap(err, "unmarshal sales breakdown")
	}
	rec.LastAlertedAt = alertedAt
	rec.LastAlertedValue = alertedValue
	return &rec, nil
}

func (s *PostgresStore) GetTarget(ctx context.Context, actorID int64) (*model.TargetRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+pgTargetColumns+` FROM tracked_targets WHERE actor_id = $1`, actorID)
	rec, err := scanPgTarget(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get target")
	}
	return rec, nil
}

func (s *PostgresStore) PutTarget(ctx context.Context, rec *model.TargetRecord) error {
	breakdownJSON, err := json.Marshal(rec.SalesBreakdown)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal sales breakdown")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO tracked_targets (`+pgTargetColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (actor_id) DO UPDATE SET
			actor_name = EXCLUDED.actor_name,
			accumulated_value = EXCLUDED.accumulated_value,
			sales_breakdown = EXCLUDED.sales_breakdown,
			last_action_minutes = EXCLUDED.last_action_minutes,
			status_state = EXCLUDED.status_state,
			status_description = EXCLUDED.status_description,
			status_condition = EXCLUDED.status_condition,
			mugged_by = EXCLUDED.mugged_by,
			travel_state = EXCLUDED.travel_state,
			transit_deduction_applied = EXCLUDED.transit_deduction_applied,
			first_detected = EXCLUDED.first_detected,
			last_sale_time = EXCLUDED.last_sale_time,
			last_alerted_at = EXCLUDED.last_alerted_at,
			last_alerted_value = EXCLUDED.last_alerted_value`,
		rec.ActorID, rec.ActorName, rec.AccumulatedValue, breakdownJSON,
		rec.LastActionMinutes, rec.StatusState, rec.StatusDescription,
		string(rec.Condition), rec.MuggedBy, rec.TravelState,
		rec.TransitDeductionApplied, rec.FirstDetected, rec.LastSaleTime,
		rec.LastAlertedAt, rec.LastAlertedValue,
	)
	return eris.Wrap(err, "postgres: put target")
}

func (s *PostgresStore) DeleteTarget(ctx context.Context, actorID int64) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tracked_targets WHERE actor_id = $1`, actorID)
	return eris.Wrap(err, "postgres: delete target")
}

func (s *PostgresStore) ListTargets(ctx context.Context) ([]model.TargetRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgTargetColumns+` FROM tracked_targets ORDER BY accumulated_value DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list targets")
	}
	defer rows.Close()
	return collectPgTargets(rows)
}

func (s *PostgresStore) QueryEligible(ctx context.Context, minValue int64, minInactivityMinutes int) ([]model.TargetRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+pgTargetColumns+` FROM tracked_targets
		WHERE accumulated_value >= $1
		AND last_action_minutes >= $2
		AND status_state = 'Okay'
		AND (last_alerted_value IS NULL OR accumulated_value > last_alerted_value)
		ORDER BY accumulated_value DESC`,
		minValue, minInactivityMinutes,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query eligible")
	}
	defer rows.Close()
	return collectPgTargets(rows)
}

func collectPgTargets(rows pgx.Rows) ([]model.TargetRecord, error) {
	var targets []model.TargetRecord
	for rows.Next() {
		rec, err := scanPgTarget(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan target")
		}
		targets = append(targets, *rec)
	}
	return targets, eris.Wrap(rows.Err(), "iterate targets")
}

func (s *PostgresStore) MarkAlerted(ctx context.Context, actorID int64, value int64, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tracked_targets
		SET last_alerted_at = $1, last_alerted_value = $2
		WHERE actor_id = $3`,
		at.UTC(), value, actorID,
	)
	return eris.Wrap(err, "postgres: mark alerted")
}

func (s *PostgresStore) AppendTransaction(ctx context.Context, txn model.Transaction) error {
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transaction_log (id, actor_id, actor_name, item_id, item_name, quantity, unit_price, total_value, detected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		txn.ID, txn.ActorID, txn.ActorName, txn.ItemID, txn.ItemName,
		txn.Quantity, txn.UnitPrice, txn.TotalValue, txn.DetectedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: append transaction")
}

func (s *PostgresStore) ListTransactions(ctx context.Context, actorID int64, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, actor_id, actor_name, item_id, item_name, quantity, unit_price, total_value, detected_at
		FROM transaction_log
		WHERE actor_id = $1
		ORDER BY detected_at DESC
		LIMIT $2`,
		actorID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list transactions")
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.ID, &t.ActorID, &t.ActorName, &t.ItemID, &t.ItemName,
			&t.Quantity, &t.UnitPrice, &t.TotalValue, &t.DetectedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan transaction")
		}
		txns = append(txns, t)
	}
	return txns, eris.Wrap(rows.Err(), "postgres: iterate transactions")
}

func (s *PostgresStore) PruneTransactions(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM transaction_log WHERE detected_at < $1`, olderThan.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "postgres: prune transactions")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) LogAlert(ctx context.Context, entry model.AlertEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	breakdownJSON, err := json.Marshal(entry.SalesBreakdown)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal alert breakdown")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO alert_log (id, actor_id, actor_name, accumulated_value, sales_breakdown, sent_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.ActorID, entry.ActorName, entry.AccumulatedValue,
		breakdownJSON, entry.SentAt.UTC(),
	)
	return eris.Wrap(err, "postgres: log alert")
}

func (s *PostgresStore) RecentAlerts(ctx context.Context, limit int) ([]model.AlertEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, actor_id, actor_name, accumulated_value, sales_breakdown, sent_at
		FROM alert_log
		ORDER BY sent_at DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: recent alerts")
	}
	defer rows.Close()

	var alerts []model.AlertEntry
	for rows.Next() {
		var (
			e             model.AlertEntry
			breakdownJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorName, &e.AccumulatedValue,
			&breakdownJSON, &e.SentAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan alert")
		}
		e.SalesBreakdown = map[int64]int64{}
		if err := json.Unmarshal(breakdownJSON, &e.SalesBreakdown); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal alert breakdown")
		}
		alerts = append(alerts, e)
	}
	return alerts, eris.Wrap(rows.Err(), "postgres: iterate alerts")
}

func (s *PostgresStore) CountAlertsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM alert_log WHERE sent_at >= $1`, since.UTC(),
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count alerts")
}

func (s *PostgresStore) UpsertItem(ctx context.Context, item model.MonitoredItem) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO monitored_items (item_id, item_name, enabled)
		VALUES ($1, $2, $3)
		ON CONFLICT (item_id) DO UPDATE SET item_name = EXCLUDED.item_name, enabled = EXCLUDED.enabled`,
		item.ItemID, item.ItemName, item.Enabled,
	)
	return eris.Wrap(err, "postgres: upsert item")
}

func (s *PostgresStore) SetItemEnabled(ctx context.Context, itemID int64, enabled bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE monitored_items SET enabled = $1 WHERE item_id = $2`,
		enabled, itemID,
	)
	return eris.Wrap(err, "postgres: set item enabled")
}

func (s *PostgresStore) ListItems(ctx context.Context) ([]model.MonitoredItem, error) {
	return s.queryItems(ctx, `SELECT item_id, item_name, enabled FROM monitored_items ORDER BY item_id`)
}

func (s *PostgresStore) EnabledItems(ctx context.Context) ([]model.MonitoredItem, error) {
	return s.queryItems(ctx, `SELECT item_id, item_name, enabled FROM monitored_items WHERE enabled ORDER BY item_id`)
}

func (s *PostgresStore) queryItems(ctx context.Context, query string) ([]model.MonitoredItem, error) {
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query items")
	}
	defer rows.Close()

	var items []model.MonitoredItem
	for rows.Next() {
		var it model.MonitoredItem
		if err := rows.Scan(&it.ItemID, &it.ItemName, &it.Enabled); err != nil {
			return nil, eris.Wrap(err, "postgres: scan item")
		}
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "postgres: iterate items")
}

func (s *PostgresStore) ItemNames(ctx context.Context) (map[int64]string, error) {
	items, err := s.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(items))
	for _, it := range items {
		names[it.ItemID] = it.ItemName
	}
	return names, nil
}

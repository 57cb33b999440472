package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/torn-tools/bazaarwatch/internal/model"
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
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS inventory_snapshots (
	actor_id   INTEGER PRIMARY KEY,
	items      TEXT NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tracked_targets (
	actor_id                  INTEGER PRIMARY KEY,
	actor_name                TEXT NOT NULL,
	accumulated_value         INTEGER NOT NULL,
	sales_breakdown           TEXT NOT NULL DEFAULT '{}',
	last_action_minutes       INTEGER NOT NULL DEFAULT 999,
	status_state              TEXT NOT NULL DEFAULT 'Unknown',
	status_description        TEXT NOT NULL DEFAULT '',
	status_condition          TEXT NOT NULL DEFAULT 'unknown',
	mugged_by                 TEXT NOT NULL DEFAULT '',
	travel_state              TEXT NOT NULL DEFAULT 'Okay',
	transit_deduction_applied INTEGER NOT NULL DEFAULT 0,
	first_detected            DATETIME NOT NULL,
	last_sale_time            DATETIME NOT NULL,
	last_alerted_at           DATETIME,
	last_alerted_value        INTEGER
);

CREATE TABLE IF NOT EXISTS transaction_log (
	id          TEXT PRIMARY KEY,
	actor_id    INTEGER NOT NULL,
	actor_name  TEXT NOT NULL,
	item_id     INTEGER NOT NULL,
	item_name   TEXT NOT NULL,
	quantity    INTEGER NOT NULL,
	unit_price  INTEGER NOT NULL,
	total_value INTEGER NOT NULL,
	detected_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS alert_log (
	id                TEXT PRIMARY KEY,
	actor_id          INTEGER NOT NULL,
	actor_name        TEXT NOT NULL,
	accumulated_value INTEGER NOT NULL,
	sales_breakdown   TEXT NOT NULL DEFAULT '{}',
	sent_at           DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS monitored_items (
	item_id   INTEGER PRIMARY KEY,
	item_name TEXT NOT NULL,
	enabled   INTEGER NOT NULL DEFAULT 1
);

CREATE INDEX IF NOT EXISTS idx_targets_accumulated ON tracked_targets(accumulated_value);
CREATE INDEX IF NOT EXISTS idx_txn_actor ON transaction_log(actor_id);
CREATE INDEX IF NOT EXISTS idx_txn_detected_at ON transaction_log(detected_at);
CREATE INDEX IF NOT EXISTS idx_alerts_sent_at ON alert_log(sent_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetSnapshot(ctx context.Context, actorID int64) (model.InventorySnapshot, error) {
	var itemsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT items FROM inventory_snapshots WHERE actor_id = ?`, actorID,
	).Scan(&itemsJSON)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get snapshot")
	}

	snap := model.InventorySnapshot{}
	if err := json.Unmarshal([]byte(itemsJSON), &snap); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal snapshot")
	}
	return snap, nil
}

func (s *SQLiteStore) PutSnapshot(ctx context.Context, actorID int64, snap model.InventorySnapshot) error {
	if snap == nil {
		snap = model.InventorySnapshot{}
	}
	itemsJSON, err := json.Marshal(snap)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal snapshot")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO inventory_snapshots (actor_id, items, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(actor_id) DO UPDATE SET items = excluded.items, updated_at = excluded.updated_at`,
		actorID, string(itemsJSON), time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: put snapshot")
}

const targetColumns = `actor_id, actor_name, accumulated_value, sales_breakdown,
	last_action_minutes, status_state, status_description, status_condition, mugged_by,
	travel_state, transit_deduction_applied, first_detected, last_sale_time,
	last_alerted_at, last_alerted_value`

func scanTarget(row interface{ Scan(...any) error }) (*model.TargetRecord, error) {
	var (
		rec           model.TargetRecord
		breakdownJSON string
		deduction     int64
		alertedAt     sql.NullTime
		alertedValue  sql.NullInt64
	)
	err := row.Scan(
		&rec.ActorID, &rec.ActorName, &rec.AccumulatedValue, &breakdownJSON,
		&rec.LastActionMinutes, &rec.StatusState, &rec.StatusDescription,
		&rec.Condition, &rec.MuggedBy, &rec.TravelState, &deduction,
		&rec.FirstDetected, &rec.LastSaleTime, &alertedAt, &alertedValue,
	)
	if err != nil {
		return nil, err
	}
	rec.SalesBreakdown = map[int64]int64{}
	if err := json.Unmarshal([]byte(breakdownJSON), &rec.SalesBreakdown); err != nil {
		return nil, eris.Wrap(err, "unmarshal sales breakdown")
	}
	rec.TransitDeductionApplied = deduction != 0
	if alertedAt.Valid {
		t := alertedAt.Time
		rec.LastAlertedAt = &t
	}
	if alertedValue.Valid {
		v := alertedValue.Int64
		rec.LastAlertedValue = &v
	}
	return &rec, nil
}

func (s *SQLiteStore) GetTarget(ctx context.Context, actorID int64) (*model.TargetRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM tracked_targets WHERE actor_id = ?`, actorID)
	rec, err := scanTarget(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get target")
	}
	return rec, nil
}

func (s *SQLiteStore) PutTarget(ctx context.Context, rec *model.TargetRecord) error {
	breakdownJSON, err := json.Marshal(rec.SalesBreakdown)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal sales breakdown")
	}
	var alertedAt any
	if rec.LastAlertedAt != nil {
		alertedAt = *rec.LastAlertedAt
	}
	var alertedValue any
	if rec.LastAlertedValue != nil {
		alertedValue = *rec.LastAlertedValue
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tracked_targets (`+targetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(actor_id) DO UPDATE SET
			actor_name = excluded.actor_name,
			accumulated_value = excluded.accumulated_value,
			sales_breakdown = excluded.sales_breakdown,
			last_action_minutes = excluded.last_action_minutes,
			status_state = excluded.status_state,
			status_description = excluded.status_description,
			status_condition = excluded.status_condition,
			mugged_by = excluded.mugged_by,
			travel_state = excluded.travel_state,
			transit_deduction_applied = excluded.transit_deduction_applied,
			first_detected = excluded.first_detected,
			last_sale_time = excluded.last_sale_time,
			last_alerted_at = excluded.last_alerted_at,
			last_alerted_value = excluded.last_alerted_value`,
		rec.ActorID, rec.ActorName, rec.AccumulatedValue, string(breakdownJSON),
		rec.LastActionMinutes, rec.StatusState, rec.StatusDescription,
		string(rec.Condition), rec.MuggedBy, rec.TravelState,
		boolToInt(rec.TransitDeductionApplied), rec.FirstDetected, rec.LastSaleTime,
		alertedAt, alertedValue,
	)
	return eris.Wrap(err, "sqlite: put target")
}

func (s *SQLiteStore) DeleteTarget(ctx context.Context, actorID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tracked_targets WHERE actor_id = ?`, actorID)
	return eris.Wrap(err, "sqlite: delete target")
}

func (s *SQLiteStore) ListTargets(ctx context.Context) ([]model.TargetRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+targetColumns+` FROM tracked_targets ORDER BY accumulated_value DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list targets")
	}
	defer rows.Close()
	return collectTargets(rows)
}

func (s *SQLiteStore) QueryEligible(ctx context.Context, minValue int64, minInactivityMinutes int) ([]model.TargetRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+targetColumns+` FROM tracked_targets
		WHERE accumulated_value >= ?
		AND last_action_minutes >= ?
		AND status_state = 'Okay'
		AND (last_alerted_value IS NULL OR accumulated_value > last_alerted_value)
		ORDER BY accumulated_value DESC`,
		minValue, minInactivityMinutes,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query eligible")
	}
	defer rows.Close()
	return collectTargets(rows)
}

func collectTargets(rows *sql.Rows) ([]model.TargetRecord, error) {
	var targets []model.TargetRecord
	for rows.Next() {
		rec, err := scanTarget(rows)
		if err != nil {
			return nil, eris.Wrap(err, "scan target")
		}
		targets = append(targets, *rec)
	}
	return targets, eris.Wrap(rows.Err(), "iterate targets")
}

func (s *SQLiteStore) MarkAlerted(ctx context.Context, actorID int64, value int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tracked_targets
		SET last_alerted_at = ?, last_alerted_value = ?
		WHERE actor_id = ?`,
		at.UTC(), value, actorID,
	)
	return eris.Wrap(err, "sqlite: mark alerted")
}

func (s *SQLiteStore) AppendTransaction(ctx context.Context, txn model.Transaction) error {
	if txn.ID == "" {
		txn.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transaction_log (id, actor_id, actor_name, item_id, item_name, quantity, unit_price, total_value, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		txn.ID, txn.ActorID, txn.ActorName, txn.ItemID, txn.ItemName,
		txn.Quantity, txn.UnitPrice, txn.TotalValue, txn.DetectedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: append transaction")
}

func (s *SQLiteStore) ListTransactions(ctx context.Context, actorID int64, limit int) ([]model.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, actor_name, item_id, item_name, quantity, unit_price, total_value, detected_at
		FROM transaction_log
		WHERE actor_id = ?
		ORDER BY detected_at DESC
		LIMIT ?`,
		actorID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list transactions")
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		if err := rows.Scan(&t.ID, &t.ActorID, &t.ActorName, &t.ItemID, &t.ItemName,
			&t.Quantity, &t.UnitPrice, &t.TotalValue, &t.DetectedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan transaction")
		}
		txns = append(txns, t)
	}
	return txns, eris.Wrap(rows.Err(), "sqlite: iterate transactions")
}

func (s *SQLiteStore) PruneTransactions(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM transaction_log WHERE detected_at < ?`, olderThan.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune transactions")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: prune rows affected")
}

func (s *SQLiteStore) LogAlert(ctx context.Context, entry model.AlertEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	breakdownJSON, err := json.Marshal(entry.SalesBreakdown)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal alert breakdown")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alert_log (id, actor_id, actor_name, accumulated_value, sales_breakdown, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ActorID, entry.ActorName, entry.AccumulatedValue,
		string(breakdownJSON), entry.SentAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: log alert")
}

func (s *SQLiteStore) RecentAlerts(ctx context.Context, limit int) ([]model.AlertEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_id, actor_name, accumulated_value, sales_breakdown, sent_at
		FROM alert_log
		ORDER BY sent_at DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: recent alerts")
	}
	defer rows.Close()

	var alerts []model.AlertEntry
	for rows.Next() {
		var (
			e             model.AlertEntry
			breakdownJSON string
		)
		if err := rows.Scan(&e.ID, &e.ActorID, &e.ActorName, &e.AccumulatedValue,
			&breakdownJSON, &e.SentAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan alert")
		}
		e.SalesBreakdown = map[int64]int64{}
		if err := json.Unmarshal([]byte(breakdownJSON), &e.SalesBreakdown); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal alert breakdown")
		}
		alerts = append(alerts, e)
	}
	return alerts, eris.Wrap(rows.Err(), "sqlite: iterate alerts")
}

func (s *SQLiteStore) CountAlertsSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alert_log WHERE sent_at >= ?`, since.UTC(),
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count alerts")
}

func (s *SQLiteStore) UpsertItem(ctx context.Context, item model.MonitoredItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO monitored_items (item_id, item_name, enabled)
		VALUES (?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET item_name = excluded.item_name, enabled = excluded.enabled`,
		item.ItemID, item.ItemName, boolToInt(item.Enabled),
	)
	return eris.Wrap(err, "sqlite: upsert item")
}

func (s *SQLiteStore) SetItemEnabled(ctx context.Context, itemID int64, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE monitored_items SET enabled = ? WHERE item_id = ?`,
		boolToInt(enabled), itemID,
	)
	return eris.Wrap(err, "sqlite: set item enabled")
}

func (s *SQLiteStore) ListItems(ctx context.Context) ([]model.MonitoredItem, error) {
	return s.queryItems(ctx, `SELECT item_id, item_name, enabled FROM monitored_items ORDER BY item_id`)
}

func (s *SQLiteStore) EnabledItems(ctx context.Context) ([]model.MonitoredItem, error) {
	return s.queryItems(ctx, `SELECT item_id, item_name, enabled FROM monitored_items WHERE enabled = 1 ORDER BY item_id`)
}

func (s *SQLiteStore) queryItems(ctx context.Context, query string) ([]model.MonitoredItem, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query items")
	}
	defer rows.Close()

	var items []model.MonitoredItem
	for rows.Next() {
		var (
			it      model.MonitoredItem
			enabled int64
		)
		if err := rows.Scan(&it.ItemID, &it.ItemName, &enabled); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan item")
		}
		it.Enabled = enabled != 0
		items = append(items, it)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: iterate items")
}

func (s *SQLiteStore) ItemNames(ctx context.Context) (map[int64]string, error) {
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

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

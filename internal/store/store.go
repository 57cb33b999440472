package store

import (
	"context"
	"time"

	"github.com/torn-tools/bazaarwatch/internal/model"
)

// Store defines the persistence interface for the detection engine.
// Snapshot and target mutation is funneled through the orchestrator's
// single-threaded mutate phase, so implementations need no locking beyond
// what their driver requires.
type Store interface {
	// Inventory snapshots. GetSnapshot returns (nil, nil) when the actor has
	// never been snapshotted; an empty non-nil snapshot is a valid baseline.
	GetSnapshot(ctx context.Context, actorID int64) (model.InventorySnapshot, error)
	PutSnapshot(ctx context.Context, actorID int64, snap model.InventorySnapshot) error

	// Target records. GetTarget returns (nil, nil) when absent. PutTarget
	// upserts the full record (last-write-wins).
	GetTarget(ctx context.Context, actorID int64) (*model.TargetRecord, error)
	PutTarget(ctx context.Context, rec *model.TargetRecord) error
	DeleteTarget(ctx context.Context, actorID int64) error
	ListTargets(ctx context.Context) ([]model.TargetRecord, error)
	QueryEligible(ctx context.Context, minValue int64, minInactivityMinutes int) ([]model.TargetRecord, error)
	MarkAlerted(ctx context.Context, actorID int64, value int64, at time.Time) error

	// Append-only transaction audit trail.
	AppendTransaction(ctx context.Context, txn model.Transaction) error
	ListTransactions(ctx context.Context, actorID int64, limit int) ([]model.Transaction, error)
	PruneTransactions(ctx context.Context, olderThan time.Time) (int64, error)

	// Alert log.
	LogAlert(ctx context.Context, entry model.AlertEntry) error
	RecentAlerts(ctx context.Context, limit int) ([]model.AlertEntry, error)
	CountAlertsSince(ctx context.Context, since time.Time) (int, error)

	// Monitored items.
	UpsertItem(ctx context.Context, item model.MonitoredItem) error
	SetItemEnabled(ctx context.Context, itemID int64, enabled bool) error
	ListItems(ctx context.Context) ([]model.MonitoredItem, error)
	EnabledItems(ctx context.Context) ([]model.MonitoredItem, error)
	ItemNames(ctx context.Context) (map[int64]string, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

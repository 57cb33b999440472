// Package detector turns raw per-actor inventory polls into discrete sale
// events by diffing consecutive snapshots.
package detector

import (
	"context"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/torn-tools/bazaarwatch/internal/model"
	"github.com/torn-tools/bazaarwatch/internal/store"
)

// Detector compares the incoming inventory against the stored baseline for
// an actor and emits SaleEvents for every quantity decrease.
type Detector struct {
	store store.Store
	log   *zap.Logger
}

// New creates a Detector backed by the given store.
func New(st store.Store) *Detector {
	return &Detector{
		store: st,
		log:   zap.L().With(zap.String("component", "detector")),
	}
}

// Detect diffs the actor's current listing against the stored snapshot and
// returns the inferred sales. The first sighting of an actor establishes a
// baseline and returns no events (a sale cannot be inferred without a prior
// snapshot). The stored snapshot is unconditionally overwritten afterward.
//
// Sales are valued at the previous cycle's unit price: value already sold is
// not affected by a concurrent price change. An item present before and
// absent now is treated as fully sold; withdrawal-without-sale is
// indistinguishable from a sale in this model and is knowingly conflated.
// Price-only changes with unchanged quantity emit nothing.
func (d *Detector) Detect(ctx context.Context, actorID int64, actorName string, entries []model.InventoryEntry) ([]model.SaleEvent, error) {
	current := model.SnapshotFromEntries(entries)

	previous, err := d.store.GetSnapshot(ctx, actorID)
	if err != nil {
		return nil, eris.Wrapf(err, "detector: load snapshot for actor %d", actorID)
	}

	if previous == nil {
		// Warm-up cycle: no baseline yet.
		if err := d.store.PutSnapshot(ctx, actorID, current); err != nil {
			return nil, eris.Wrapf(err, "detector: store baseline for actor %d", actorID)
		}
		d.log.Debug("baseline established",
			zap.Int64("actor_id", actorID),
			zap.Int("items", len(current)),
		)
		return nil, nil
	}

	names := make(map[int64]string, len(entries))
	for _, e := range entries {
		names[e.ItemID] = e.ItemName
	}

	var events []model.SaleEvent
	for itemID, prev := range previous {
		curr, listed := current[itemID]

		sold := prev.Quantity
		if listed {
			if curr.Quantity >= prev.Quantity {
				continue
			}
			sold = prev.Quantity - curr.Quantity
		}
		if sold <= 0 {
			continue
		}

		name := names[itemID]
		if name == "" {
			name = fmt.Sprintf("Item %d", itemID)
		}
		events = append(events, model.SaleEvent{
			ActorID:      actorID,
			ActorName:    actorName,
			ItemID:       itemID,
			ItemName:     name,
			QuantitySold: sold,
			UnitPrice:    prev.UnitPrice,
			TotalValue:   sold * prev.UnitPrice,
		})
	}

	// Map iteration order is random; keep event order deterministic for
	// logging and tests.
	sort.Slice(events, func(i, j int) bool { return events[i].ItemID < events[j].ItemID })

	if err := d.store.PutSnapshot(ctx, actorID, current); err != nil {
		return nil, eris.Wrapf(err, "detector: store snapshot for actor %d", actorID)
	}

	for _, ev := range events {
		d.log.Info("sale detected",
			zap.Int64("actor_id", ev.ActorID),
			zap.String("actor_name", ev.ActorName),
			zap.String("item", ev.ItemName),
			zap.Int64("quantity", ev.QuantitySold),
			zap.Int64("unit_price", ev.UnitPrice),
			zap.Int64("total_value", ev.TotalValue),
		)
	}
	return events, nil
}

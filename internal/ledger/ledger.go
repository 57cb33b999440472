// Package ledger owns every mutation of target records. Rules and the
// orchestrator propose changes; only the ledger applies them, which keeps a
// single audit boundary in front of the store.
package ledger

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/torn-tools/bazaarwatch/internal/model"
	"github.com/torn-tools/bazaarwatch/internal/store"
)

// Ledger accumulates sale value per actor and applies rule-driven mutations.
// It performs no de-duplication: the caller must apply each SaleEvent exactly
// once (the orchestrator's single-threaded mutate phase guarantees this).
type Ledger struct {
	store store.Store
	log   *zap.Logger

	nowFunc func() time.Time
}

// New creates a Ledger backed by the given store.
func New(st store.Store) *Ledger {
	return &Ledger{
		store:   st,
		log:     zap.L().With(zap.String("component", "ledger")),
		nowFunc: time.Now,
	}
}

// Accumulate folds one sale into the actor's target record, creating the
// record on first sale, and appends an audit row to the transaction log.
func (l *Ledger) Accumulate(ctx context.Context, ev model.SaleEvent) (*model.TargetRecord, error) {
	now := l.nowFunc().UTC()

	rec, err := l.store.GetTarget(ctx, ev.ActorID)
	if err != nil {
		return nil, eris.Wrapf(err, "ledger: get target %d", ev.ActorID)
	}

	if rec == nil {
		rec = &model.TargetRecord{
			ActorID:           ev.ActorID,
			ActorName:         ev.ActorName,
			AccumulatedValue:  ev.TotalValue,
			SalesBreakdown:    map[int64]int64{ev.ItemID: ev.TotalValue},
			LastActionMinutes: 999,
			StatusState:       "Unknown",
			Condition:         model.CondUnknown,
			TravelState:       model.StateOkay,
			FirstDetected:     now,
			LastSaleTime:      now,
		}
		l.log.Info("new target",
			zap.Int64("actor_id", ev.ActorID),
			zap.String("actor_name", ev.ActorName),
			zap.Int64("accumulated", ev.TotalValue),
		)
	} else {
		rec.AccumulatedValue += ev.TotalValue
		if rec.SalesBreakdown == nil {
			rec.SalesBreakdown = map[int64]int64{}
		}
		rec.SalesBreakdown[ev.ItemID] += ev.TotalValue
		rec.ActorName = ev.ActorName
		rec.LastSaleTime = now
	}

	if err := l.store.PutTarget(ctx, rec); err != nil {
		return nil, eris.Wrapf(err, "ledger: put target %d", ev.ActorID)
	}

	if err := l.store.AppendTransaction(ctx, model.Transaction{
		ActorID:    ev.ActorID,
		ActorName:  ev.ActorName,
		ItemID:     ev.ItemID,
		ItemName:   ev.ItemName,
		Quantity:   ev.QuantitySold,
		UnitPrice:  ev.UnitPrice,
		TotalValue: ev.TotalValue,
		DetectedAt: now,
	}); err != nil {
		return nil, eris.Wrapf(err, "ledger: append transaction for %d", ev.ActorID)
	}
	return rec, nil
}

// ApplyProfileUpdates overwrites the profile fields of every tracked actor
// present in the batch. Accumulated value is never touched here. The record's
// TravelState is set to the state observed on the previous cycle so rules can
// detect the Abroad -> Okay landing transition.
func (l *Ledger) ApplyProfileUpdates(ctx context.Context, profiles []model.ProfileSnapshot) error {
	for _, p := range profiles {
		rec, err := l.store.GetTarget(ctx, p.ActorID)
		if err != nil {
			return eris.Wrapf(err, "ledger: get target %d", p.ActorID)
		}
		if rec == nil {
			continue
		}

		rec.TravelState = rec.StatusState
		rec.ActorName = p.Name
		rec.LastActionMinutes = p.LastActionMinutes
		rec.StatusState = p.StatusState
		rec.StatusDescription = p.StatusDescription
		rec.Condition = p.Condition
		rec.MuggedBy = p.MuggedBy

		if err := l.store.PutTarget(ctx, rec); err != nil {
			return eris.Wrapf(err, "ledger: put target %d", p.ActorID)
		}
	}
	return nil
}

// SetAccumulated overwrites the accumulated value unconditionally. Used only
// for rule-driven resets and deductions.
func (l *Ledger) SetAccumulated(ctx context.Context, actorID int64, value int64) error {
	return l.setAccumulated(ctx, actorID, value, nil)
}

// SetAccumulatedWithDeduction overwrites the accumulated value and the
// transit deduction guard flag in one write.
func (l *Ledger) SetAccumulatedWithDeduction(ctx context.Context, actorID int64, value int64, deductionApplied bool) error {
	return l.setAccumulated(ctx, actorID, value, &deductionApplied)
}

func (l *Ledger) setAccumulated(ctx context.Context, actorID int64, value int64, deduction *bool) error {
	rec, err := l.store.GetTarget(ctx, actorID)
	if err != nil {
		return eris.Wrapf(err, "ledger: get target %d", actorID)
	}
	if rec == nil {
		return nil
	}
	rec.AccumulatedValue = value
	if deduction != nil {
		rec.TransitDeductionApplied = *deduction
	}
	return eris.Wrapf(l.store.PutTarget(ctx, rec), "ledger: put target %d", actorID)
}

// ClearTransitDeduction resets the one-shot transit penalty guard, making the
// actor deductible again on their next outbound run.
func (l *Ledger) ClearTransitDeduction(ctx context.Context, actorID int64) error {
	rec, err := l.store.GetTarget(ctx, actorID)
	if err != nil {
		return eris.Wrapf(err, "ledger: get target %d", actorID)
	}
	if rec == nil {
		return nil
	}
	rec.TransitDeductionApplied = false
	return eris.Wrapf(l.store.PutTarget(ctx, rec), "ledger: put target %d", actorID)
}

// Drop deletes the actor's record entirely.
func (l *Ledger) Drop(ctx context.Context, actorID int64) error {
	return eris.Wrapf(l.store.DeleteTarget(ctx, actorID), "ledger: drop target %d", actorID)
}

// Get returns the actor's record, or nil when the actor is not tracked.
func (l *Ledger) Get(ctx context.Context, actorID int64) (*model.TargetRecord, error) {
	return l.store.GetTarget(ctx, actorID)
}

// All returns every live target, highest accumulated value first.
func (l *Ledger) All(ctx context.Context) ([]model.TargetRecord, error) {
	return l.store.ListTargets(ctx)
}

// TrackedActorIDs returns the set of actors with a live record.
func (l *Ledger) TrackedActorIDs(ctx context.Context) (map[int64]struct{}, error) {
	targets, err := l.store.ListTargets(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "ledger: list targets")
	}
	ids := make(map[int64]struct{}, len(targets))
	for _, t := range targets {
		ids[t.ActorID] = struct{}{}
	}
	return ids, nil
}

// SelectEligible returns targets meeting every alert threshold that have not
// yet been alerted at their current accumulated value, highest value first.
func (l *Ledger) SelectEligible(ctx context.Context, minValue int64, minInactivityMinutes int) ([]model.TargetRecord, error) {
	return l.store.QueryEligible(ctx, minValue, minInactivityMinutes)
}

// MarkAlerted records that an alert went out at the given value, gating
// re-alerts until the accumulated value strictly exceeds it.
func (l *Ledger) MarkAlerted(ctx context.Context, actorID int64, value int64) error {
	return eris.Wrapf(
		l.store.MarkAlerted(ctx, actorID, value, l.nowFunc().UTC()),
		"ledger: mark alerted %d", actorID,
	)
}

package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torn-tools/bazaarwatch/internal/model"
	"github.com/torn-tools/bazaarwatch/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return New(st), st
}

func saleEvent(actorID int64, itemID int64, value int64) model.SaleEvent {
	return model.SaleEvent{
		ActorID:      actorID,
		ActorName:    "Duke",
		ItemID:       itemID,
		ItemName:     "Xanax",
		QuantitySold: 1,
		UnitPrice:    value,
		TotalValue:   value,
	}
}

func TestAccumulate_CreatesRecordOnFirstSale(t *testing.T) {
	l, st := newTestLedger(t)
	ctx := context.Background()

	rec, err := l.Accumulate(ctx, saleEvent(4, 206, 3_000_000))
	require.NoError(t, err)

	assert.Equal(t, int64(3_000_000), rec.AccumulatedValue)
	assert.Equal(t, map[int64]int64{206: 3_000_000}, rec.SalesBreakdown)
	assert.False(t, rec.FirstDetected.IsZero())
	assert.False(t, rec.TransitDeductionApplied)

	// Every accumulation leaves an audit row.
	txns, err := st.ListTransactions(ctx, 4, 10)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, int64(3_000_000), txns[0].TotalValue)
}

func TestAccumulate_AddsAcrossItemsAndCycles(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Accumulate(ctx, saleEvent(4, 206, 3_000_000))
	require.NoError(t, err)
	_, err = l.Accumulate(ctx, saleEvent(4, 206, 2_000_000))
	require.NoError(t, err)
	rec, err := l.Accumulate(ctx, saleEvent(4, 367, 5_000_000))
	require.NoError(t, err)

	assert.Equal(t, int64(10_000_000), rec.AccumulatedValue)
	assert.Equal(t, map[int64]int64{206: 5_000_000, 367: 5_000_000}, rec.SalesBreakdown)
}

func TestApplyProfileUpdates_SetsTravelStateFromPreviousCycle(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Accumulate(ctx, saleEvent(4, 206, 3_000_000))
	require.NoError(t, err)

	// Cycle 1: actor heads abroad.
	require.NoError(t, l.ApplyProfileUpdates(ctx, []model.ProfileSnapshot{{
		ActorID:           4,
		Name:              "Duke",
		LastActionMinutes: 5,
		StatusState:       model.StateAbroad,
		Condition:         model.CondTransitRun,
	}}))

	rec, err := l.Get(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, model.StateAbroad, rec.StatusState)
	assert.NotEqual(t, model.StateAbroad, rec.TravelState)

	// Cycle 2: actor lands. TravelState must still show the abroad cycle.
	require.NoError(t, l.ApplyProfileUpdates(ctx, []model.ProfileSnapshot{{
		ActorID:           4,
		Name:              "Duke",
		LastActionMinutes: 2,
		StatusState:       model.StateOkay,
		Condition:         model.CondOkay,
	}}))

	rec, err = l.Get(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, model.StateOkay, rec.StatusState)
	assert.Equal(t, model.StateAbroad, rec.TravelState)
}

func TestApplyProfileUpdates_IgnoresUntrackedActors(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.ApplyProfileUpdates(ctx, []model.ProfileSnapshot{{
		ActorID: 12345, Name: "Nobody", StatusState: model.StateOkay,
	}}))

	rec, err := l.Get(ctx, 12345)
	require.NoError(t, err)
	assert.Nil(t, rec, "profile updates never create records")
}

func TestSetAccumulatedWithDeduction(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Accumulate(ctx, saleEvent(4, 206, 30_000_000))
	require.NoError(t, err)

	require.NoError(t, l.SetAccumulatedWithDeduction(ctx, 4, 10_000_000, true))

	rec, err := l.Get(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), rec.AccumulatedValue)
	assert.True(t, rec.TransitDeductionApplied)

	require.NoError(t, l.ClearTransitDeduction(ctx, 4))
	rec, err = l.Get(ctx, 4)
	require.NoError(t, err)
	assert.False(t, rec.TransitDeductionApplied)
	assert.Equal(t, int64(10_000_000), rec.AccumulatedValue, "clearing the guard keeps the value")
}

func TestDrop(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Accumulate(ctx, saleEvent(4, 206, 3_000_000))
	require.NoError(t, err)

	require.NoError(t, l.Drop(ctx, 4))

	rec, err := l.Get(ctx, 4)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestSelectEligibleAndMarkAlerted(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Accumulate(ctx, saleEvent(4, 206, 15_000_000))
	require.NoError(t, err)
	_, err = l.Accumulate(ctx, saleEvent(7, 206, 50_000_000))
	require.NoError(t, err)

	require.NoError(t, l.ApplyProfileUpdates(ctx, []model.ProfileSnapshot{
		{ActorID: 4, Name: "Duke", LastActionMinutes: 30, StatusState: model.StateOkay, Condition: model.CondOkay},
		{ActorID: 7, Name: "Leslie", LastActionMinutes: 90, StatusState: model.StateOkay, Condition: model.CondOkay},
	}))

	eligible, err := l.SelectEligible(ctx, 10_000_000, 2)
	require.NoError(t, err)
	require.Len(t, eligible, 2)
	assert.Equal(t, int64(7), eligible[0].ActorID, "ordered by accumulated value descending")

	// Alerting gates the target out until its value grows.
	require.NoError(t, l.MarkAlerted(ctx, 7, 50_000_000))

	eligible, err = l.SelectEligible(ctx, 10_000_000, 2)
	require.NoError(t, err)
	require.Len(t, eligible, 1)
	assert.Equal(t, int64(4), eligible[0].ActorID)

	_, err = l.Accumulate(ctx, saleEvent(7, 206, 1_000_000))
	require.NoError(t, err)
	require.NoError(t, l.ApplyProfileUpdates(ctx, []model.ProfileSnapshot{
		{ActorID: 7, Name: "Leslie", LastActionMinutes: 90, StatusState: model.StateOkay, Condition: model.CondOkay},
	}))

	eligible, err = l.SelectEligible(ctx, 10_000_000, 2)
	require.NoError(t, err)
	assert.Len(t, eligible, 2, "value above last alert re-qualifies")
}

func TestAccumulate_UsesInjectedClock(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	fixed := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	l.nowFunc = func() time.Time { return fixed }

	rec, err := l.Accumulate(ctx, saleEvent(4, 206, 1_000_000))
	require.NoError(t, err)
	assert.Equal(t, fixed, rec.FirstDetected)
	assert.Equal(t, fixed, rec.LastSaleTime)
}

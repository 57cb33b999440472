package monitor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torn-tools/bazaarwatch/internal/config"
	"github.com/torn-tools/bazaarwatch/internal/model"
	"github.com/torn-tools/bazaarwatch/internal/store"
	"github.com/torn-tools/bazaarwatch/pkg/tornapi"
)

type fakeTorn struct {
	results map[int64]*tornapi.Result
	errs    map[int64]error
	calls   atomic.Int32
}

func (f *fakeTorn) FetchInventoryAndProfile(ctx context.Context, actorID int64) (*tornapi.Result, error) {
	f.calls.Add(1)
	if err, ok := f.errs[actorID]; ok {
		return nil, err
	}
	if res, ok := f.results[actorID]; ok {
		return res, nil
	}
	return nil, context.DeadlineExceeded
}

type fakeMarket struct {
	listings map[int64][]model.Listing
	errs     map[int64]error
}

func (f *fakeMarket) FetchTopListings(ctx context.Context, itemID int64, limit int) ([]model.Listing, error) {
	if err, ok := f.errs[itemID]; ok {
		return nil, err
	}
	return f.listings[itemID], nil
}

func okayProfile(actorID int64, name string, lastAction int) model.ProfileSnapshot {
	return model.ProfileSnapshot{
		ActorID:           actorID,
		Name:              name,
		LastActionMinutes: lastAction,
		StatusState:       model.StateOkay,
		StatusDescription: "Okay",
		Condition:         model.CondOkay,
		ListingOpen:       true,
	}
}

func openResult(p model.ProfileSnapshot, inv ...model.InventoryEntry) *tornapi.Result {
	return &tornapi.Result{Profile: p, Inventory: inv}
}

func testConfig() (config.MonitorConfig, config.AlertsConfig) {
	mon := config.MonitorConfig{
		CheckIntervalSecs: 15,
		FetchConcurrency:  10,
		StaleAfterHours:   2,
		TransitPenalty:    20_000_000,
		RetentionHours:    72,
	}
	alerts := config.AlertsConfig{
		MinAccumulated:       10_000_000,
		MinInactivityMinutes: 2,
	}
	return mon, alerts
}

func newTestOrchestrator(t *testing.T, mon config.MonitorConfig, alerts config.AlertsConfig, torn *fakeTorn, market *fakeMarket) (*Orchestrator, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.UpsertItem(ctx, model.MonitoredItem{ItemID: 206, ItemName: "Xanax", Enabled: true}))
	t.Cleanup(func() { _ = st.Close() })

	return New(mon, alerts, st, torn, market, 10), st
}

func xanaxListing(actorID int64, name string) model.Listing {
	return model.Listing{ItemID: 206, ActorID: actorID, ActorName: name, Quantity: 10, UnitPrice: 830_000}
}

func TestCycle_WarmUpThenSale(t *testing.T) {
	mon, alerts := testConfig()
	torn := &fakeTorn{results: map[int64]*tornapi.Result{
		4: openResult(okayProfile(4, "Duke", 30),
			model.InventoryEntry{ItemID: 206, ItemName: "Xanax", Quantity: 10, UnitPrice: 830_000}),
	}}
	market := &fakeMarket{listings: map[int64][]model.Listing{206: {xanaxListing(4, "Duke")}}}
	o, _ := newTestOrchestrator(t, mon, alerts, torn, market)
	ctx := context.Background()

	// Cycle 1: baseline only, no sales, no target.
	sales, _, alertCount, err := o.runCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, sales)
	assert.Zero(t, alertCount)

	rec, err := o.ledger.Get(ctx, 4)
	require.NoError(t, err)
	assert.Nil(t, rec)

	// Cycle 2: four Xanax gone.
	torn.results[4] = openResult(okayProfile(4, "Duke", 30),
		model.InventoryEntry{ItemID: 206, ItemName: "Xanax", Quantity: 6, UnitPrice: 830_000})

	sales, saleValue, _, err := o.runCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sales)
	assert.Equal(t, int64(3_320_000), saleValue)

	rec, err = o.ledger.Get(ctx, 4)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(3_320_000), rec.AccumulatedValue)
	assert.Equal(t, model.StateOkay, rec.StatusState)
}

func TestCycle_AlertDeliveredOverThreshold(t *testing.T) {
	var delivered atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mon, alerts := testConfig()
	alerts.WebhookURL = srv.URL

	torn := &fakeTorn{results: map[int64]*tornapi.Result{
		4: openResult(okayProfile(4, "Duke", 30),
			model.InventoryEntry{ItemID: 206, ItemName: "Xanax", Quantity: 20, UnitPrice: 830_000}),
	}}
	market := &fakeMarket{listings: map[int64][]model.Listing{206: {xanaxListing(4, "Duke")}}}
	o, st := newTestOrchestrator(t, mon, alerts, torn, market)
	ctx := context.Background()

	_, _, _, err := o.runCycle(ctx)
	require.NoError(t, err)

	// All 20 Xanax sold: $16.6M, above the $10M threshold.
	torn.results[4] = openResult(okayProfile(4, "Duke", 30))
	torn.results[4].Inventory = []model.InventoryEntry{}

	_, _, alertCount, err := o.runCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, alertCount)
	assert.Equal(t, int32(1), delivered.Load())

	rec, err := o.ledger.Get(ctx, 4)
	require.NoError(t, err)
	require.NotNil(t, rec.LastAlertedValue)
	assert.Equal(t, int64(16_600_000), *rec.LastAlertedValue)

	logged, err := st.RecentAlerts(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, int64(4), logged[0].ActorID)

	// Cycle 3 with nothing new: no duplicate alert.
	_, _, alertCount, err = o.runCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, alertCount)
	assert.Equal(t, int32(1), delivered.Load())
}

func TestCycle_NoAlertWhileActive(t *testing.T) {
	mon, alerts := testConfig()
	torn := &fakeTorn{results: map[int64]*tornapi.Result{
		4: openResult(okayProfile(4, "Duke", 30),
			model.InventoryEntry{ItemID: 206, ItemName: "Xanax", Quantity: 20, UnitPrice: 830_000}),
	}}
	market := &fakeMarket{listings: map[int64][]model.Listing{206: {xanaxListing(4, "Duke")}}}
	o, _ := newTestOrchestrator(t, mon, alerts, torn, market)
	ctx := context.Background()

	_, _, _, err := o.runCycle(ctx)
	require.NoError(t, err)

	// Big sale but the seller is online right now: the online rule drops
	// the target before it can alert.
	torn.results[4] = openResult(okayProfile(4, "Duke", 0))

	_, _, alertCount, err := o.runCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, alertCount)

	rec, err := o.ledger.Get(ctx, 4)
	require.NoError(t, err)
	assert.Nil(t, rec, "online target dropped")
}

func TestCycle_ClosedListingDropsTarget(t *testing.T) {
	mon, alerts := testConfig()
	torn := &fakeTorn{results: map[int64]*tornapi.Result{
		4: openResult(okayProfile(4, "Duke", 30),
			model.InventoryEntry{ItemID: 206, ItemName: "Xanax", Quantity: 10, UnitPrice: 830_000}),
	}}
	market := &fakeMarket{listings: map[int64][]model.Listing{206: {xanaxListing(4, "Duke")}}}
	o, st := newTestOrchestrator(t, mon, alerts, torn, market)
	ctx := context.Background()

	_, _, _, err := o.runCycle(ctx)
	require.NoError(t, err)

	torn.results[4] = openResult(okayProfile(4, "Duke", 30),
		model.InventoryEntry{ItemID: 206, ItemName: "Xanax", Quantity: 5, UnitPrice: 830_000})
	_, _, _, err = o.runCycle(ctx)
	require.NoError(t, err)

	rec, err := o.ledger.Get(ctx, 4)
	require.NoError(t, err)
	require.NotNil(t, rec)

	// Closing the storefront ends tracking without a sale being credited.
	closed := okayProfile(4, "Duke", 30)
	closed.ListingOpen = false
	torn.results[4] = &tornapi.Result{Profile: closed}

	sales, _, _, err := o.runCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, sales)

	rec, err = o.ledger.Get(ctx, 4)
	require.NoError(t, err)
	assert.Nil(t, rec)

	// The baseline was reset: a re-opened listing starts fresh.
	snap, err := st.GetSnapshot(ctx, 4)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Empty(t, snap)
}

func TestCycle_VIPZeroedNotDropped(t *testing.T) {
	mon, alerts := testConfig()
	mon.VIPActors = []int64{4}

	torn := &fakeTorn{results: map[int64]*tornapi.Result{
		4: openResult(okayProfile(4, "Duke", 30),
			model.InventoryEntry{ItemID: 206, ItemName: "Xanax", Quantity: 10, UnitPrice: 830_000}),
	}}
	market := &fakeMarket{listings: map[int64][]model.Listing{206: {xanaxListing(4, "Duke")}}}
	o, _ := newTestOrchestrator(t, mon, alerts, torn, market)
	ctx := context.Background()

	_, _, _, err := o.runCycle(ctx)
	require.NoError(t, err)

	torn.results[4] = openResult(okayProfile(4, "Duke", 30),
		model.InventoryEntry{ItemID: 206, ItemName: "Xanax", Quantity: 5, UnitPrice: 830_000})
	_, _, _, err = o.runCycle(ctx)
	require.NoError(t, err)

	// VIP comes online: accumulated value resets but the record stays.
	torn.results[4] = openResult(okayProfile(4, "Duke", 0),
		model.InventoryEntry{ItemID: 206, ItemName: "Xanax", Quantity: 5, UnitPrice: 830_000})
	_, _, _, err = o.runCycle(ctx)
	require.NoError(t, err)

	rec, err := o.ledger.Get(ctx, 4)
	require.NoError(t, err)
	require.NotNil(t, rec, "VIP records are never deleted")
	assert.Zero(t, rec.AccumulatedValue)
}

func TestCycle_TransitDeductionOnceWithClearOnLanding(t *testing.T) {
	mon, alerts := testConfig()
	torn := &fakeTorn{results: map[int64]*tornapi.Result{
		4: openResult(okayProfile(4, "Duke", 30),
			model.InventoryEntry{ItemID: 206, ItemName: "Xanax", Quantity: 100, UnitPrice: 830_000}),
	}}
	market := &fakeMarket{listings: map[int64][]model.Listing{206: {xanaxListing(4, "Duke")}}}
	o, _ := newTestOrchestrator(t, mon, alerts, torn, market)
	ctx := context.Background()

	_, _, _, err := o.runCycle(ctx)
	require.NoError(t, err)

	// 60 sold: $49.8M accumulated.
	torn.results[4] = openResult(okayProfile(4, "Duke", 30),
		model.InventoryEntry{ItemID: 206, ItemName: "Xanax", Quantity: 40, UnitPrice: 830_000})
	_, _, _, err = o.runCycle(ctx)
	require.NoError(t, err)

	// Outbound to the drug-run destination: one-shot $20M deduction.
	abroad := model.ProfileSnapshot{
		ActorID: 4, Name: "Duke", LastActionMinutes: 10,
		StatusState: model.StateTraveling, StatusDescription: "Traveling to South Africa",
		Condition: model.CondTransitRun, ListingOpen: true,
	}
	torn.results[4] = openResult(abroad,
		model.InventoryEntry{ItemID: 206, ItemName: "Xanax", Quantity: 40, UnitPrice: 830_000})
	_, _, _, err = o.runCycle(ctx)
	require.NoError(t, err)

	rec, err := o.ledger.Get(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(29_800_000), rec.AccumulatedValue)
	assert.True(t, rec.TransitDeductionApplied)

	// Still traveling next cycle: no second deduction.
	_, _, _, err = o.runCycle(ctx)
	require.NoError(t, err)
	rec, err = o.ledger.Get(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(29_800_000), rec.AccumulatedValue)

	// Abroad cycle, then landing clears the guard.
	abroadNow := abroad
	abroadNow.StatusState = model.StateAbroad
	abroadNow.StatusDescription = "In South Africa"
	torn.results[4] = openResult(abroadNow,
		model.InventoryEntry{ItemID: 206, ItemName: "Xanax", Quantity: 40, UnitPrice: 830_000})
	_, _, _, err = o.runCycle(ctx)
	require.NoError(t, err)

	torn.results[4] = openResult(okayProfile(4, "Duke", 10),
		model.InventoryEntry{ItemID: 206, ItemName: "Xanax", Quantity: 40, UnitPrice: 830_000})
	_, _, _, err = o.runCycle(ctx)
	require.NoError(t, err)

	rec, err = o.ledger.Get(ctx, 4)
	require.NoError(t, err)
	assert.False(t, rec.TransitDeductionApplied, "guard re-armed after landing")
	assert.Equal(t, int64(29_800_000), rec.AccumulatedValue)
}

func TestCycle_TransitDeductionMayGoNegative(t *testing.T) {
	mon, alerts := testConfig()
	torn := &fakeTorn{results: map[int64]*tornapi.Result{
		4: openResult(okayProfile(4, "Duke", 30),
			model.InventoryEntry{ItemID: 206, ItemName: "Xanax", Quantity: 10, UnitPrice: 830_000}),
	}}
	market := &fakeMarket{listings: map[int64][]model.Listing{206: {xanaxListing(4, "Duke")}}}
	o, _ := newTestOrchestrator(t, mon, alerts, torn, market)
	ctx := context.Background()

	_, _, _, err := o.runCycle(ctx)
	require.NoError(t, err)

	// 5 sold: $4.15M, well under the $20M penalty.
	torn.results[4] = openResult(okayProfile(4, "Duke", 30),
		model.InventoryEntry{ItemID: 206, ItemName: "Xanax", Quantity: 5, UnitPrice: 830_000})
	_, _, _, err = o.runCycle(ctx)
	require.NoError(t, err)

	abroad := model.ProfileSnapshot{
		ActorID: 4, Name: "Duke", LastActionMinutes: 10,
		StatusState: model.StateTraveling, StatusDescription: "Traveling to South Africa",
		Condition: model.CondTransitRun, ListingOpen: true,
	}
	torn.results[4] = openResult(abroad,
		model.InventoryEntry{ItemID: 206, ItemName: "Xanax", Quantity: 5, UnitPrice: 830_000})
	_, _, alertCount, err := o.runCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, alertCount)

	// The balance goes negative and the target stays under watch; later
	// sales have to cover the deficit before it can qualify again.
	rec, err := o.ledger.Get(ctx, 4)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(-15_850_000), rec.AccumulatedValue)
	assert.True(t, rec.TransitDeductionApplied)
}

func TestCycle_DiscoveryFailureDegrades(t *testing.T) {
	mon, alerts := testConfig()
	torn := &fakeTorn{results: map[int64]*tornapi.Result{}}
	market := &fakeMarket{errs: map[int64]error{206: context.DeadlineExceeded}}
	o, _ := newTestOrchestrator(t, mon, alerts, torn, market)

	// Listings down for the only item: cycle completes with zero candidates.
	sales, _, alertCount, err := o.runCycle(context.Background())
	require.NoError(t, err)
	assert.Zero(t, sales)
	assert.Zero(t, alertCount)
	assert.Zero(t, torn.calls.Load())
}

func TestCycle_FetchFailureSkipsActor(t *testing.T) {
	mon, alerts := testConfig()
	torn := &fakeTorn{
		results: map[int64]*tornapi.Result{
			4: openResult(okayProfile(4, "Duke", 30),
				model.InventoryEntry{ItemID: 206, ItemName: "Xanax", Quantity: 10, UnitPrice: 830_000}),
		},
		errs: map[int64]error{7: context.DeadlineExceeded},
	}
	market := &fakeMarket{listings: map[int64][]model.Listing{
		206: {xanaxListing(4, "Duke"), xanaxListing(7, "Leslie")},
	}}
	o, st := newTestOrchestrator(t, mon, alerts, torn, market)
	ctx := context.Background()

	_, _, _, err := o.runCycle(ctx)
	require.NoError(t, err)

	// Duke got a baseline; Leslie's failed fetch left no state behind.
	snap, err := st.GetSnapshot(ctx, 4)
	require.NoError(t, err)
	assert.NotNil(t, snap)
	snap, err = st.GetSnapshot(ctx, 7)
	require.NoError(t, err)
	assert.Nil(t, snap)
}

func TestCycle_PruneOldTransactions(t *testing.T) {
	mon, alerts := testConfig()
	torn := &fakeTorn{results: map[int64]*tornapi.Result{}}
	market := &fakeMarket{}
	o, st := newTestOrchestrator(t, mon, alerts, torn, market)
	ctx := context.Background()

	old := time.Now().UTC().Add(-100 * time.Hour)
	require.NoError(t, st.AppendTransaction(ctx, model.Transaction{
		ActorID: 4, ActorName: "Duke", ItemID: 206, ItemName: "Xanax",
		Quantity: 1, UnitPrice: 830_000, TotalValue: 830_000, DetectedAt: old,
	}))

	_, _, _, err := o.runCycle(ctx)
	require.NoError(t, err)

	txns, err := st.ListTransactions(ctx, 4, 10)
	require.NoError(t, err)
	assert.Empty(t, txns)
}

func TestStats_TrackAcrossCycles(t *testing.T) {
	mon, alerts := testConfig()
	torn := &fakeTorn{results: map[int64]*tornapi.Result{}}
	market := &fakeMarket{}
	o, _ := newTestOrchestrator(t, mon, alerts, torn, market)

	o.safeCycle(context.Background())
	o.safeCycle(context.Background())

	snap := o.Stats().Snapshot()
	assert.Equal(t, int64(2), snap.Cycles)
	assert.Empty(t, snap.LastCycleError)
}

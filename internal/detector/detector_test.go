package detector

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torn-tools/bazaarwatch/internal/model"
	"github.com/torn-tools/bazaarwatch/internal/store"
)

func newTestDetector(t *testing.T) (*Detector, store.Store) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return New(st), st
}

func TestDetect_WarmUpCycle(t *testing.T) {
	d, st := newTestDetector(t)
	ctx := context.Background()

	entries := []model.InventoryEntry{
		{ItemID: 206, ItemName: "Xanax", Quantity: 10, UnitPrice: 830_000},
	}

	// First sight establishes a baseline and reports nothing.
	events, err := d.Detect(ctx, 4, "Duke", entries)
	require.NoError(t, err)
	assert.Empty(t, events)

	snap, err := st.GetSnapshot(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(10), snap[206].Quantity)
}

func TestDetect_QuantityDecrease(t *testing.T) {
	d, _ := newTestDetector(t)
	ctx := context.Background()

	_, err := d.Detect(ctx, 4, "Duke", []model.InventoryEntry{
		{ItemID: 206, ItemName: "Xanax", Quantity: 10, UnitPrice: 830_000},
	})
	require.NoError(t, err)

	// 4 sold, priced at the previous cycle's unit price even though the
	// listing was repriced.
	events, err := d.Detect(ctx, 4, "Duke", []model.InventoryEntry{
		{ItemID: 206, ItemName: "Xanax", Quantity: 6, UnitPrice: 900_000},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, int64(4), ev.QuantitySold)
	assert.Equal(t, int64(830_000), ev.UnitPrice)
	assert.Equal(t, int64(3_320_000), ev.TotalValue)
	assert.Equal(t, int64(4), ev.ActorID)
	assert.Equal(t, "Xanax", ev.ItemName)
}

func TestDetect_DelistedCountsAsSold(t *testing.T) {
	d, _ := newTestDetector(t)
	ctx := context.Background()

	_, err := d.Detect(ctx, 4, "Duke", []model.InventoryEntry{
		{ItemID: 206, ItemName: "Xanax", Quantity: 10, UnitPrice: 830_000},
		{ItemID: 367, ItemName: "Erotic DVD", Quantity: 2, UnitPrice: 5_000_000},
	})
	require.NoError(t, err)

	events, err := d.Detect(ctx, 4, "Duke", []model.InventoryEntry{
		{ItemID: 206, ItemName: "Xanax", Quantity: 10, UnitPrice: 830_000},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(367), events[0].ItemID)
	assert.Equal(t, int64(2), events[0].QuantitySold)
	assert.Equal(t, int64(10_000_000), events[0].TotalValue)
}

func TestDetect_NewItemsAndRestocksAreSilent(t *testing.T) {
	d, _ := newTestDetector(t)
	ctx := context.Background()

	_, err := d.Detect(ctx, 4, "Duke", []model.InventoryEntry{
		{ItemID: 206, ItemName: "Xanax", Quantity: 10, UnitPrice: 830_000},
	})
	require.NoError(t, err)

	events, err := d.Detect(ctx, 4, "Duke", []model.InventoryEntry{
		{ItemID: 206, ItemName: "Xanax", Quantity: 25, UnitPrice: 830_000},
		{ItemID: 159, ItemName: "First Aid Kit", Quantity: 50, UnitPrice: 20_000},
	})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDetect_PriceOnlyChangeIsSilent(t *testing.T) {
	d, _ := newTestDetector(t)
	ctx := context.Background()

	_, err := d.Detect(ctx, 4, "Duke", []model.InventoryEntry{
		{ItemID: 206, ItemName: "Xanax", Quantity: 10, UnitPrice: 830_000},
	})
	require.NoError(t, err)

	events, err := d.Detect(ctx, 4, "Duke", []model.InventoryEntry{
		{ItemID: 206, ItemName: "Xanax", Quantity: 10, UnitPrice: 750_000},
	})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDetect_EmptyBaselineThenListing(t *testing.T) {
	d, st := newTestDetector(t)
	ctx := context.Background()

	// An open listing with nothing for sale is a real baseline, not
	// never-seen: items appearing later are restocks, not sales.
	_, err := d.Detect(ctx, 4, "Duke", nil)
	require.NoError(t, err)

	snap, err := st.GetSnapshot(ctx, 4)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Empty(t, snap)

	events, err := d.Detect(ctx, 4, "Duke", []model.InventoryEntry{
		{ItemID: 206, ItemName: "Xanax", Quantity: 10, UnitPrice: 830_000},
	})
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDetect_MultipleSalesSortedByItem(t *testing.T) {
	d, _ := newTestDetector(t)
	ctx := context.Background()

	_, err := d.Detect(ctx, 4, "Duke", []model.InventoryEntry{
		{ItemID: 367, ItemName: "Erotic DVD", Quantity: 5, UnitPrice: 5_000_000},
		{ItemID: 206, ItemName: "Xanax", Quantity: 10, UnitPrice: 830_000},
	})
	require.NoError(t, err)

	events, err := d.Detect(ctx, 4, "Duke", []model.InventoryEntry{
		{ItemID: 367, ItemName: "Erotic DVD", Quantity: 4, UnitPrice: 5_000_000},
		{ItemID: 206, ItemName: "Xanax", Quantity: 8, UnitPrice: 830_000},
	})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(206), events[0].ItemID)
	assert.Equal(t, int64(367), events[1].ItemID)
}

func TestDetect_SnapshotOverwrittenAfterSale(t *testing.T) {
	d, st := newTestDetector(t)
	ctx := context.Background()

	_, err := d.Detect(ctx, 4, "Duke", []model.InventoryEntry{
		{ItemID: 206, ItemName: "Xanax", Quantity: 10, UnitPrice: 830_000},
	})
	require.NoError(t, err)

	_, err = d.Detect(ctx, 4, "Duke", []model.InventoryEntry{
		{ItemID: 206, ItemName: "Xanax", Quantity: 6, UnitPrice: 900_000},
	})
	require.NoError(t, err)

	// The same inventory next cycle must not re-report the sale.
	events, err := d.Detect(ctx, 4, "Duke", []model.InventoryEntry{
		{ItemID: 206, ItemName: "Xanax", Quantity: 6, UnitPrice: 900_000},
	})
	require.NoError(t, err)
	assert.Empty(t, events)

	snap, err := st.GetSnapshot(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, model.ItemListing{Quantity: 6, UnitPrice: 900_000}, snap[206])
}

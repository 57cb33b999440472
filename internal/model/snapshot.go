package model

// ItemListing is one priced stack inside an actor's listed inventory.
type ItemListing struct {
	Quantity  int64 `json:"quantity"`
	UnitPrice int64 `json:"unit_price"`
}

// InventorySnapshot is a point-in-time view of one actor's listed inventory,
// keyed by item ID. A snapshot is replaced wholesale each cycle, never merged
// field-by-field. An empty non-nil snapshot is a valid baseline (open listing
// with nothing for sale); a nil snapshot means the actor has never been seen.
type InventorySnapshot map[int64]ItemListing

// Clone returns a deep copy of the snapshot.
func (s InventorySnapshot) Clone() InventorySnapshot {
	if s == nil {
		return nil
	}
	out := make(InventorySnapshot, len(s))
	for id, l := range s {
		out[id] = l
	}
	return out
}

// InventoryEntry is one row of a fetched listing, as reported by the actor
// profile API before it is folded into an InventorySnapshot.
type InventoryEntry struct {
	ItemID    int64  `json:"item_id"`
	ItemName  string `json:"item_name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// SnapshotFromEntries folds fetched listing rows into a snapshot. Duplicate
// stacks of the same item are summed at the first stack's price.
func SnapshotFromEntries(entries []InventoryEntry) InventorySnapshot {
	snap := make(InventorySnapshot, len(entries))
	for _, e := range entries {
		if l, ok := snap[e.ItemID]; ok {
			l.Quantity += e.Quantity
			snap[e.ItemID] = l
			continue
		}
		snap[e.ItemID] = ItemListing{Quantity: e.Quantity, UnitPrice: e.UnitPrice}
	}
	return snap
}

// TotalListedValue sums quantity*price across the snapshot.
func (s InventorySnapshot) TotalListedValue() int64 {
	var total int64
	for _, l := range s {
		total += l.Quantity * l.UnitPrice
	}
	return total
}

package model

import "time"

// SaleEvent is a discrete sale inferred from two consecutive inventory
// snapshots of the same actor. Events are derived, folded into the target
// ledger, and audited in the transaction log; they are never stored directly.
type SaleEvent struct {
	ActorID      int64  `json:"actor_id"`
	ActorName    string `json:"actor_name"`
	ItemID       int64  `json:"item_id"`
	ItemName     string `json:"item_name"`
	QuantitySold int64  `json:"quantity_sold"`
	UnitPrice    int64  `json:"unit_price"`
	TotalValue   int64  `json:"total_value"`
}

// Transaction is one append-only audit row recording an applied sale.
type Transaction struct {
	ID         string    `json:"id"`
	ActorID    int64     `json:"actor_id"`
	ActorName  string    `json:"actor_name"`
	ItemID     int64     `json:"item_id"`
	ItemName   string    `json:"item_name"`
	Quantity   int64     `json:"quantity"`
	UnitPrice  int64     `json:"unit_price"`
	TotalValue int64     `json:"total_value"`
	DetectedAt time.Time `json:"detected_at"`
}

package model

// MonitoredItem is a marketplace item whose top listings seed actor
// discovery. Owned by operators via the items commands; read-only to the
// detection core.
type MonitoredItem struct {
	ItemID   int64  `json:"item_id" yaml:"item_id"`
	ItemName string `json:"item_name" yaml:"item_name"`
	Enabled  bool   `json:"enabled" yaml:"enabled"`
}

// Listing is one marketplace listing row returned by the top-listings
// discovery API.
type Listing struct {
	ItemID    int64  `json:"item_id"`
	ActorID   int64  `json:"actor_id"`
	ActorName string `json:"actor_name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

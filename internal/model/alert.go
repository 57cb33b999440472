package model

import "time"

// AlertEntry records one delivered alert for auditing and 24h counts.
type AlertEntry struct {
	ID               string          `json:"id"`
	ActorID          int64           `json:"actor_id"`
	ActorName        string          `json:"actor_name"`
	AccumulatedValue int64           `json:"accumulated_value"`
	SalesBreakdown   map[int64]int64 `json:"sales_breakdown,omitempty"`
	SentAt           time.Time       `json:"sent_at"`
}

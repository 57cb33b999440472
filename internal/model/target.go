package model

import "time"

// TargetRecord tracks one actor's accumulated, not-yet-realized sale value.
// A record exists iff the actor has at least one undropped accumulated sale;
// dropping an actor deletes the record. VIP actors are zeroed instead of
// deleted so they stay under continuous observation.
type TargetRecord struct {
	ActorID          int64           `json:"actor_id"`
	ActorName        string          `json:"actor_name"`
	AccumulatedValue int64           `json:"accumulated_value"`
	SalesBreakdown   map[int64]int64 `json:"sales_breakdown"`

	// Profile fields, refreshed every cycle the actor is fetched.
	LastActionMinutes int             `json:"last_action_minutes"`
	StatusState       string          `json:"status_state"`
	StatusDescription string          `json:"status_description"`
	Condition         StatusCondition `json:"condition"`
	MuggedBy          string          `json:"mugged_by,omitempty"`

	// TravelState holds the status state observed on the previous cycle.
	// The transit deduction flag is cleared only on an Abroad -> Okay
	// transition, which this field makes observable.
	TravelState string `json:"travel_state"`

	// TransitDeductionApplied guards the per-visit transit penalty against
	// double application.
	TransitDeductionApplied bool `json:"transit_deduction_applied"`

	FirstDetected    time.Time  `json:"first_detected"`
	LastSaleTime     time.Time  `json:"last_sale_time"`
	LastAlertedAt    *time.Time `json:"last_alerted_at,omitempty"`
	LastAlertedValue *int64     `json:"last_alerted_value,omitempty"`
}

// Eligible reports whether the record currently meets every alert threshold.
// Mirrors the store-side eligibility query for in-memory checks.
func (t *TargetRecord) Eligible(minValue int64, minInactivityMinutes int) bool {
	if t.AccumulatedValue < minValue {
		return false
	}
	if t.LastActionMinutes < minInactivityMinutes {
		return false
	}
	if t.StatusState != StateOkay {
		return false
	}
	return t.LastAlertedValue == nil || t.AccumulatedValue > *t.LastAlertedValue
}

package model

import (
	"regexp"
	"strconv"
	"strings"
)

// StatusCondition is the tagged variant derived once from an actor's raw
// status at parse time. Rule evaluation matches on these variants, never on
// substrings of the raw description.
type StatusCondition string

const (
	// CondUnknown means the status could not be classified.
	CondUnknown StatusCondition = "unknown"
	// CondOkay is the home idle state; the only state alerts fire in.
	CondOkay StatusCondition = "okay"
	// CondTraveling covers flights and stays abroad with no special meaning.
	CondTraveling StatusCondition = "traveling"
	// CondReturning is an inbound flight home.
	CondReturning StatusCondition = "returning"
	// CondMoneyHaven is the safe-haven money storage location: accumulated
	// value can no longer be realized.
	CondMoneyHaven StatusCondition = "money_haven"
	// CondTransitRun is an outbound run to the known drug-run destination,
	// which carries a fixed cash-on-hand deduction.
	CondTransitRun StatusCondition = "transit_run"
	// CondMugged means the actor was just punished by someone else.
	CondMugged StatusCondition = "mugged"
	// CondIncapacitated is federal jail; tracking the actor is pointless.
	CondIncapacitated StatusCondition = "incapacitated"
)

// ProfileSnapshot is the per-cycle view of an actor's public profile.
type ProfileSnapshot struct {
	ActorID           int64           `json:"actor_id"`
	Name              string          `json:"name"`
	LastActionMinutes int             `json:"last_action_minutes"`
	StatusState       string          `json:"status_state"`
	StatusDescription string          `json:"status_description"`
	Condition         StatusCondition `json:"condition"`
	MuggedBy          string          `json:"mugged_by,omitempty"`
	ListingOpen       bool            `json:"listing_open"`
}

// Traveling reports whether the actor is abroad or in the air. Online checks
// are suppressed while traveling.
func (p ProfileSnapshot) Traveling() bool {
	return p.StatusState == StateAbroad || p.StatusState == StateTraveling
}

// Status state strings as reported by the upstream profile API.
const (
	StateOkay      = "Okay"
	StateAbroad    = "Abroad"
	StateTraveling = "Traveling"
	StateFederal   = "Federal"
)

// Location names carrying rule meaning.
const (
	moneyHavenLocation = "Cayman Islands"
	transitRunLocation = "South Africa"
)

const muggedPrefix = "Mugged by "

// ClassifyStatus derives the StatusCondition variant from the raw state,
// description, and details strings reported upstream. The mugged source name
// is returned alongside when applicable.
func ClassifyStatus(state, description, details string) (StatusCondition, string) {
	if state == StateFederal {
		return CondIncapacitated, ""
	}
	if mugger, ok := strings.CutPrefix(details, muggedPrefix); ok {
		return CondMugged, strings.TrimSpace(mugger)
	}
	if mugger, ok := strings.CutPrefix(description, muggedPrefix); ok {
		return CondMugged, strings.TrimSpace(mugger)
	}
	if strings.Contains(description, moneyHavenLocation) {
		return CondMoneyHaven, ""
	}
	if strings.Contains(description, transitRunLocation) {
		if strings.Contains(description, "Returning") {
			return CondReturning, ""
		}
		return CondTransitRun, ""
	}
	switch state {
	case StateOkay:
		return CondOkay, ""
	case StateAbroad, StateTraveling:
		if strings.Contains(description, "Returning") {
			return CondReturning, ""
		}
		return CondTraveling, ""
	}
	return CondUnknown, ""
}

var lastActionRe = regexp.MustCompile(`^(\d+)\s*(second|minute|hour|day|week|month|year)s?\s*ago$`)

// ParseLastActionMinutes converts the upstream relative last-action string
// ("Now", "15 minutes ago", "2 hours ago") into minutes. Returns -1 when the
// string cannot be parsed.
func ParseLastActionMinutes(relative string) int {
	relative = strings.ToLower(strings.TrimSpace(relative))
	if relative == "" {
		return -1
	}
	switch relative {
	case "now", "online", "just now":
		return 0
	}

	m := lastActionRe.FindStringSubmatch(relative)
	if m == nil {
		return -1
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	switch m[2] {
	case "second":
		return n / 60
	case "minute":
		return n
	case "hour":
		return n * 60
	case "day":
		return n * 1440
	case "week":
		return n * 10080
	case "month":
		return n * 43200
	case "year":
		return n * 525600
	}
	return -1
}

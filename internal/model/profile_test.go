package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		name        string
		state       string
		description string
		details     string
		want        StatusCondition
		wantMugger  string
	}{
		{"okay at home", "Okay", "Okay", "", CondOkay, ""},
		{"federal jail", "Federal", "In federal jail for 100 days", "", CondIncapacitated, ""},
		{"mugged in details", "Hospital", "In hospital for 10 mins", "Mugged by Duke", CondMugged, "Duke"},
		{"mugged in description", "Hospital", "Mugged by SomeGuy", "", CondMugged, "SomeGuy"},
		{"money haven stay", "Abroad", "In Cayman Islands", "", CondMoneyHaven, ""},
		{"money haven flight", "Traveling", "Traveling to Cayman Islands", "", CondMoneyHaven, ""},
		{"transit run outbound", "Traveling", "Traveling to South Africa", "", CondTransitRun, ""},
		{"transit run abroad", "Abroad", "In South Africa", "", CondTransitRun, ""},
		{"transit run returning", "Traveling", "Returning to Torn from South Africa", "", CondReturning, ""},
		{"generic outbound", "Traveling", "Traveling to Switzerland", "", CondTraveling, ""},
		{"generic abroad", "Abroad", "In Switzerland", "", CondTraveling, ""},
		{"generic returning", "Traveling", "Returning to Torn from Switzerland", "", CondReturning, ""},
		{"unclassified state", "Hospital", "In hospital for 2 hours", "", CondUnknown, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, mugger := ClassifyStatus(tt.state, tt.description, tt.details)
			assert.Equal(t, tt.want, cond)
			assert.Equal(t, tt.wantMugger, mugger)
		})
	}
}

func TestClassifyStatus_FederalWinsOverMugged(t *testing.T) {
	// Federal jail ends tracking even if the detail line still says mugged.
	cond, _ := ClassifyStatus("Federal", "In federal jail", "Mugged by Duke")
	assert.Equal(t, CondIncapacitated, cond)
}

func TestParseLastActionMinutes(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"Now", 0},
		{"just now", 0},
		{"30 seconds ago", 0},
		{"90 seconds ago", 1},
		{"1 minute ago", 1},
		{"17 minutes ago", 17},
		{"2 hours ago", 120},
		{"1 day ago", 1440},
		{"3 weeks ago", 30240},
		{"", -1},
		{"a while ago", -1},
		{"minutes ago", -1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLastActionMinutes(tt.in), "input %q", tt.in)
	}
}

func TestProfileSnapshot_Traveling(t *testing.T) {
	assert.True(t, ProfileSnapshot{StatusState: StateAbroad}.Traveling())
	assert.True(t, ProfileSnapshot{StatusState: StateTraveling}.Traveling())
	assert.False(t, ProfileSnapshot{StatusState: StateOkay}.Traveling())
}

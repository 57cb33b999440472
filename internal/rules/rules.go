// Package rules decides what happens to a tracked target after its profile
// refresh. Rules are plain data evaluated in a fixed order; the package
// mutates nothing itself and returns decisions for the ledger to apply.
package rules

import (
	"time"

	"github.com/torn-tools/bazaarwatch/internal/model"
)

// ActionKind identifies the mutation a fired rule requests.
type ActionKind int

const (
	// ActionNone keeps the record untouched.
	ActionNone ActionKind = iota
	// ActionReset zeroes the accumulated value but keeps tracking the actor.
	ActionReset
	// ActionDeduct subtracts a fixed penalty from the accumulated value and
	// sets the one-shot deduction guard.
	ActionDeduct
	// ActionDrop removes the actor from tracking entirely.
	ActionDrop
	// ActionClearDeduction re-arms the transit penalty guard.
	ActionClearDeduction
)

func (k ActionKind) String() string {
	switch k {
	case ActionReset:
		return "reset"
	case ActionDeduct:
		return "deduct"
	case ActionDrop:
		return "drop"
	case ActionClearDeduction:
		return "clear_deduction"
	default:
		return "none"
	}
}

// Decision is one fired rule's requested mutation. Amount is set only for
// ActionDeduct.
type Decision struct {
	Kind   ActionKind
	Rule   string
	Amount int64
	Reason string
}

// Rule pairs a predicate with the action to take when it matches. Terminal
// rules end evaluation for the record; non-terminal rules fire and let
// evaluation continue.
type Rule struct {
	Name     string
	Terminal bool
	Match    func(rec *model.TargetRecord, env Env) (Decision, bool)
}

// Env carries the cycle-invariant inputs every rule may consult.
type Env struct {
	Now            time.Time
	StaleAfter     time.Duration
	TransitPenalty int64
	VIP            map[int64]struct{}
}

func (e Env) isVIP(id int64) bool {
	_, ok := e.VIP[id]
	return ok
}

// dropOrReset downgrades a drop to a reset for VIP actors, which stay
// tracked permanently.
func dropOrReset(rec *model.TargetRecord, env Env, name, reason string) Decision {
	if env.isVIP(rec.ActorID) {
		return Decision{Kind: ActionReset, Rule: name, Reason: reason}
	}
	return Decision{Kind: ActionDrop, Rule: name, Reason: reason}
}

// Ordered is the production rule set. Order matters: the money haven check
// shadows the generic travel checks, the transit deduction must be assessed
// while the actor is still abroad, and staleness runs last so an actor
// removed for a stronger reason never double-fires.
var Ordered = []Rule{
	{
		Name:     "money-haven",
		Terminal: true,
		Match: func(rec *model.TargetRecord, env Env) (Decision, bool) {
			if rec.Condition != model.CondMoneyHaven {
				return Decision{}, false
			}
			return dropOrReset(rec, env, "money-haven", "banking in "+rec.StatusDescription), true
		},
	},
	{
		Name: "transit-deduction",
		Match: func(rec *model.TargetRecord, env Env) (Decision, bool) {
			if rec.Condition != model.CondTransitRun || rec.TransitDeductionApplied {
				return Decision{}, false
			}
			return Decision{
				Kind:   ActionDeduct,
				Rule:   "transit-deduction",
				Amount: env.TransitPenalty,
				Reason: "outbound transit run",
			}, true
		},
	},
	{
		Name:     "mugged",
		Terminal: true,
		Match: func(rec *model.TargetRecord, env Env) (Decision, bool) {
			if rec.Condition != model.CondMugged {
				return Decision{}, false
			}
			return dropOrReset(rec, env, "mugged", "mugged by "+rec.MuggedBy), true
		},
	},
	{
		Name:     "online",
		Terminal: true,
		Match: func(rec *model.TargetRecord, env Env) (Decision, bool) {
			// An actor shown online mid-flight is just using the app; the
			// check applies only on the ground.
			if rec.LastActionMinutes < 0 || rec.LastActionMinutes >= 2 {
				return Decision{}, false
			}
			if rec.Condition == model.CondTraveling || rec.Condition == model.CondReturning ||
				rec.Condition == model.CondTransitRun || rec.StatusState == model.StateAbroad {
				return Decision{}, false
			}
			return dropOrReset(rec, env, "online", "active within 2 minutes"), true
		},
	},
	{
		Name: "landed",
		Match: func(rec *model.TargetRecord, env Env) (Decision, bool) {
			if !rec.TransitDeductionApplied {
				return Decision{}, false
			}
			if rec.TravelState != model.StateAbroad || rec.StatusState != model.StateOkay {
				return Decision{}, false
			}
			return Decision{
				Kind:   ActionClearDeduction,
				Rule:   "landed",
				Reason: "returned home",
			}, true
		},
	},
	{
		Name:     "incapacitated",
		Terminal: true,
		Match: func(rec *model.TargetRecord, env Env) (Decision, bool) {
			if rec.Condition != model.CondIncapacitated {
				return Decision{}, false
			}
			// Federal removal ends tracking for everyone, VIPs included.
			return Decision{Kind: ActionDrop, Rule: "incapacitated", Reason: rec.StatusDescription}, true
		},
	},
	{
		Name:     "stale",
		Terminal: true,
		Match: func(rec *model.TargetRecord, env Env) (Decision, bool) {
			if env.StaleAfter <= 0 {
				return Decision{}, false
			}
			if env.isVIP(rec.ActorID) {
				return Decision{}, false
			}
			if env.Now.Sub(rec.LastSaleTime) < env.StaleAfter {
				return Decision{}, false
			}
			return Decision{Kind: ActionDrop, Rule: "stale", Reason: "no sales within window"}, true
		},
	},
}

// Engine evaluates the ordered rule set against target records.
type Engine struct {
	rules []Rule
}

// NewEngine returns an engine over the production rule set.
func NewEngine() *Engine {
	return &Engine{rules: Ordered}
}

// NewEngineWith returns an engine over a custom rule set, used in tests.
func NewEngineWith(rules []Rule) *Engine {
	return &Engine{rules: rules}
}

// Evaluate runs the rules in order against one record and returns every
// fired decision. Evaluation stops at the first terminal rule that fires, so
// a record yields at most one terminal decision, possibly preceded by
// non-terminal ones.
func (e *Engine) Evaluate(rec *model.TargetRecord, env Env) []Decision {
	var fired []Decision
	for _, r := range e.rules {
		d, ok := r.Match(rec, env)
		if !ok {
			continue
		}
		fired = append(fired, d)
		if r.Terminal {
			break
		}
	}
	return fired
}

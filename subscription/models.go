package subscription

import (
	"errors"
	"fmt"
	"time"
)

// Term is the length of one paid subscription window.
const Term = 30 * 24 * time.Hour

// Plan is a named subscription tier.
type Plan string

const (
	PlanBasic    Plan = "Basic"
	PlanStandard Plan = "Standard"
	PlanPremium  Plan = "Premium"
)

// ErrInvalidPlan signals a plan name outside the closed set.
var ErrInvalidPlan = errors.New("subscription: invalid plan")

// Plans lists every valid plan from cheapest to most expensive.
func Plans() []Plan {
	return []Plan{PlanBasic, PlanStandard, PlanPremium}
}

// ParsePlan converts a caller supplied name into a Plan. Matching is exact.
func ParsePlan(name string) (Plan, error) {
	p := Plan(name)
	if !p.Valid() {
		return "", fmt.Errorf("%w %q", ErrInvalidPlan, name)
	}
	return p, nil
}

func (p Plan) Valid() bool {
	switch p {
	case PlanBasic, PlanStandard, PlanPremium:
		return true
	default:
		return false
	}
}

func (p Plan) String() string { return string(p) }

// State is the lifecycle position of a client account.
type State string

const (
	StateUnapproved State = "unapproved"
	StateInactive   State = "inactive"
	StateActive     State = "active"
	StateExpired    State = "expired"
)

// Account mirrors the approval and subscription columns of the users table.
type Account struct {
	UserID   string
	Email    string
	Name     string
	Approved bool
	Active   bool
	Plan     *Plan
	Start    *time.Time
	End      *time.Time
}

// State derives the lifecycle state. Expiry is evaluated against now instead of
// trusting the stored active flag, the end timestamp wins when they disagree.
func (a Account) State(now time.Time) State {
	if !a.Approved {
		return StateUnapproved
	}
	if !a.Active || a.Plan == nil || a.End == nil {
		return StateInactive
	}
	if now.After(*a.End) {
		return StateExpired
	}
	return StateActive
}

// CurrentPlan returns the plan that currently grants access, if any.
func (a Account) CurrentPlan(now time.Time) (Plan, bool) {
	if a.State(now) != StateActive {
		return "", false
	}
	return *a.Plan, true
}

// Member is the admin-facing projection of a client account.
type Member struct {
	Account
	Surname   string
	CreatedAt time.Time
}

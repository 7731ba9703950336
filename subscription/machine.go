package subscription

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when the account cannot move to the requested state.
var ErrInvalidTransition = errors.New("subscription: invalid state transition")

// Window is a subscription period.
type Window struct {
	Start time.Time
	End   time.Time
}

// WindowPolicy decides the window granted by an activation. current is nil when
// the account has no running subscription.
type WindowPolicy func(now time.Time, current *Window) Window

// ResetWindow starts a fresh term at now. Re-subscribing while active discards
// the remaining time of the previous window.
func ResetWindow(now time.Time, _ *Window) Window {
	return Window{Start: now, End: now.Add(Term)}
}

// Machine applies lifecycle transitions to accounts. It holds no mutable state.
type Machine struct {
	now    func() time.Time
	policy WindowPolicy
}

func NewMachine() *Machine {
	return &Machine{now: time.Now, policy: ResetWindow}
}

func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

func (m *Machine) WithPolicy(policy WindowPolicy) *Machine {
	if policy != nil {
		m.policy = policy
	}
	return m
}

// Now exposes the machine clock so callers evaluate read-time expiry consistently.
func (m *Machine) Now() time.Time {
	return m.now().UTC()
}

// Approve moves an unapproved account to approved/inactive. Approving an
// approved account leaves it untouched.
func (m *Machine) Approve(acct Account) (Account, error) {
	if acct.Approved {
		return acct, nil
	}
	acct.Approved = true
	acct.Active = false
	acct.Plan = nil
	acct.Start = nil
	acct.End = nil
	return acct, nil
}

// Activate grants plan to an approved account, whatever its subscription state.
func (m *Machine) Activate(acct Account, plan Plan) (Account, error) {
	if !plan.Valid() {
		return Account{}, fmt.Errorf("%w %q", ErrInvalidPlan, plan)
	}
	if !acct.Approved {
		return Account{}, fmt.Errorf("%w: account pending approval", ErrInvalidTransition)
	}

	now := m.Now()
	var current *Window
	if acct.State(now) == StateActive {
		current = &Window{Start: *acct.Start, End: *acct.End}
	}
	w := m.policy(now, current)

	acct.Active = true
	acct.Plan = &plan
	acct.Start = &w.Start
	acct.End = &w.End
	return acct, nil
}

// Deactivate drops any plan from an account in any state. Approval is kept.
func (m *Machine) Deactivate(acct Account) (Account, error) {
	acct.Active = false
	acct.Plan = nil
	acct.Start = nil
	acct.End = nil
	return acct, nil
}

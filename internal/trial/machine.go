// Package trial decides trial membership and expiry. It never performs the
// trial-to-paid transition itself; that is committed by the subscription
// replacement flow.
package trial

import (
	"time"

	creditledgerdomain "github.com/fitglance/fitglance/internal/creditledger/domain"
	"github.com/fitglance/fitglance/internal/plancatalog"
	"go.uber.org/fx"
)

type State string

const (
	StateNotStarted State = "NOT_STARTED"
	StateInTrial    State = "IN_TRIAL"
	StateEnded      State = "ENDED"
)

type Reason string

const (
	ReasonDaysElapsed      Reason = "30 days"
	ReasonCreditsExhausted Reason = "credits exhausted"
	ReasonReplaced         Reason = "replaced"
)

// Decision is the outcome of the trial-end check. It carries no side effect.
type Decision struct {
	ShouldEnd bool   `json:"shouldEnd"`
	Reason    Reason `json:"reason,omitempty"`
}

// Status is the tagged trial state exposed to callers.
type Status struct {
	State     State      `json:"state"`
	Reason    Reason     `json:"reason,omitempty"`
	StartedAt *time.Time `json:"startedAt,omitempty"`
	EndsAt    *time.Time `json:"endsAt,omitempty"`
	Used      int64      `json:"used"`
	Limit     int64      `json:"limit"`
}

type Machine struct {
	catalog *plancatalog.Holder
}

func NewMachine(catalog *plancatalog.Holder) *Machine {
	return &Machine{catalog: catalog}
}

// ShouldEnd recomputes the trial-end condition from the stored start date and
// usage counter on every call. Whichever fires first wins: elapsed window or
// credit exhaustion.
func (m *Machine) ShouldEnd(acct creditledgerdomain.Account, now time.Time) Decision {
	if acct.TrialStartDate == nil {
		return Decision{}
	}

	policy := m.catalog.Get().Trial
	if now.Sub(*acct.TrialStartDate) >= policy.Duration() {
		return Decision{ShouldEnd: true, Reason: ReasonDaysElapsed}
	}
	if acct.TrialUsed >= policy.Credits {
		return Decision{ShouldEnd: true, Reason: ReasonCreditsExhausted}
	}
	return Decision{}
}

// IsInTrial requires the persisted flag and the recomputed condition to
// agree; neither source of truth is trusted alone.
func (m *Machine) IsInTrial(acct creditledgerdomain.Account, now time.Time) bool {
	if !acct.IsTrialPeriod || acct.TrialStartDate == nil {
		return false
	}
	return !m.ShouldEnd(acct, now).ShouldEnd
}

// StatusOf folds the account into the tagged trial state.
func (m *Machine) StatusOf(acct creditledgerdomain.Account, now time.Time) Status {
	policy := m.catalog.Get().Trial

	status := Status{
		State:     StateNotStarted,
		StartedAt: acct.TrialStartDate,
		Used:      acct.TrialUsed,
		Limit:     policy.Credits,
	}
	if acct.TrialStartDate == nil {
		return status
	}

	endsAt := acct.TrialStartDate.Add(policy.Duration())
	status.EndsAt = &endsAt

	if !acct.IsTrialPeriod {
		status.State = StateEnded
		status.Reason = ReasonReplaced
		return status
	}
	if decision := m.ShouldEnd(acct, now); decision.ShouldEnd {
		status.State = StateEnded
		status.Reason = decision.Reason
		return status
	}

	status.State = StateInTrial
	return status
}

var Module = fx.Module("trial.machine",
	fx.Provide(NewMachine),
)

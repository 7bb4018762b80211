package trial

import (
	"testing"
	"time"

	creditledgerdomain "github.com/fitglance/fitglance/internal/creditledger/domain"
	"github.com/fitglance/fitglance/internal/plancatalog"
	"github.com/stretchr/testify/assert"
)

func newTestMachine() *Machine {
	return NewMachine(plancatalog.NewStaticHolder(plancatalog.DefaultCatalog()))
}

func trialAccount(start time.Time, used int64) creditledgerdomain.Account {
	return creditledgerdomain.Account{
		IsTrialPeriod:  true,
		TrialStartDate: &start,
		TrialUsed:      used,
	}
}

func TestShouldEndAfterWindowElapses(t *testing.T) {
	m := newTestMachine()
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	start := now.AddDate(0, 0, -31)

	decision := m.ShouldEnd(trialAccount(start, 10), now)
	assert.True(t, decision.ShouldEnd)
	assert.Equal(t, ReasonDaysElapsed, decision.Reason)
}

func TestShouldEndWhenCreditsExhausted(t *testing.T) {
	m := newTestMachine()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	decision := m.ShouldEnd(trialAccount(now, 100), now)
	assert.True(t, decision.ShouldEnd)
	assert.Equal(t, ReasonCreditsExhausted, decision.Reason)
}

func TestShouldEndDaysWinOverCredits(t *testing.T) {
	m := newTestMachine()
	now := time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC)
	start := now.AddDate(0, 0, -31)

	// Both conditions hold; the elapsed window is reported.
	decision := m.ShouldEnd(trialAccount(start, 100), now)
	assert.True(t, decision.ShouldEnd)
	assert.Equal(t, ReasonDaysElapsed, decision.Reason)
}

func TestShouldNotEndMidTrial(t *testing.T) {
	m := newTestMachine()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	decision := m.ShouldEnd(trialAccount(now, 50), now)
	assert.False(t, decision.ShouldEnd)
	assert.Empty(t, decision.Reason)
}

func TestIsInTrialRequiresFlagAndCondition(t *testing.T) {
	m := newTestMachine()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, m.IsInTrial(trialAccount(now, 50), now))

	ended := trialAccount(now, 50)
	ended.IsTrialPeriod = false
	assert.False(t, m.IsInTrial(ended, now))

	exhausted := trialAccount(now, 100)
	assert.False(t, m.IsInTrial(exhausted, now))

	assert.False(t, m.IsInTrial(creditledgerdomain.Account{IsTrialPeriod: true}, now))
}

func TestStatusOf(t *testing.T) {
	m := newTestMachine()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, StateNotStarted, m.StatusOf(creditledgerdomain.Account{}, now).State)

	active := m.StatusOf(trialAccount(now.AddDate(0, 0, -5), 40), now)
	assert.Equal(t, StateInTrial, active.State)
	assert.Equal(t, int64(100), active.Limit)
	assert.NotNil(t, active.EndsAt)

	replaced := trialAccount(now.AddDate(0, 0, -5), 40)
	replaced.IsTrialPeriod = false
	status := m.StatusOf(replaced, now)
	assert.Equal(t, StateEnded, status.State)
	assert.Equal(t, ReasonReplaced, status.Reason)

	expired := m.StatusOf(trialAccount(now.AddDate(0, 0, -31), 40), now)
	assert.Equal(t, StateEnded, expired.State)
	assert.Equal(t, ReasonDaysElapsed, expired.Reason)
}

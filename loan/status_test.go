package loan_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/loan-engine/loan"
)

// =============================================================================
// STATE MACHINE
// =============================================================================

func TestTransition_Table(t *testing.T) {
	tests := []struct {
		from   loan.Status
		action loan.Action
		to     loan.Status
		ok     bool
	}{
		{loan.StatusApplied, loan.ActionApprove, loan.StatusManagerApproved, true},
		{loan.StatusApplied, loan.ActionReject, loan.StatusRejected, true},
		{loan.StatusManagerApproved, loan.ActionApprove, loan.StatusHrVerified, true},
		{loan.StatusManagerApproved, loan.ActionReject, loan.StatusRejected, true},
		{loan.StatusHrVerified, loan.ActionApprove, loan.StatusFinanceSanctioned, true},
		{loan.StatusHrVerified, loan.ActionReject, loan.StatusRejected, true},
		{loan.StatusFinanceSanctioned, loan.ActionDisburse, loan.StatusDisbursed, true},
		{loan.StatusDisbursed, loan.ActionRepay, loan.StatusActive, true},
		{loan.StatusActive, loan.ActionClose, loan.StatusClosed, true},

		{loan.StatusFinanceSanctioned, loan.ActionReject, loan.StatusFinanceSanctioned, false},
		{loan.StatusApplied, loan.ActionDisburse, loan.StatusApplied, false},
		{loan.StatusDisbursed, loan.ActionClose, loan.StatusDisbursed, false},
		{loan.StatusClosed, loan.ActionApprove, loan.StatusClosed, false},
		{loan.StatusRejected, loan.ActionApprove, loan.StatusRejected, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"_"+string(tt.action), func(t *testing.T) {
			to, err := loan.Transition(tt.from, tt.action)
			assert.Equal(t, tt.to, to)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, loan.ErrInvalidStateTransition)
			assert.True(t, loan.IsConflict(err))
		})
	}
}

func TestTransition_EveryLegalMoveIncreasesRank(t *testing.T) {
	actions := []loan.Action{loan.ActionApprove, loan.ActionReject, loan.ActionDisburse, loan.ActionRepay, loan.ActionClose, loan.ActionWaive}

	for _, from := range loan.AllStatuses {
		for _, a := range actions {
			to, err := loan.Transition(from, a)
			if err != nil {
				continue
			}
			assert.Greater(t, to.Rank(), from.Rank(), "%s --%s--> %s", from, a, to)
			assert.NotEqual(t, loan.StatusApplied, to)
		}
	}
}

func TestTransition_TerminalStatesHaveNoMoves(t *testing.T) {
	actions := []loan.Action{loan.ActionApprove, loan.ActionReject, loan.ActionDisburse, loan.ActionRepay, loan.ActionClose, loan.ActionWaive}

	for _, s := range []loan.Status{loan.StatusClosed, loan.StatusRejected} {
		assert.True(t, s.Terminal())
		for _, a := range actions {
			assert.False(t, loan.CanTransition(s, a), "%s allows %s", s, a)
		}
	}
}

func TestPendingStage(t *testing.T) {
	stage, ok := loan.PendingStage(loan.StatusManagerApproved)
	require.True(t, ok)
	assert.Equal(t, loan.LevelHR, stage.Level)
	assert.Equal(t, loan.RoleHR, stage.Role)

	_, ok = loan.PendingStage(loan.StatusFinanceSanctioned)
	assert.False(t, ok, "disbursal is not an approval stage")
}

// =============================================================================
// CALENDAR
// =============================================================================

func TestAddMonths_ClampsToMonthEnd(t *testing.T) {
	assert.Equal(t, date(2025, time.February, 28), loan.AddMonths(date(2025, time.January, 31), 1))
	assert.Equal(t, date(2024, time.February, 29), loan.AddMonths(date(2024, time.January, 31), 1))
	assert.Equal(t, date(2026, time.February, 28), loan.AddMonths(date(2025, time.January, 31), 13))
	assert.Equal(t, date(2025, time.March, 15), loan.AddMonths(date(2025, time.February, 15), 1))
}

func TestServiceYears(t *testing.T) {
	tests := []struct {
		name string
		join time.Time
		asOf time.Time
		want string
	}{
		{"exact anniversary", date(2022, time.March, 1), date(2025, time.March, 1), "3"},
		{"half year", date(2024, time.January, 1), date(2024, time.July, 2), "0.5"},
		{"day before anniversary", date(2022, time.March, 1), date(2025, time.February, 28), "2.9"},
		{"not yet joined", date(2025, time.March, 1), date(2025, time.January, 1), "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, loan.ServiceYears(tt.join, tt.asOf).String())
		})
	}
}

func TestParseCycle(t *testing.T) {
	c, err := loan.ParseCycle("2025-03")
	require.NoError(t, err)
	assert.Equal(t, "2025-03", c.Ref())
	assert.True(t, c.Contains(date(2025, time.March, 31)))
	assert.False(t, c.Contains(date(2025, time.April, 1)))

	_, err = loan.ParseCycle("March 2025")
	assert.ErrorIs(t, err, loan.ErrValidation)
}

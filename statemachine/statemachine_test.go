package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amelia-dev/amelia/workflow"
)

func TestValidate_AllowedTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to workflow.Status
		trigger  Trigger
	}{
		{workflow.StatusPending, workflow.StatusPlanning, TriggerStartPlanning},
		{workflow.StatusPending, workflow.StatusInProgress, TriggerSkipApprovalStart},
		{workflow.StatusPending, workflow.StatusCancelled, TriggerCancel},
		{workflow.StatusPlanning, workflow.StatusBlocked, TriggerAwaitApproval},
		{workflow.StatusPlanning, workflow.StatusFailed, TriggerArchitectFailure},
		{workflow.StatusPlanning, workflow.StatusCancelled, TriggerCancel},
		{workflow.StatusBlocked, workflow.StatusPlanning, TriggerReplan},
		{workflow.StatusBlocked, workflow.StatusInProgress, TriggerApprove},
		{workflow.StatusBlocked, workflow.StatusFailed, TriggerReject},
		{workflow.StatusBlocked, workflow.StatusCancelled, TriggerCancel},
		{workflow.StatusInProgress, workflow.StatusInProgress, TriggerIteration},
		{workflow.StatusInProgress, workflow.StatusCompleted, TriggerReviewerApprove},
		{workflow.StatusInProgress, workflow.StatusFailed, TriggerMaxIterations},
		{workflow.StatusInProgress, workflow.StatusCancelled, TriggerCancel},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			t.Parallel()
			trig, err := Validate(tc.from, tc.to)
			require.NoError(t, err)
			assert.Equal(t, tc.trigger, trig)
		})
	}
}

func TestValidate_TerminalStatesRejectAllTransitions(t *testing.T) {
	t.Parallel()

	terminals := []workflow.Status{workflow.StatusCompleted, workflow.StatusFailed, workflow.StatusCancelled}
	targets := []workflow.Status{
		workflow.StatusPending, workflow.StatusPlanning, workflow.StatusInProgress,
		workflow.StatusBlocked, workflow.StatusCompleted, workflow.StatusFailed, workflow.StatusCancelled,
	}

	for _, from := range terminals {
		for _, to := range targets {
			_, err := Validate(from, to)
			require.Error(t, err, "expected %s -> %s to be rejected", from, to)
			var invalid *InvalidTransitionError
			require.ErrorAs(t, err, &invalid)
		}
	}
}

func TestValidate_RejectsUnlistedNonTerminalTransitions(t *testing.T) {
	t.Parallel()

	// blocked -> completed skips the in_progress approval step and is never
	// listed in spec.md §4.4's table.
	_, err := Validate(workflow.StatusBlocked, workflow.StatusCompleted)
	require.Error(t, err)
}

func TestMustValidate(t *testing.T) {
	t.Parallel()

	assert.True(t, MustValidate(workflow.StatusPending, workflow.StatusPlanning))
	assert.False(t, MustValidate(workflow.StatusCompleted, workflow.StatusPlanning))
}

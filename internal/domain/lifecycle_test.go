package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTransition_LegalPath(t *testing.T) {
	legal := [][2]ProjectStatus{
		{ProjectStatusLead, ProjectStatusProposed},
		{ProjectStatusProposed, ProjectStatusDepositPending},
		{ProjectStatusDepositPending, ProjectStatusActive},
		{ProjectStatusActive, ProjectStatusInDispute},
		{ProjectStatusInDispute, ProjectStatusActive},
		{ProjectStatusInDispute, ProjectStatusCompleted},
		{ProjectStatusInDispute, ProjectStatusCancelled},
		{ProjectStatusActive, ProjectStatusOnHold},
		{ProjectStatusOnHold, ProjectStatusActive},
		{ProjectStatusActive, ProjectStatusCompleted},
	}

	for _, pair := range legal {
		assert.NoError(t, ValidateTransition(pair[0], pair[1]), "%s -> %s", pair[0], pair[1])
	}
}

func TestValidateTransition_CancelFromAnyNonTerminal(t *testing.T) {
	nonTerminal := []ProjectStatus{
		ProjectStatusLead,
		ProjectStatusProposed,
		ProjectStatusDepositPending,
		ProjectStatusActive,
		ProjectStatusInDispute,
		ProjectStatusOnHold,
	}

	for _, from := range nonTerminal {
		assert.NoError(t, ValidateTransition(from, ProjectStatusCancelled), "%s -> cancelled", from)
	}
}

func TestValidateTransition_Illegal(t *testing.T) {
	err := ValidateTransition(ProjectStatusLead, ProjectStatusActive)
	require.ErrorIs(t, err, ErrInvalidTransition)

	err = ValidateTransition(ProjectStatusDepositPending, ProjectStatusCompleted)
	require.ErrorIs(t, err, ErrInvalidTransition)

	err = ValidateTransition(ProjectStatusProposed, ProjectStatusInDispute)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestValidateTransition_TerminalViolation(t *testing.T) {
	for _, from := range []ProjectStatus{ProjectStatusCompleted, ProjectStatusCancelled} {
		err := ValidateTransition(from, ProjectStatusActive)
		require.ErrorIs(t, err, ErrTerminalState, "out of %s", from)

		err = ValidateTransition(from, ProjectStatusCancelled)
		require.ErrorIs(t, err, ErrTerminalState, "out of %s", from)
	}
}

func TestResolutionAction_IsValid(t *testing.T) {
	assert.True(t, ResolutionRefundClient.IsValid())
	assert.True(t, ResolutionReleaseDeveloper.IsValid())
	assert.True(t, ResolutionSplit.IsValid())
	assert.False(t, ResolutionAction("partial_refund").IsValid())
}

package domain

import "fmt"

// legalTransitions is the full project lifecycle table. cancelled is reachable
// from every non-terminal status; completed and cancelled are terminal.
var legalTransitions = map[ProjectStatus][]ProjectStatus{
	ProjectStatusLead:           {ProjectStatusProposed, ProjectStatusCancelled},
	ProjectStatusProposed:       {ProjectStatusDepositPending, ProjectStatusCancelled},
	ProjectStatusDepositPending: {ProjectStatusActive, ProjectStatusCancelled},
	ProjectStatusActive: {
		ProjectStatusInDispute,
		ProjectStatusOnHold,
		ProjectStatusCompleted,
		ProjectStatusCancelled,
	},
	ProjectStatusInDispute: {ProjectStatusActive, ProjectStatusCompleted, ProjectStatusCancelled},
	ProjectStatusOnHold:    {ProjectStatusActive, ProjectStatusCancelled},
	ProjectStatusCompleted: nil,
	ProjectStatusCancelled: nil,
}

func (s ProjectStatus) IsTerminal() bool {
	return s == ProjectStatusCompleted || s == ProjectStatusCancelled
}

// ValidateTransition rejects illegal status changes before any mutation is
// attempted. Transitions out of a terminal status fail with ErrTerminalState,
// every other illegal pair with ErrInvalidTransition.
func ValidateTransition(from, to ProjectStatus) error {
	if from.IsTerminal() {
		return fmt.Errorf("%s -> %s: %w", from, to, ErrTerminalState)
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
}

package service

import (
	"github.com/lekhabook/be-workflow/internal/repository"
)

// transitionTable is the fixed document lifecycle. DRAFT is initial;
// APPROVED, REJECTED and CANCELLED are terminal. PENDING_APPROVAL → DRAFT is
// the edit-while-pending reversion. DRAFT → APPROVED is the auto-approval
// path taken when no policy requires a human approver.
var transitionTable = map[repository.WorkflowState][]repository.WorkflowState{
	repository.StateDraft: {
		repository.StatePendingApproval,
		repository.StateApproved,
		repository.StateCancelled,
	},
	repository.StatePendingApproval: {
		repository.StateApproved,
		repository.StateRejected,
		repository.StateCancelled,
		repository.StateDraft,
	},
}

// CanTransition reports whether from → to is present in the lifecycle table.
func CanTransition(from, to repository.WorkflowState) bool {
	for _, target := range transitionTable[from] {
		if target == to {
			return true
		}
	}
	return false
}

// LegalTargets returns the states reachable from the given state.
func LegalTargets(from repository.WorkflowState) []repository.WorkflowState {
	targets := transitionTable[from]
	out := make([]repository.WorkflowState, len(targets))
	copy(out, targets)
	return out
}

package service

import (
	"testing"

	"github.com/lekhabook/be-workflow/internal/repository"
)

func TestCanTransition(t *testing.T) {
	allStates := []repository.WorkflowState{
		repository.StateDraft,
		repository.StatePendingApproval,
		repository.StateApproved,
		repository.StateRejected,
		repository.StateCancelled,
	}

	legal := map[repository.WorkflowState]map[repository.WorkflowState]bool{
		repository.StateDraft: {
			repository.StatePendingApproval: true,
			repository.StateApproved:        true,
			repository.StateCancelled:       true,
		},
		repository.StatePendingApproval: {
			repository.StateApproved:  true,
			repository.StateRejected:  true,
			repository.StateCancelled: true,
			repository.StateDraft:     true,
		},
	}

	for _, from := range allStates {
		for _, to := range allStates {
			want := legal[from][to]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTerminalStatesHaveNoTargets(t *testing.T) {
	for _, state := range []repository.WorkflowState{
		repository.StateApproved,
		repository.StateRejected,
		repository.StateCancelled,
	} {
		if !state.Terminal() {
			t.Errorf("%s should be terminal", state)
		}
		if targets := LegalTargets(state); len(targets) != 0 {
			t.Errorf("LegalTargets(%s) = %v, want none", state, targets)
		}
	}
}

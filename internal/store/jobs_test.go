package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransitionHappyPath(t *testing.T) {
	path := []string{JobRequested, JobAccepted, JobInProgress, JobDelivered, JobCompleted}

	seen := map[string]bool{path[0]: true}
	for i := 0; i < len(path)-1; i++ {
		assert.True(t, CanTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
		assert.False(t, seen[path[i+1]], "no state is entered twice on the happy path")
		seen[path[i+1]] = true
	}
}

func TestCanTransitionTerminalStatesHaveNoExits(t *testing.T) {
	all := []string{
		JobRequested, JobAccepted, JobInProgress, JobDelivered,
		JobCompleted, JobCancelled, JobDisputed,
	}
	for _, terminal := range []string{JobCompleted, JobCancelled, JobDisputed} {
		for _, to := range all {
			assert.False(t, CanTransition(terminal, to), "%s -> %s", terminal, to)
		}
	}
}

func TestCanTransitionDisputeFromAnyNonTerminal(t *testing.T) {
	for _, from := range []string{JobRequested, JobAccepted, JobInProgress, JobDelivered} {
		assert.True(t, CanTransition(from, JobDisputed), from)
	}
}

func TestCanTransitionCancelOnlyFromRequested(t *testing.T) {
	assert.True(t, CanTransition(JobRequested, JobCancelled))
	for _, from := range []string{JobAccepted, JobInProgress, JobDelivered, JobCompleted, JobDisputed} {
		assert.False(t, CanTransition(from, JobCancelled), from)
	}
}

func TestCanTransitionNoSkippedStages(t *testing.T) {
	assert.False(t, CanTransition(JobRequested, JobInProgress))
	assert.False(t, CanTransition(JobRequested, JobDelivered))
	assert.False(t, CanTransition(JobRequested, JobCompleted))
	assert.False(t, CanTransition(JobAccepted, JobDelivered))
	assert.False(t, CanTransition(JobAccepted, JobCompleted))
	assert.False(t, CanTransition(JobInProgress, JobCompleted))

	// No edge runs backwards.
	assert.False(t, CanTransition(JobDelivered, JobInProgress))
	assert.False(t, CanTransition(JobAccepted, JobRequested))

	assert.False(t, CanTransition("bogus", JobAccepted))
}

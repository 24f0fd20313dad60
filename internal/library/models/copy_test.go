package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCopyStateMachine pins the full transition table. Any pair not listed
// as allowed must be rejected.
func TestCopyStateMachine(t *testing.T) {
	allowed := map[CopyState][]CopyState{
		CopyAvailable:     {CopyLoaned, CopyInReadingRoom, CopyMaintenance, CopyLost},
		CopyLoaned:        {CopyReturned},
		CopyInReadingRoom: {CopyReturned},
		CopyReturned:      {CopyAvailable},
		CopyMaintenance:   {CopyAvailable},
		CopyLost:          {CopyAvailable},
	}

	all := []CopyState{CopyAvailable, CopyLoaned, CopyInReadingRoom, CopyReturned, CopyMaintenance, CopyLost}

	for from, targets := range allowed {
		ok := make(map[CopyState]bool, len(targets))
		for _, to := range targets {
			ok[to] = true
		}
		for _, to := range all {
			from, to := from, to
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				assert.Equal(t, ok[to], from.CanTransitionTo(to))
			})
		}
	}
}

func TestCopyStateMachine_SelfTransitionsRejected(t *testing.T) {
	for state := range validCopyStates {
		assert.False(t, state.CanTransitionTo(state), "self transition %s", state)
	}
}

func TestParseCopyState(t *testing.T) {
	t.Run("accepts known states", func(t *testing.T) {
		st, err := ParseCopyState("in_reading_room")
		require.NoError(t, err)
		assert.Equal(t, CopyInReadingRoom, st)
	})

	t.Run("rejects unknown states", func(t *testing.T) {
		_, err := ParseCopyState("misplaced")
		require.Error(t, err)
	})

	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseCopyState("")
		require.Error(t, err)
	})
}

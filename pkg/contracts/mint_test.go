package contracts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to MintStatus
		ok       bool
	}{
		{MintPending, MintScored, true},
		{MintScored, MintApproved, true},
		{MintScored, MintRejected, true},
		{MintApproved, MintRequested, true},
		{MintRequested, MintSigned, true},
		{MintSigned, MintLocked, true},
		{MintLocked, MintActivated, true},
		{MintActivated, MintClaimed, true},

		{MintLocked, MintSigned, false},
		{MintClaimed, MintActivated, false},
		{MintApproved, MintSigned, false},
		{MintRejected, MintRequested, false},
		{MintApproved, MintRejected, false},
		{MintLocked, MintLocked, false},

		{MintSigned, MintFailed, true},
		{MintLocked, MintFailed, true},
		{MintApproved, MintFailed, false},
		{MintClaimed, MintFailed, false},
		{MintFailed, MintLocked, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to))
		})
	}
}

func TestRank_Ordering(t *testing.T) {
	order := []MintStatus{MintPending, MintScored, MintApproved, MintRequested, MintSigned, MintLocked, MintActivated, MintClaimed}
	for i := 1; i < len(order); i++ {
		assert.Less(t, order[i-1].Rank(), order[i].Rank())
	}
	assert.Equal(t, -1, MintFailed.Rank())
}

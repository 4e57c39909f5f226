package checkout

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Stage
		to   Stage
		ok   bool
	}{
		{"happy path start", StageIdle, StageNegotiating, true},
		{"quote received", StageNegotiating, StageQuoted, true},
		{"pay gesture", StageQuoted, StageAuthorizingPayment, true},
		{"validation bounce", StageAuthorizingPayment, StageQuoted, true},
		{"order create retry fallback", StageCreatingPaymentOrder, StageInitDone, true},
		{"gateway retry fallback", StageAwaitingGateway, StageInitDone, true},
		{"fail from anywhere", StageNegotiating, StageFailed, true},
		{"cancel from anywhere", StageAwaitingGateway, StageCancelled, true},
		{"no skipping initiation", StageQuoted, StageCreatingPaymentOrder, false},
		{"no confirm before charge", StageInitDone, StageConfirming, false},
		{"no backwards to idle", StageQuoted, StageIdle, false},
		{"terminal is terminal", StageConfirmed, StageFailed, false},
		{"no resurrection", StageCancelled, StageNegotiating, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.ok, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, StageConfirmed.Terminal())
	assert.True(t, StageFailed.Terminal())
	assert.True(t, StageCancelled.Terminal())
	assert.False(t, StageQuoted.Terminal())
	assert.False(t, StageIdle.Terminal())
}

package checkout

// Stage is a checkout transaction state. Transitions are linear through the
// happy path; FAILED and CANCELLED are reachable from anywhere, and the two
// payment stages may fall back to INIT_DONE for a bounded user-triggered
// retry of the payment sub-flow.
type Stage string

const (
	StageIdle                 Stage = "IDLE"
	StageNegotiating          Stage = "NEGOTIATING"
	StageQuoted               Stage = "QUOTED"
	StageAuthorizingPayment   Stage = "AUTHORIZING_PAYMENT"
	StageInitiating           Stage = "INITIATING"
	StageInitDone             Stage = "INIT_DONE"
	StageCreatingPaymentOrder Stage = "CREATING_PAYMENT_ORDER"
	StageAwaitingGateway      Stage = "AWAITING_GATEWAY"
	StagePaymentConfirmed     Stage = "PAYMENT_CONFIRMED"
	StageConfirming           Stage = "CONFIRMING"
	StageConfirmed            Stage = "CONFIRMED"
	StageFailed               Stage = "FAILED"
	StageCancelled            Stage = "CANCELLED"
)

// Terminal reports whether no further transition may occur.
func (s Stage) Terminal() bool {
	switch s {
	case StageConfirmed, StageFailed, StageCancelled:
		return true
	}
	return false
}

var validNext = map[Stage][]Stage{
	StageIdle:                 {StageNegotiating},
	StageNegotiating:          {StageQuoted},
	StageQuoted:               {StageAuthorizingPayment},
	StageAuthorizingPayment:   {StageInitiating, StageQuoted},
	StageInitiating:           {StageInitDone},
	StageInitDone:             {StageCreatingPaymentOrder},
	StageCreatingPaymentOrder: {StageAwaitingGateway, StageInitDone},
	StageAwaitingGateway:      {StagePaymentConfirmed, StageInitDone},
	StagePaymentConfirmed:     {StageConfirming},
	StageConfirming:           {StageConfirmed},
}

// CanTransition reports whether from → to is a legal step. Pure function;
// the orchestrator's driver loop is the only place effects happen.
func CanTransition(from, to Stage) bool {
	if from.Terminal() {
		return false
	}
	if to == StageFailed || to == StageCancelled {
		return true
	}
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}

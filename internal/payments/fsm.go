package payments

import "github.com/coursehub-app/coursehub-backend/pkg/enums"

// allowedTransitions is the single source of truth for the payment
// state machine. Every status change in the system goes through
// CanTransition.
var allowedTransitions = map[enums.PaymentStatus][]enums.PaymentStatus{
	enums.PaymentStatusPending: {
		enums.PaymentStatusProcessing,
		enums.PaymentStatusCompleted,
		enums.PaymentStatusFailed,
		enums.PaymentStatusCancelled,
	},
	enums.PaymentStatusProcessing: {
		enums.PaymentStatusCompleted,
		enums.PaymentStatusFailed,
	},
	enums.PaymentStatusCompleted: {
		enums.PaymentStatusRefunded,
	},
}

// CanTransition reports whether moving from current to target is a
// legal edge. A same-status transition is never an edge; callers treat
// it as an idempotent no-op before consulting this.
func CanTransition(current, target enums.PaymentStatus) bool {
	for _, allowed := range allowedTransitions[current] {
		if allowed == target {
			return true
		}
	}
	return false
}

package billing

// =============================================================================
// STATUS - State machine shared by charges and installments
// =============================================================================

// Status is the lifecycle state of a charge or installment.
//
// Transitions:
//
//	pending  -> overdue    (time-driven, via sweep only)
//	pending  -> paid       (payment)
//	overdue  -> paid       (late payment)
//	pending  -> cancelled  (administrative)
//	overdue  -> cancelled  (administrative)
//
// paid and cancelled are terminal. The sweep is monotonic: it never reverts
// overdue to pending, and it never touches paid items.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusOverdue   Status = "overdue"
	StatusCancelled Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

// IsOpen reports whether the item still awaits payment.
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusOverdue
}

// CanTransitionTo enforces the state machine above.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusOverdue || next == StatusPaid || next == StatusCancelled
	case StatusOverdue:
		return next == StatusPaid || next == StatusCancelled
	default:
		// paid and cancelled are terminal
		return false
	}
}

// =============================================================================
// PAYMENT METHOD
// =============================================================================

type PaymentMethod string

const (
	MethodCash       PaymentMethod = "cash"
	MethodPix        PaymentMethod = "pix"
	MethodCreditCard PaymentMethod = "credit_card"
	MethodDebitCard  PaymentMethod = "debit_card"
	MethodBoleto     PaymentMethod = "boleto"
	MethodTransfer   PaymentMethod = "transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodPix, MethodCreditCard, MethodDebitCard, MethodBoleto, MethodTransfer:
		return true
	}
	return false
}

// =============================================================================
// SHARED IDENTIFIERS
// =============================================================================

type TenantID string
type StudentID string

// Tenant is a gym ("academia"). Every engine operation is scoped to exactly
// one tenant; the engines assume the caller already enforced tenant access.
type Tenant struct {
	ID   TenantID
	Name string
}

package engine

// Eviction reasons produced by the health policy.
const (
	ReasonInsufficientCredit = "insufficient credit"
	ReasonAccountSuspended   = "account suspended"
)

// Decision is the policy verdict for one outcome.
type Decision struct {
	// Evict is true when the worker must be removed from the pool.
	Evict bool

	// Reason is the eviction reason. Empty when Evict is false.
	Reason string
}

// Policy decides whether a worker stays in the pool after an attempt.
// The zero value uses DefaultCreditThreshold.
type Policy struct {
	// CreditThreshold is the minimum balance a worker's account must
	// hold to keep serving jobs. Zero means DefaultCreditThreshold.
	CreditThreshold int
}

// DefaultCreditThreshold is the balance below which a worker is evicted.
const DefaultCreditThreshold = 15

// Evaluate inspects an outcome and decides whether the worker that
// produced it should be evicted. An unhealthy outcome always evicts;
// otherwise a known credit balance below the threshold evicts with
// ReasonInsufficientCredit. Eviction is permanent for the process
// lifetime, so the decision errs on the side of keeping workers when
// the signal is ambiguous.
func (p Policy) Evaluate(o Outcome) Decision {
	if o.Kind == KindUnhealthy {
		reason := o.Reason
		if reason == "" {
			reason = "unhealthy"
		}
		return Decision{Evict: true, Reason: reason}
	}

	threshold := p.CreditThreshold
	if threshold <= 0 {
		threshold = DefaultCreditThreshold
	}
	if o.CreditKnown && o.Credit < threshold {
		return Decision{Evict: true, Reason: ReasonInsufficientCredit}
	}

	return Decision{}
}

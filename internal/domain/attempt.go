package domain

// FailureKind classifies a failed broadcast attempt. Closed set; produced
// only by the broadcast classifier.
type FailureKind string

const (
	FailureBlockhashExpired  FailureKind = "blockhash_expired"
	FailureBlockhashNotFound FailureKind = "blockhash_not_found"
	FailureComputeExceeded   FailureKind = "compute_exceeded"
	FailurePriorityTooLow    FailureKind = "priority_too_low"
	FailureOther             FailureKind = "other"
)

// Retryable reports whether the retry engine has a policy for this kind.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureBlockhashExpired, FailureBlockhashNotFound, FailureComputeExceeded, FailurePriorityTooLow:
		return true
	}
	return false
}

// BroadcastAttempt records one submission attempt for one plan.
// Corresponds to broadcast_attempts table in ClickHouse.
type BroadcastAttempt struct {
	AttemptID   string      // uuid
	CycleID     string      // uuid of the scheduler cycle
	Obligation  string      // plan key
	Attempt     int         // 1-based position in the retry loop
	Signature   string      // base58 transaction signature, empty if send failed
	Blockhash   string      // blockhash the attempt was compiled against
	CULimit     uint32      // compute unit limit used
	CUPrice     uint64      // compute unit price, micro-lamports
	TxBytes     int         // serialized transaction size
	SubmittedAt int64       // Unix timestamp in milliseconds
	DurationMs  int64       // send + confirmation wait
	Confirmed   bool        // reached confirmed commitment
	Failure     FailureKind // empty on success
	Err         string      // raw error text, empty on success
}

package solana

import "encoding/base64"

// LatestBlockhash from getLatestBlockhash.
type LatestBlockhash struct {
	Blockhash            string // base58
	LastValidBlockHeight uint64 // last block height this hash signs for
	Slot                 uint64 // slot the value was read at
}

// SendOpts defines optional parameters for sendTransaction.
type SendOpts struct {
	SkipPreflight       bool
	PreflightCommitment string // defaults to the client commitment
	MaxRetries          *int   // RPC-side resend budget; nil leaves it to the node
}

// SimulateOpts defines optional parameters for simulateTransaction.
type SimulateOpts struct {
	SigVerify              bool
	ReplaceRecentBlockhash bool     // mutually exclusive with SigVerify
	Commitment             string   // defaults to the client commitment
	Accounts               []string // pubkeys whose post-execution state to return
}

// SimulationResult from simulateTransaction.
type SimulationResult struct {
	Slot          uint64
	Err           interface{} // nil on success, raw TransactionError otherwise
	Logs          []string
	UnitsConsumed uint64
	Accounts      []*AccountInfo // parallel to SimulateOpts.Accounts, nil entries for missing
}

// SignatureStatus from getSignatureStatuses.
type SignatureStatus struct {
	Slot               uint64
	Confirmations      *uint64 // nil once rooted
	Err                interface{}
	ConfirmationStatus string // "processed" | "confirmed" | "finalized"
}

// Confirmed reports whether the transaction reached at least confirmed
// commitment without an error.
func (s *SignatureStatus) Confirmed() bool {
	if s == nil || s.Err != nil {
		return false
	}
	return s.ConfirmationStatus == "confirmed" || s.ConfirmationStatus == "finalized"
}

// AccountInfo represents Solana account information.
type AccountInfo struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Data       string `json:"data"` // base64 encoded
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rentEpoch"`
}

// DataBytes decodes the base64 account data.
func (a *AccountInfo) DataBytes() ([]byte, error) {
	return base64.StdEncoding.DecodeString(a.Data)
}

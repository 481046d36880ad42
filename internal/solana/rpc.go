package solana

import "context"

// RPCClient defines the Solana RPC HTTP surface the engine uses.
type RPCClient interface {
	// GetLatestBlockhash retrieves the current blockhash and its expiry height.
	GetLatestBlockhash(ctx context.Context) (*LatestBlockhash, error)

	// GetBlockHeight retrieves the current block height.
	GetBlockHeight(ctx context.Context) (uint64, error)

	// SendTransaction submits a signed, base64-encoded transaction and
	// returns its signature.
	SendTransaction(ctx context.Context, txBase64 string, opts *SendOpts) (string, error)

	// SimulateTransaction runs a transaction against current state without
	// submitting it.
	SimulateTransaction(ctx context.Context, txBase64 string, opts *SimulateOpts) (*SimulationResult, error)

	// GetSignatureStatuses retrieves confirmation status for the signatures.
	// Result entries are nil for unknown signatures.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)

	// GetMultipleAccounts retrieves account info for each pubkey. Result
	// entries are nil for accounts that do not exist.
	GetMultipleAccounts(ctx context.Context, pubkeys []string) ([]*AccountInfo, error)
}

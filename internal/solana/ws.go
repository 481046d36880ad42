package solana

import "context"

// WSClient is the account-subscription surface of the Solana pubsub API.
// The watch set is dynamic: accounts can be added and removed on one live
// connection without resubscribing the rest.
type WSClient interface {
	// Watch subscribes to account updates for the given pubkeys. Already
	// watched pubkeys are skipped.
	Watch(ctx context.Context, pubkeys ...string) error

	// Unwatch cancels the subscriptions for the given pubkeys.
	Unwatch(ctx context.Context, pubkeys ...string) error

	// Watched returns the current watch set.
	Watched() []string

	// Notifications returns the shared stream of account updates for every
	// watched account.
	Notifications() <-chan AccountNotification

	// Fatal reports an unrecoverable transport failure (reconnect budget
	// exhausted). The channel receives at most one error.
	Fatal() <-chan error

	// Close closes the connection and all channels.
	Close() error
}

// AccountNotification is one account update delivered over the socket.
type AccountNotification struct {
	Pubkey   string
	Slot     uint64
	Lamports uint64
	Owner    string
	Data     []byte // decoded account data
}

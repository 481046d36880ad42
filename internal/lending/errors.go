package lending

import "errors"

// ErrObligationHealthy marks the expected race loss: by the time the
// transaction ran, the obligation was no longer liquidatable. The plan is
// skipped for the cycle, never retried or destroyed on this error.
var ErrObligationHealthy = errors.New("obligation healthy")

// ErrNoSwapRoute is returned when the collateral mint differs from the repay
// mint and the factory has no route configured between them.
var ErrNoSwapRoute = errors.New("no swap route for mint pair")

// ErrUnknownReserve is returned when a plan references a reserve the market
// layout does not carry.
var ErrUnknownReserve = errors.New("reserve not in market layout")

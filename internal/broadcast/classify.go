package broadcast

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"solana-liquidator/internal/domain"
	"solana-liquidator/internal/solana"
)

// Classify maps a broadcast failure onto the closed failure taxonomy. It is
// the only producer of domain.FailureKind values: send errors, preflight
// rejections and on-chain statuses all pass through here. A transaction that
// never confirmed inside its deadline classifies as blockhash-expired, which
// retries it against a fresh hash.
func Classify(err error) domain.FailureKind {
	if err == nil {
		return ""
	}

	text := strings.ToLower(err.Error())
	var rpcErr *solana.RPCError
	if errors.As(err, &rpcErr) {
		if sim, ok := rpcErr.SimulationFailure(); ok {
			text += " " + strings.ToLower(fmt.Sprintf("%v %s", sim.Err, strings.Join(sim.Logs, " ")))
		}
	}

	switch {
	case strings.Contains(text, "blockhash not found"),
		strings.Contains(text, "blockhashnotfound"):
		return domain.FailureBlockhashNotFound
	case strings.Contains(text, "block height exceeded"),
		strings.Contains(text, "blockhash expired"):
		return domain.FailureBlockhashExpired
	case strings.Contains(text, "computationalbudgetexceeded"),
		strings.Contains(text, "computational budget exceeded"),
		strings.Contains(text, "exceeded cus meter"),
		strings.Contains(text, "compute budget exceeded"):
		return domain.FailureComputeExceeded
	case strings.Contains(text, "prioritization fee"),
		strings.Contains(text, "priority fee"),
		strings.Contains(text, "fee too low"),
		strings.Contains(text, "underpriced"),
		strings.Contains(text, "wouldexceedmaxblockcostlimit"),
		strings.Contains(text, "wouldexceedmaxaccountcostlimit"):
		return domain.FailurePriorityTooLow
	case errors.Is(err, context.DeadlineExceeded),
		strings.Contains(text, "deadline exceeded"),
		strings.Contains(text, "timed out"),
		strings.Contains(text, "timeout"):
		return domain.FailureBlockhashExpired
	}
	return domain.FailureOther
}

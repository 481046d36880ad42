package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"solana-liquidator/internal/domain"
	"solana-liquidator/internal/solana"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want domain.FailureKind
	}{
		{"nil", nil, ""},
		{"blockhash not found", errors.New("Transaction simulation failed: Blockhash not found"), domain.FailureBlockhashNotFound},
		{"enum form", errors.New("preflight: BlockhashNotFound"), domain.FailureBlockhashNotFound},
		{"height exceeded", errors.New("Transaction expired: block height exceeded"), domain.FailureBlockhashExpired},
		{"explicit expiry", errors.New("blockhash expired before confirmation"), domain.FailureBlockhashExpired},
		{"compute enum", errors.New("transaction failed on chain: map[InstructionError:[8 ComputationalBudgetExceeded]]"), domain.FailureComputeExceeded},
		{"compute log", errors.New("Program Xyz exceeded CUs meter at BPF instruction"), domain.FailureComputeExceeded},
		{"priority", errors.New("Transaction prioritization fee too low"), domain.FailurePriorityTooLow},
		{"cost limit", errors.New("preflight: WouldExceedMaxBlockCostLimit"), domain.FailurePriorityTooLow},
		{"deadline sentinel", fmt.Errorf("confirmation wait: %w", context.DeadlineExceeded), domain.FailureBlockhashExpired},
		{"timeout text", errors.New("rpc: request timed out"), domain.FailureBlockhashExpired},
		{"healthy custom code", errors.New("custom program error: 0x1779"), domain.FailureOther},
		{"wallet balance", errors.New("insufficient funds for fee"), domain.FailureOther},
		{"unknown", errors.New("node exploded"), domain.FailureOther},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestClassifyReadsPreflightData(t *testing.T) {
	// The RPC message alone says nothing; the kind hides in the simulation
	// payload attached to the error.
	err := &solana.RPCError{
		Code:    -32002,
		Message: "Transaction simulation failed",
		Data: json.RawMessage(`{
			"err": {"InstructionError": [8, "ComputationalBudgetExceeded"]},
			"logs": ["Program log: Instruction: LiquidateObligationAndRedeemReserveCollateral"]
		}`),
	}
	assert.Equal(t, domain.FailureComputeExceeded, Classify(err))

	wrapped := fmt.Errorf("send: %w", err)
	assert.Equal(t, domain.FailureComputeExceeded, Classify(wrapped))
}

func TestClassifyPolicyGate(t *testing.T) {
	assert.True(t, domain.FailureBlockhashExpired.Retryable())
	assert.True(t, domain.FailureBlockhashNotFound.Retryable())
	assert.True(t, domain.FailureComputeExceeded.Retryable())
	assert.True(t, domain.FailurePriorityTooLow.Retryable())
	assert.False(t, domain.FailureOther.Retryable())
}

package sequencer

import (
	"fmt"
	"strings"

	"solana-liquidator/internal/lending"
	"solana-liquidator/internal/solana"
)

// ValidationError reports a compiled transaction whose decoded labels do not
// match the canonical sequence. It is a build defect: the transaction is
// never submitted, and the diff names exactly where the order broke.
type ValidationError struct {
	Reason   string
	Expected []lending.Label
	Actual   []lending.Label
	Sequence []lending.Label
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("sequence validation failed: ")
	sb.WriteString(e.Reason)
	if len(e.Expected) > 0 || len(e.Actual) > 0 {
		fmt.Fprintf(&sb, " (expected %s, got %s)", joinLabels(e.Expected), joinLabels(e.Actual))
	}
	if len(e.Sequence) > 0 {
		fmt.Fprintf(&sb, "; full sequence: %s", joinLabels(e.Sequence))
	}
	return sb.String()
}

func joinLabels(labels []lending.Label) string {
	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = string(l)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// SequenceCheck is the decoded view of a validated transaction.
type SequenceCheck struct {
	Labels         []lending.Label
	LiquidateIndex int
}

// preLiquidateWindow is the exact label run the protocol requires directly
// before liquidate: obligation refresh, then both reserve refreshes, with
// the farm refresh in front when the collateral reserve carries one.
func preLiquidateWindow(withFarm bool) []lending.Label {
	window := []lending.Label{
		lending.LabelRefreshObligation,
		lending.LabelRefreshReserve,
		lending.LabelRefreshReserve,
	}
	if withFarm {
		return append([]lending.Label{lending.LabelRefreshFarms}, window...)
	}
	return window
}

// ValidateSequence decodes a compiled transaction back to semantic labels
// and checks the canonical shape: one liquidate, the exact pre-liquidate
// window in front of it, a flash borrow opening the loan body and a flash
// repay closing the transaction.
func ValidateSequence(raw []byte, labeler lending.Labeler, withFarm bool) (*SequenceCheck, error) {
	decoded, err := solana.DecodeTransaction(raw)
	if err != nil {
		return nil, fmt.Errorf("sequence validation: decode: %w", err)
	}

	labels := make([]lending.Label, len(decoded))
	liquidateAt := -1
	liquidates := 0
	for i, ix := range decoded {
		labels[i] = labeler.Label(ix)
		if labels[i] == lending.LabelLiquidate {
			liquidateAt = i
			liquidates++
		}
	}

	if liquidates != 1 {
		return nil, &ValidationError{
			Reason:   fmt.Sprintf("want exactly one liquidate instruction, found %d", liquidates),
			Sequence: labels,
		}
	}

	want := preLiquidateWindow(withFarm)
	k := len(want)
	if liquidateAt < k {
		return nil, &ValidationError{
			Reason:   fmt.Sprintf("liquidate at index %d leaves no room for the %d-instruction window", liquidateAt, k),
			Expected: want,
			Sequence: labels,
		}
	}

	got := labels[liquidateAt-k : liquidateAt]
	for i := range want {
		if got[i] != want[i] {
			return nil, &ValidationError{
				Reason:   fmt.Sprintf("window mismatch at offset %d before liquidate", i - k),
				Expected: want,
				Actual:   got,
				Sequence: labels,
			}
		}
	}

	if labels[len(labels)-1] != lending.LabelFlashRepay {
		return nil, &ValidationError{
			Reason:   "flash repay must close the transaction",
			Expected: []lending.Label{lending.LabelFlashRepay},
			Actual:   []lending.Label{labels[len(labels)-1]},
			Sequence: labels,
		}
	}

	borrowAt := -1
	for i, l := range labels {
		if l == lending.LabelFlashBorrow {
			borrowAt = i
			break
		}
	}
	if borrowAt == -1 || borrowAt > liquidateAt {
		return nil, &ValidationError{
			Reason:   "flash borrow must open the loan body",
			Sequence: labels,
		}
	}
	for i := 0; i < borrowAt; i++ {
		if labels[i] != lending.LabelComputeBudget && labels[i] != lending.LabelCreateTokenAccount {
			return nil, &ValidationError{
				Reason:   fmt.Sprintf("instruction %d precedes the flash borrow but is neither compute budget nor account setup", i),
				Actual:   []lending.Label{labels[i]},
				Sequence: labels,
			}
		}
	}

	return &SequenceCheck{Labels: labels, LiquidateIndex: liquidateAt}, nil
}

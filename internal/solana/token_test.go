package solana

import (
	"encoding/base64"
	"encoding/binary"
	"testing"
)

func TestParseTokenAmount(t *testing.T) {
	data := make([]byte, 165)
	binary.LittleEndian.PutUint64(data[64:], 987654321)

	amount, err := ParseTokenAmount(data)
	if err != nil {
		t.Fatalf("ParseTokenAmount: %v", err)
	}
	if amount != 987654321 {
		t.Errorf("expected 987654321, got %d", amount)
	}

	if _, err := ParseTokenAmount(data[:64]); err == nil {
		t.Error("expected error for short data")
	}
}

func TestTokenBalance(t *testing.T) {
	// Missing account reads as zero.
	amount, err := TokenBalance(nil)
	if err != nil {
		t.Fatalf("TokenBalance(nil): %v", err)
	}
	if amount != 0 {
		t.Errorf("expected 0 for missing account, got %d", amount)
	}

	data := make([]byte, 165)
	binary.LittleEndian.PutUint64(data[64:], 42)
	info := &AccountInfo{
		Owner: TokenProgramID,
		Data:  base64.StdEncoding.EncodeToString(data),
	}

	amount, err = TokenBalance(info)
	if err != nil {
		t.Fatalf("TokenBalance: %v", err)
	}
	if amount != 42 {
		t.Errorf("expected 42, got %d", amount)
	}

	bad := &AccountInfo{Data: "%%%not-base64%%%"}
	if _, err := TokenBalance(bad); err == nil {
		t.Error("expected error for undecodable data")
	}
}

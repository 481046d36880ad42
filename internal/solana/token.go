package solana

import (
	"encoding/binary"
	"fmt"
)

// SPL token account layout (fixed 165 bytes):
//
//	offset 0   mint (32 bytes)
//	offset 32  owner (32 bytes)
//	offset 64  amount (u64 LE)
//	offset 72  delegate option + remainder
const tokenAccountMinLen = 72

// ParseTokenAmount reads the balance out of raw token account data.
func ParseTokenAmount(data []byte) (uint64, error) {
	if len(data) < tokenAccountMinLen {
		return 0, fmt.Errorf("parse token amount: account data too short (%d bytes)", len(data))
	}
	return binary.LittleEndian.Uint64(data[64:72]), nil
}

// TokenBalance extracts the balance from account info, treating a missing
// account as zero.
func TokenBalance(info *AccountInfo) (uint64, error) {
	if info == nil {
		return 0, nil
	}
	raw, err := info.DataBytes()
	if err != nil {
		return 0, fmt.Errorf("decode token account data: %w", err)
	}
	return ParseTokenAmount(raw)
}

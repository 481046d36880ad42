package solana

import (
	"crypto/sha256"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// DeriveProgramAddress derives a Program Derived Address: sha256 over the
// seeds, a bump byte, the program id and the "ProgramDerivedAddress" marker,
// taking the highest bump whose hash is off the ed25519 curve.
func DeriveProgramAddress(seeds [][]byte, programID string) (string, error) {
	programBytes, err := base58.Decode(programID)
	if err != nil || len(programBytes) != 32 {
		return "", fmt.Errorf("derive program address: bad program id %q", programID)
	}

	for bump := byte(255); bump > 0; bump-- {
		data := make([]byte, 0, 128)
		for _, seed := range seeds {
			data = append(data, seed...)
		}
		data = append(data, bump)
		data = append(data, programBytes...)
		data = append(data, []byte("ProgramDerivedAddress")...)

		hash := sha256.Sum256(data)
		if !isOnCurve(hash[:]) {
			return base58.Encode(hash[:]), nil
		}
	}
	return "", fmt.Errorf("derive program address: no off-curve bump found")
}

// DeriveAssociatedTokenAccount derives the canonical per-owner-per-mint
// token account. Seeds: [owner, token program, mint] under the associated
// token program.
func DeriveAssociatedTokenAccount(owner, mint string) (string, error) {
	ownerBytes, err := base58.Decode(owner)
	if err != nil || len(ownerBytes) != 32 {
		return "", fmt.Errorf("derive token account: bad owner %q", owner)
	}
	mintBytes, err := base58.Decode(mint)
	if err != nil || len(mintBytes) != 32 {
		return "", fmt.Errorf("derive token account: bad mint %q", mint)
	}
	tokenProgramBytes, err := base58.Decode(TokenProgramID)
	if err != nil {
		return "", fmt.Errorf("derive token account: %w", err)
	}

	seeds := [][]byte{ownerBytes, tokenProgramBytes, mintBytes}
	addr, err := DeriveProgramAddress(seeds, AssociatedTokenProgram)
	if err != nil {
		return "", fmt.Errorf("derive token account for %s/%s: %w", owner, mint, err)
	}
	return addr, nil
}

// isOnCurve reports whether the bytes decode to a valid ed25519 point.
func isOnCurve(point []byte) bool {
	if len(point) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(point)
	return err == nil
}

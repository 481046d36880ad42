package solana

import (
	"testing"

	"github.com/mr-tron/base58"
)

func TestDeriveProgramAddress(t *testing.T) {
	addr, err := DeriveProgramAddress([][]byte{[]byte("user_metadata")}, SystemProgramID)
	if err != nil {
		t.Fatalf("DeriveProgramAddress: %v", err)
	}

	raw, err := base58.Decode(addr)
	if err != nil || len(raw) != 32 {
		t.Fatalf("derived address is not a 32-byte pubkey: %s", addr)
	}

	// PDAs are off the ed25519 curve.
	if isOnCurve(raw) {
		t.Error("derived address lies on the curve")
	}

	// Derivation is deterministic.
	again, err := DeriveProgramAddress([][]byte{[]byte("user_metadata")}, SystemProgramID)
	if err != nil {
		t.Fatalf("second derivation: %v", err)
	}
	if again != addr {
		t.Errorf("derivation not deterministic: %s vs %s", addr, again)
	}

	// Different seeds give a different address.
	other, err := DeriveProgramAddress([][]byte{[]byte("other_seed")}, SystemProgramID)
	if err != nil {
		t.Fatalf("other derivation: %v", err)
	}
	if other == addr {
		t.Error("different seeds derived the same address")
	}
}

func TestDeriveProgramAddress_BadProgram(t *testing.T) {
	if _, err := DeriveProgramAddress([][]byte{[]byte("seed")}, "not-a-pubkey"); err == nil {
		t.Error("expected error for invalid program id")
	}
}

func TestDeriveAssociatedTokenAccount(t *testing.T) {
	owner := mustKeypair(t).Pubkey()
	mintA := mustKeypair(t).Pubkey()
	mintB := mustKeypair(t).Pubkey()

	ataA, err := DeriveAssociatedTokenAccount(owner, mintA)
	if err != nil {
		t.Fatalf("DeriveAssociatedTokenAccount: %v", err)
	}

	raw, err := base58.Decode(ataA)
	if err != nil || len(raw) != 32 {
		t.Fatalf("ATA is not a 32-byte pubkey: %s", ataA)
	}

	ataB, err := DeriveAssociatedTokenAccount(owner, mintB)
	if err != nil {
		t.Fatalf("DeriveAssociatedTokenAccount: %v", err)
	}
	if ataA == ataB {
		t.Error("different mints derived the same token account")
	}

	again, err := DeriveAssociatedTokenAccount(owner, mintA)
	if err != nil {
		t.Fatalf("second derivation: %v", err)
	}
	if again != ataA {
		t.Errorf("derivation not deterministic: %s vs %s", ataA, again)
	}
}

func TestDeriveAssociatedTokenAccount_BadInput(t *testing.T) {
	owner := mustKeypair(t).Pubkey()

	if _, err := DeriveAssociatedTokenAccount("junk", owner); err == nil {
		t.Error("expected error for bad owner")
	}
	if _, err := DeriveAssociatedTokenAccount(owner, "junk"); err == nil {
		t.Error("expected error for bad mint")
	}
}

package solana

import (
	"crypto/ed25519"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/mr-tron/base58"
)

func TestNewKeypairFromBytes(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	kp, err := NewKeypairFromBytes(priv)
	if err != nil {
		t.Fatalf("NewKeypairFromBytes: %v", err)
	}

	if kp.Pubkey() != base58.Encode(pub) {
		t.Errorf("expected pubkey %s, got %s", base58.Encode(pub), kp.Pubkey())
	}

	payload := []byte("liquidate")
	sig := kp.Sign(payload)
	if !ed25519.Verify(pub, payload, sig) {
		t.Error("signature does not verify")
	}
}

func TestNewKeypairFromBytes_WrongLength(t *testing.T) {
	if _, err := NewKeypairFromBytes(make([]byte, 32)); err == nil {
		t.Error("expected error for 32-byte input")
	}
	if _, err := NewKeypairFromBytes(nil); err == nil {
		t.Error("expected error for nil input")
	}
}

func TestLoadKeypair(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	// CLI format: JSON array of byte values.
	vals := make([]int, len(priv))
	for i, b := range priv {
		vals[i] = int(b)
	}
	raw, err := json.Marshal(vals)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	path := filepath.Join(t.TempDir(), "id.json")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("write keypair: %v", err)
	}

	kp, err := LoadKeypair(path)
	if err != nil {
		t.Fatalf("LoadKeypair: %v", err)
	}

	if kp.Pubkey() != base58.Encode(pub) {
		t.Errorf("expected pubkey %s, got %s", base58.Encode(pub), kp.Pubkey())
	}
}

func TestLoadKeypair_Missing(t *testing.T) {
	if _, err := LoadKeypair(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadKeypair_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := LoadKeypair(path); err == nil {
		t.Error("expected error for malformed file")
	}
}

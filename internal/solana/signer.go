package solana

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mr-tron/base58"
)

// Keypair wraps an ed25519 key for transaction signing.
type Keypair struct {
	priv   ed25519.PrivateKey
	pubkey string
}

// NewKeypairFromBytes builds a keypair from the 64-byte expanded form
// (32-byte seed followed by the 32-byte public key).
func NewKeypairFromBytes(raw []byte) (*Keypair, error) {
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("keypair: expected %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	priv := ed25519.PrivateKey(append([]byte(nil), raw...))
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("keypair: unexpected public key type")
	}
	return &Keypair{priv: priv, pubkey: base58.Encode(pub)}, nil
}

// LoadKeypair reads a CLI-format keypair file: a JSON array of 64 byte
// values.
func LoadKeypair(path string) (*Keypair, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keypair file: %w", err)
	}
	var bytes []byte
	if err := json.Unmarshal(raw, &bytes); err != nil {
		return nil, fmt.Errorf("decode keypair file: %w", err)
	}
	kp, err := NewKeypairFromBytes(bytes)
	if err != nil {
		return nil, fmt.Errorf("keypair file %s: %w", path, err)
	}
	return kp, nil
}

// GenerateKeypair creates a random keypair. Test helper.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{priv: priv, pubkey: base58.Encode(pub)}, nil
}

// Pubkey returns the base58 public key.
func (k *Keypair) Pubkey() string {
	return k.pubkey
}

// Sign returns the 64-byte ed25519 signature over the payload.
func (k *Keypair) Sign(payload []byte) []byte {
	return ed25519.Sign(k.priv, payload)
}

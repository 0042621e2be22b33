// Package ed25519x is a thin wrapper over crypto/ed25519 giving the same
// size-checked, error-wrapped surface as pkg/crypto/bls, for components
// that accept either signature scheme (spec.md names both BLS and
// Ed25519 as supported primitives; stdlib ed25519 is used directly here
// since the retrieval pack's own Ed25519 code is a bare stdlib call with
// no third-party verification library behind it).
package ed25519x

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
)

type PrivateKey struct {
	key ed25519.PrivateKey
}

type PublicKey struct {
	key ed25519.PublicKey
}

type Signature struct {
	bytes []byte
}

// GenerateKeyPair generates a new Ed25519 key pair.
func GenerateKeyPair() (*PrivateKey, *PublicKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("ed25519x: generate key: %w", err)
	}
	return &PrivateKey{key: priv}, &PublicKey{key: pub}, nil
}

func PrivateKeyFromBytes(data []byte) (*PrivateKey, error) {
	if len(data) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("ed25519x: invalid private key size: got %d, want %d", len(data), ed25519.PrivateKeySize)
	}
	return &PrivateKey{key: ed25519.PrivateKey(data)}, nil
}

func PublicKeyFromBytes(data []byte) (*PublicKey, error) {
	if len(data) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("ed25519x: invalid public key size: got %d, want %d", len(data), ed25519.PublicKeySize)
	}
	return &PublicKey{key: ed25519.PublicKey(data)}, nil
}

func SignatureFromBytes(data []byte) (*Signature, error) {
	if len(data) != ed25519.SignatureSize {
		return nil, fmt.Errorf("ed25519x: invalid signature size: got %d, want %d", len(data), ed25519.SignatureSize)
	}
	return &Signature{bytes: data}, nil
}

func (sk *PrivateKey) Bytes() []byte { return sk.key }

func (sk *PrivateKey) PublicKey() *PublicKey {
	return &PublicKey{key: sk.key.Public().(ed25519.PublicKey)}
}

// Sign signs message with domain-separated input H(domain || message)
// handled by the caller via pkg/crypto/hashing; this wrapper signs raw
// bytes only, matching stdlib ed25519's contract.
func (sk *PrivateKey) Sign(message []byte) *Signature {
	return &Signature{bytes: ed25519.Sign(sk.key, message)}
}

func (pk *PublicKey) Bytes() []byte { return pk.key }

func (pk *PublicKey) Verify(sig *Signature, message []byte) bool {
	if sig == nil || len(sig.bytes) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pk.key, message, sig.bytes)
}

func (sig *Signature) Bytes() []byte { return sig.bytes }

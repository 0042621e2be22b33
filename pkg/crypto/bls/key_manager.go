package bls

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common"
)

// KeyManager handles BLS key load/generate/persist operations for a
// single validator's signing key.
type KeyManager struct {
	keyPath    string
	privateKey *PrivateKey
	publicKey  *PublicKey
}

func NewKeyManager(keyPath string) *KeyManager {
	return &KeyManager{keyPath: keyPath}
}

// LoadOrGenerateKey loads the key at keyPath, or generates and persists
// a new one if the file does not exist.
func (km *KeyManager) LoadOrGenerateKey() error {
	if err := Initialize(); err != nil {
		return fmt.Errorf("bls: initialize: %w", err)
	}
	if km.keyPath != "" {
		if _, err := os.Stat(km.keyPath); err == nil {
			return km.LoadKey()
		}
	}
	return km.GenerateNewKey()
}

func (km *KeyManager) LoadKey() error {
	if km.keyPath == "" {
		return fmt.Errorf("bls: no key path specified")
	}
	data, err := os.ReadFile(km.keyPath)
	if err != nil {
		return fmt.Errorf("bls: read key file: %w", err)
	}
	keyBytes, err := hex.DecodeString(string(data))
	if err != nil {
		return fmt.Errorf("bls: decode key hex: %w", err)
	}
	km.privateKey, err = PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return fmt.Errorf("bls: parse private key: %w", err)
	}
	km.publicKey = km.privateKey.PublicKey()
	return nil
}

func (km *KeyManager) GenerateNewKey() error {
	var err error
	km.privateKey, km.publicKey, err = GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("bls: generate key pair: %w", err)
	}
	if km.keyPath != "" {
		return km.SaveKey()
	}
	return nil
}

// GenerateFromSeed derives a deterministic key pair, used for
// reproducible devnet validator sets.
func (km *KeyManager) GenerateFromSeed(seed []byte) error {
	var err error
	km.privateKey, km.publicKey, err = GenerateKeyPairFromSeed(seed)
	if err != nil {
		return fmt.Errorf("bls: generate from seed: %w", err)
	}
	return nil
}

// GenerateFromValidatorID derives a deterministic key from a validator
// and network identifier, giving the same key across restarts without
// needing a persisted key file.
func (km *KeyManager) GenerateFromValidatorID(validatorID, networkID string) error {
	seed := sha256.Sum256([]byte(fmt.Sprintf("IBFT_BLS_KEY_V1:%s:%s", validatorID, networkID)))
	return km.GenerateFromSeed(seed[:])
}

func (km *KeyManager) SaveKey() error {
	if km.keyPath == "" {
		return fmt.Errorf("bls: no key path specified")
	}
	if km.privateKey == nil {
		return fmt.Errorf("bls: no private key to save")
	}
	dir := filepath.Dir(km.keyPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("bls: create key directory: %w", err)
	}
	keyHex := hex.EncodeToString(km.privateKey.Bytes())
	if err := os.WriteFile(km.keyPath, []byte(keyHex), 0600); err != nil {
		return fmt.Errorf("bls: write key file: %w", err)
	}
	return nil
}

func (km *KeyManager) PrivateKey() *PrivateKey { return km.privateKey }
func (km *KeyManager) PublicKey() *PublicKey   { return km.publicKey }

func (km *KeyManager) PublicKeyBytes() []byte {
	if km.publicKey == nil {
		return nil
	}
	return km.publicKey.Bytes()
}

func (km *KeyManager) PublicKeyHex() string {
	if km.publicKey == nil {
		return ""
	}
	return km.publicKey.Hex()
}

func (km *KeyManager) PrivateKeyBytes() []byte {
	if km.privateKey == nil {
		return nil
	}
	return km.privateKey.Bytes()
}

func (km *KeyManager) Sign(message []byte) (*Signature, error) {
	if km.privateKey == nil {
		return nil, fmt.Errorf("bls: no private key loaded")
	}
	return km.privateKey.Sign(message), nil
}

func (km *KeyManager) SignWithDomain(message []byte, domain string) (*Signature, error) {
	if km.privateKey == nil {
		return nil, fmt.Errorf("bls: no private key loaded")
	}
	return km.privateKey.SignWithDomain(message, domain), nil
}

// Address derives an Ethereum-shaped validator identifier from the BLS
// public key: the first 20 bytes of SHA-256(pubkey). Used only as the
// validator-set address field, never as an EVM account.
func (km *KeyManager) Address() common.Address {
	if km.publicKey == nil {
		return common.Address{}
	}
	hash := sha256.Sum256(km.publicKey.Bytes())
	var addr common.Address
	copy(addr[:], hash[:20])
	return addr
}

// Package identity provides the mediator's Ed25519 signing identity: key
// load-or-generate at startup, canonical-JSON signing, and signature
// verification for declarations and peer messages.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kase1111-hash/mediator-node/pkg/logx"
	"github.com/kase1111-hash/mediator-node/pkg/model"
)

var logger = logx.New("Identity")

// Signer holds this node's keypair and signs canonical-JSON payloads.
type Signer struct {
	mediatorID string
	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

// NewSigner wraps an existing private key.
func NewSigner(mediatorID string, privateKey ed25519.PrivateKey) (*Signer, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid private key size: expected %d, got %d", ed25519.PrivateKeySize, len(privateKey))
	}
	return &Signer{
		mediatorID: mediatorID,
		privateKey: privateKey,
		publicKey:  privateKey.Public().(ed25519.PublicKey),
	}, nil
}

// NewSignerFromHex parses a hex-encoded private key.
func NewSignerFromHex(mediatorID, hexKey string) (*Signer, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	return NewSigner(mediatorID, raw)
}

// LoadOrGenerate loads the mediator's key from keyPath, generating and
// persisting a new one (0600 permissions) if it does not exist.
func LoadOrGenerate(mediatorID, keyPath, dataDir string) (*Signer, error) {
	if keyPath == "" {
		keyPath = filepath.Join(dataDir, "mediator_ed25519_key.hex")
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		logger.Printf("generating new Ed25519 key at %s", keyPath)
		_, priv, genErr := ed25519.GenerateKey(rand.Reader)
		if genErr != nil {
			return nil, fmt.Errorf("generate ed25519 key: %w", genErr)
		}
		if writeErr := os.WriteFile(keyPath, []byte(hex.EncodeToString(priv)), 0600); writeErr != nil {
			return nil, fmt.Errorf("save ed25519 key to %s: %w", keyPath, writeErr)
		}
		return NewSigner(mediatorID, priv)
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read ed25519 key from %s: %w", keyPath, err)
	}
	return NewSignerFromHex(mediatorID, string(data))
}

// PublicKeyHex returns the node's public key, hex-encoded.
func (s *Signer) PublicKeyHex() string {
	return hex.EncodeToString(s.publicKey)
}

// MediatorID returns the identity this signer acts as.
func (s *Signer) MediatorID() string { return s.mediatorID }

// SignEntry signs the canonical JSON of entry and returns the hex signature,
// matching §6's `{entry, signature}` chain-service envelope.
func (s *Signer) SignEntry(entry any) (string, error) {
	canonical, err := model.CanonicalJSON(entry)
	if err != nil {
		return "", fmt.Errorf("canonicalize entry: %w", err)
	}
	sig := ed25519.Sign(s.privateKey, canonical)
	return hex.EncodeToString(sig), nil
}

// VerifyEntry verifies a hex signature against entry's canonical JSON using
// the given hex-encoded public key.
func VerifyEntry(entry any, signatureHex, publicKeyHex string) (bool, error) {
	pubBytes, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	sigBytes, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	canonical, err := model.CanonicalJSON(entry)
	if err != nil {
		return false, fmt.Errorf("canonicalize entry: %w", err)
	}
	return ed25519.Verify(ed25519.PublicKey(pubBytes), canonical, sigBytes), nil
}

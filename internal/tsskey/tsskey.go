// Package tsskey loads and generates the secp256k1 key a local TSS mock
// signs gateway payloads with.
package tsskey

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/juno-intents/ton-gateway/internal/secrets"
)

var ErrInvalidKey = errors.New("tsskey: invalid private key")

// Parse accepts 64 hex digits with an optional 0x prefix. The error never
// echoes the input.
func Parse(s string) (*ecdsa.PrivateKey, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 64 {
		return nil, fmt.Errorf("%w: want 64 hex digits", ErrInvalidKey)
	}
	key, err := crypto.HexToECDSA(s)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// Load fetches the key ref points at and parses it.
func Load(ctx context.Context, ref secrets.Ref) (*ecdsa.PrivateKey, error) {
	raw, err := secrets.Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("tsskey: load %s: %w", ref, err)
	}
	return Parse(raw.Reveal())
}

// EnsureFile loads the key stored at path, generating one if absent. The
// key is stored as lowercase hex without 0x prefix and mode 0600 on Unix.
func EnsureFile(path string) (*ecdsa.PrivateKey, bool, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, false, fmt.Errorf("tsskey: key path required")
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		key, parseErr := Parse(string(raw))
		if parseErr != nil {
			return nil, false, fmt.Errorf("tsskey: parse key %s: %w", path, parseErr)
		}
		return key, false, nil
	case !errors.Is(err, os.ErrNotExist):
		return nil, false, fmt.Errorf("tsskey: read key %s: %w", path, err)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, false, fmt.Errorf("tsskey: generate key: %w", err)
	}
	keyHex := strings.ToLower(common.Bytes2Hex(crypto.FromECDSA(key)))

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, false, fmt.Errorf("tsskey: create key dir: %w", err)
	}
	if err := writeFile0600(path, []byte(keyHex+"\n")); err != nil {
		return nil, false, err
	}
	return key, true, nil
}

// Address is the TSS identity the gateway stores for key.
func Address(key *ecdsa.PrivateKey) common.Address {
	return crypto.PubkeyToAddress(key.PublicKey)
}

func writeFile0600(path string, bytes []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("tsskey: open key for write %s: %w", path, err)
	}
	if _, err := f.Write(bytes); err != nil {
		_ = f.Close()
		return fmt.Errorf("tsskey: write key %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("tsskey: sync key %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("tsskey: close key %s: %w", path, err)
	}
	return nil
}

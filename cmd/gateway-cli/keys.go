package main

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/juno-intents/ton-gateway/internal/secrets"
	"github.com/juno-intents/ton-gateway/internal/tsskey"
)

type keygenOutput struct {
	TSSAddress string `json:"tss_address"`
	KeyPath    string `json:"key_path"`
	KeyCreated bool   `json:"key_created"`
}

func newKeygenCommand() *cobra.Command {
	var keyPath string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "create or reuse a local TSS signing key and print its identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(keyPath) == "" {
				return errors.New("--key-path is required")
			}
			key, created, err := tsskey.EnsureFile(keyPath)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), keygenOutput{
				TSSAddress: tsskey.Address(key).Hex(),
				KeyPath:    keyPath,
				KeyCreated: created,
			})
		},
	}
	cmd.Flags().StringVar(&keyPath, "key-path", "", "path for the secp256k1 key (created if missing)")
	return cmd
}

// keySource resolves the signing key from a key file or a secret reference.
type keySource struct {
	path   string
	secret string
}

func (k *keySource) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&k.path, "key-path", "", "TSS key file written by keygen")
	cmd.Flags().StringVar(&k.secret, "key-secret", "", "load the key from a secret instead: env:NAME, file:PATH or aws:SECRET_ID")
}

func (k *keySource) load(cmd *cobra.Command) (*ecdsa.PrivateKey, error) {
	path := strings.TrimSpace(k.path)
	secret := strings.TrimSpace(k.secret)
	switch {
	case path != "" && secret != "":
		return nil, errors.New("use only one of --key-path or --key-secret")
	case path != "":
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		return tsskey.Parse(string(raw))
	case secret != "":
		ref, err := secrets.ParseRef(secret)
		if err != nil {
			return nil, err
		}
		return tsskey.Load(cmd.Context(), ref)
	default:
		return nil, errors.New("--key-path or --key-secret is required")
	}
}

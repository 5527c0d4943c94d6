package main

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/spf13/cobra"
	"github.com/xssnick/tonutils-go/tlb"

	"github.com/juno-intents/ton-gateway/internal/authority"
	"github.com/juno-intents/ton-gateway/internal/tsskey"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

type signedOutput struct {
	Op        string `json:"op"`
	Seqno     uint32 `json:"seqno"`
	Signer    string `json:"signer"`
	BOC       string `json:"boc"`
	Signature string `json:"signature"`
}

func newSignCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "sign external gateway messages with the TSS key",
	}
	cmd.AddCommand(newSignWithdrawCommand(), newSignIncreaseSeqnoCommand())
	return cmd
}

func newSignWithdrawCommand() *cobra.Command {
	var (
		keys      keySource
		recipient string
		amount    string
		seqno     uint32
	)
	cmd := &cobra.Command{
		Use:   "withdraw",
		Short: "sign a withdrawal of --amount TON to --recipient",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			to, err := wire.ParseAddress(recipient)
			if err != nil {
				return fmt.Errorf("--recipient: %w", err)
			}
			value, err := parseTON(amount)
			if err != nil {
				return fmt.Errorf("--amount: %w", err)
			}
			return signAndPrint(cmd, &keys, wire.Withdraw{Recipient: to, Amount: value, Seqno: seqno})
		},
	}
	keys.register(cmd)
	cmd.Flags().StringVar(&recipient, "recipient", "", "raw TON address receiving the payout (wc:hex)")
	cmd.Flags().StringVar(&amount, "amount", "", "payout in TON, e.g. 1.5")
	cmd.Flags().Uint32Var(&seqno, "seqno", 0, "current gateway seqno")
	return cmd
}

func newSignIncreaseSeqnoCommand() *cobra.Command {
	var (
		keys   keySource
		reason uint32
		seqno  uint32
	)
	cmd := &cobra.Command{
		Use:   "increase-seqno",
		Short: "sign a seqno bump that invalidates outstanding signatures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return signAndPrint(cmd, &keys, wire.IncreaseSeqno{ReasonCode: reason, Seqno: seqno})
		},
	}
	keys.register(cmd)
	cmd.Flags().Uint32Var(&reason, "reason", 0, "reason code recorded in the message")
	cmd.Flags().Uint32Var(&seqno, "seqno", 0, "current gateway seqno")
	return cmd
}

func signAndPrint(cmd *cobra.Command, keys *keySource, p wire.Payload) error {
	key, err := keys.load(cmd)
	if err != nil {
		return err
	}
	m, err := authority.SignPayload(key, p)
	if err != nil {
		return err
	}
	body, err := wire.EncodeExternal(m)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), signedOutput{
		Op:        p.Op().String(),
		Seqno:     p.Seq(),
		Signer:    tsskey.Address(key).Hex(),
		BOC:       wire.Base64BOC(body),
		Signature: fmt.Sprintf("0x%x", m.Signature.Bytes()),
	})
}

func parseTON(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("required")
	}
	c, err := tlb.FromTON(s)
	if err != nil {
		return nil, err
	}
	v := c.Nano()
	if v.Sign() <= 0 {
		return nil, errors.New("must be > 0")
	}
	return v, nil
}

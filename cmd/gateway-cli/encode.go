package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/juno-intents/ton-gateway/internal/wire"
)

type encodedOutput struct {
	Op  string `json:"op"`
	BOC string `json:"boc"`
}

// newEncodeCommand builds internal message bodies for wallets that send
// value to the gateway.
func newEncodeCommand() *cobra.Command {
	var (
		queryID   uint64
		recipient string
		callData  string
		enabled   bool
		newTSS    string
		newAuth   string
		newSeqno  uint32
		codeBOC   string
	)
	cmd := &cobra.Command{
		Use:       "encode <op>",
		Short:     "encode an internal message body",
		ValidArgs: []string{"donate", "deposit", "deposit_and_call", "call", "set_deposits_enabled", "update_tss", "update_code", "update_authority", "reset_seqno"},
		Args:      cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			op, err := wire.ParseOp(args[0])
			if err != nil {
				return err
			}
			req, err := buildRequest(op, queryID, recipient, callData, enabled, newTSS, newAuth, newSeqno, codeBOC)
			if err != nil {
				return err
			}
			body, err := wire.EncodeRequest(req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), encodedOutput{Op: op.String(), BOC: wire.Base64BOC(body)})
		},
	}
	f := cmd.Flags()
	f.Uint64Var(&queryID, "query-id", 0, "query id echoed in logs and bounces")
	f.StringVar(&recipient, "recipient", "", "EVM recipient (deposit, deposit_and_call, call)")
	f.StringVar(&callData, "call-data", "", "hex call data (deposit_and_call, call)")
	f.BoolVar(&enabled, "enabled", false, "new deposits flag (set_deposits_enabled)")
	f.StringVar(&newTSS, "new-tss", "", "new TSS address (update_tss)")
	f.StringVar(&newAuth, "new-authority", "", "new authority wc:hex (update_authority)")
	f.Uint32Var(&newSeqno, "new-seqno", 0, "new seqno (reset_seqno)")
	f.StringVar(&codeBOC, "code-boc", "", "base64 BOC of the new code cell (update_code)")
	return cmd
}

func buildRequest(op wire.Op, queryID uint64, recipient, callData string, enabled bool, newTSS, newAuth string, newSeqno uint32, codeBOC string) (wire.Request, error) {
	evm := func(flag, v string) (common.Address, error) {
		if !common.IsHexAddress(strings.TrimSpace(v)) {
			return common.Address{}, fmt.Errorf("--%s must be a hex address", flag)
		}
		return common.HexToAddress(strings.TrimSpace(v)), nil
	}
	data := func() ([]byte, error) {
		b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(callData), "0x"))
		if err != nil {
			return nil, fmt.Errorf("--call-data: %w", err)
		}
		return b, nil
	}

	switch op {
	case wire.OpDonate:
		return wire.Donate{QueryID: queryID}, nil
	case wire.OpDeposit:
		to, err := evm("recipient", recipient)
		if err != nil {
			return nil, err
		}
		return wire.Deposit{QueryID: queryID, Recipient: to}, nil
	case wire.OpDepositAndCall, wire.OpCall:
		to, err := evm("recipient", recipient)
		if err != nil {
			return nil, err
		}
		b, err := data()
		if err != nil {
			return nil, err
		}
		if op == wire.OpCall {
			return wire.Call{QueryID: queryID, Recipient: to, CallData: b}, nil
		}
		return wire.DepositAndCall{QueryID: queryID, Recipient: to, CallData: b}, nil
	case wire.OpSetDepositsEnabled:
		return wire.SetDepositsEnabled{QueryID: queryID, Enabled: enabled}, nil
	case wire.OpUpdateTSS:
		tss, err := evm("new-tss", newTSS)
		if err != nil {
			return nil, err
		}
		return wire.UpdateTSS{QueryID: queryID, NewTSS: tss}, nil
	case wire.OpUpdateAuthority:
		a, err := wire.ParseAddress(newAuth)
		if err != nil {
			return nil, fmt.Errorf("--new-authority: %w", err)
		}
		return wire.UpdateAuthority{QueryID: queryID, NewAuthority: a}, nil
	case wire.OpResetSeqno:
		return wire.ResetSeqno{QueryID: queryID, NewSeqno: newSeqno}, nil
	case wire.OpUpdateCode:
		if strings.TrimSpace(codeBOC) == "" {
			return nil, errors.New("--code-boc is required for update_code")
		}
		code, err := wire.ParseBase64BOC(strings.TrimSpace(codeBOC))
		if err != nil {
			return nil, fmt.Errorf("--code-boc: %w", err)
		}
		return wire.UpdateCode{QueryID: queryID, Code: code}, nil
	default:
		return nil, fmt.Errorf("%s is an external op; use sign", op)
	}
}

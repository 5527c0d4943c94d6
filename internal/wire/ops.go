package wire

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Op is the 32-bit operation tag every message body starts with.
type Op uint32

const (
	OpDonate         Op = 100
	OpDeposit        Op = 101
	OpDepositAndCall Op = 102
	OpCall           Op = 103

	OpWithdraw           Op = 200
	OpSetDepositsEnabled Op = 201
	OpUpdateTSS          Op = 202
	OpUpdateCode         Op = 203
	OpUpdateAuthority    Op = 204
	OpResetSeqno         Op = 205
	OpIncreaseSeqno      Op = 206
)

var (
	ErrUnknownOp       = errors.New("wire: unknown op")
	ErrMalformed       = errors.New("wire: malformed cell")
	ErrInvalidCallData = errors.New("wire: invalid call data")
	ErrInvalidIdentity = errors.New("wire: invalid identity")
)

var opNames = map[Op]string{
	OpDonate:             "donate",
	OpDeposit:            "deposit",
	OpDepositAndCall:     "deposit_and_call",
	OpCall:               "call",
	OpWithdraw:           "withdraw",
	OpSetDepositsEnabled: "set_deposits_enabled",
	OpUpdateTSS:          "update_tss",
	OpUpdateCode:         "update_code",
	OpUpdateAuthority:    "update_authority",
	OpResetSeqno:         "reset_seqno",
	OpIncreaseSeqno:      "increase_seqno",
}

func (o Op) String() string {
	if n, ok := opNames[o]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", uint32(o))
}

// Known reports whether o is one of the gateway's operations.
func (o Op) Known() bool {
	_, ok := opNames[o]
	return ok
}

// Signed reports whether o arrives as a TSS-signed external message.
func (o Op) Signed() bool {
	return o == OpWithdraw || o == OpIncreaseSeqno
}

// ParseOp accepts either an op name ("deposit") or its decimal tag ("101").
func ParseOp(s string) (Op, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrUnknownOp)
	}
	if n, err := strconv.ParseUint(s, 10, 32); err == nil {
		op := Op(n)
		if !op.Known() {
			return 0, fmt.Errorf("%w: %d", ErrUnknownOp, n)
		}
		return op, nil
	}
	for op, name := range opNames {
		if name == s {
			return op, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOp, s)
}

// Ops returns every known op in ascending tag order.
func Ops() []Op {
	return []Op{
		OpDonate, OpDeposit, OpDepositAndCall, OpCall,
		OpWithdraw, OpSetDepositsEnabled, OpUpdateTSS, OpUpdateCode,
		OpUpdateAuthority, OpResetSeqno, OpIncreaseSeqno,
	}
}

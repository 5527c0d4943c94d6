package gateway

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/juno-intents/ton-gateway/internal/authority"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

// deposit handles Deposit and DepositAndCall: everything above the fee
// becomes locked value.
func (t *transition) deposit(op wire.Op, queryID uint64, recipient common.Address, callData []byte) error {
	if !t.st.DepositsEnabled {
		return ErrDepositsDisabled
	}
	fee, err := t.env.Schedule.EstimateFee(op)
	if err != nil {
		return err
	}
	value := t.value()
	if value.Cmp(fee) <= 0 {
		return fmt.Errorf("%w: value %s does not cover fee %s", ErrInsufficientValue, value, fee)
	}

	net := new(big.Int).Sub(value, fee)
	t.st.Locked = new(big.Int).Add(t.st.Locked, net)

	return t.emitLog(wire.DepositLog{
		Op:        op,
		QueryID:   queryID,
		Sender:    t.in.Sender,
		Amount:    net,
		Fee:       fee,
		Recipient: recipient,
		CallData:  callData,
	})
}

// call forwards an instruction to the remote chain without locking value.
// The gateway keeps the whole attached value, so the log reports it as fee.
func (t *transition) call(r wire.Call) error {
	if !t.st.DepositsEnabled {
		return ErrDepositsDisabled
	}
	fee, err := t.env.Schedule.EstimateFee(r.Op())
	if err != nil {
		return err
	}
	value := t.value()
	if value.Cmp(fee) <= 0 {
		return fmt.Errorf("%w: value %s does not cover fee %s", ErrInsufficientValue, value, fee)
	}

	return t.emitLog(wire.DepositLog{
		Op:        r.Op(),
		QueryID:   r.QueryID,
		Sender:    t.in.Sender,
		Amount:    new(big.Int),
		Fee:       new(big.Int).Set(value),
		Recipient: r.Recipient,
		CallData:  r.CallData,
	})
}

// withdraw releases locked value to an on-chain recipient on the TSS's
// signature. The self-recipient check runs before any signature work.
func (t *transition) withdraw(m wire.External, w wire.Withdraw) error {
	if wire.SameAddress(w.Recipient, t.env.Self) {
		return ErrInvalidTVMRecipient
	}
	if err := t.authorizeSigned(m, w.Seqno); err != nil {
		return err
	}
	if err := t.requireSurplus(wire.OpWithdraw); err != nil {
		return err
	}

	taken := t.env.Schedule.Reserve(w.Amount)
	if taken.Cmp(t.st.Locked) > 0 {
		return fmt.Errorf("%w: withdraw %s exceeds locked %s", ErrInsufficientValue, taken, t.st.Locked)
	}
	t.st.Locked = new(big.Int).Sub(t.st.Locked, taken)
	t.advanceSeqno()

	return t.send(Transfer{
		To:     w.Recipient,
		Amount: new(big.Int).Set(w.Amount),
		Bounce: true,
	})
}

// requireSurplus checks the unlocked part of the balance can pay for op,
// since signed messages bring no value of their own.
func (t *transition) requireSurplus(op wire.Op) error {
	fee, err := t.env.Schedule.EstimateFee(op)
	if err != nil {
		return err
	}
	surplus := new(big.Int).Sub(t.env.Balance, t.st.Locked)
	if surplus.Cmp(fee) < 0 {
		return fmt.Errorf("%w: surplus %s below fee %s", ErrInsufficientValue, surplus, fee)
	}
	return nil
}

// authorizeSigned runs the signature channel and then the replay guard.
func (t *transition) authorizeSigned(m wire.External, seqno uint32) error {
	if err := t.meter.Ecrecover(); err != nil {
		return err
	}
	if err := authority.VerifySignature(m, t.st.TSS); err != nil {
		return err
	}
	return t.checkSeqno(seqno)
}

func (t *transition) value() *big.Int {
	if t.in.Value == nil {
		return new(big.Int)
	}
	return t.in.Value
}

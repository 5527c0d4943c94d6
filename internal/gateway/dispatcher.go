package gateway

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/juno-intents/ton-gateway/internal/fees"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

var ErrInvalidEnv = errors.New("gateway: invalid env")

// transition carries the scratch state of one message. Handlers mutate st
// and the effect lists; nothing escapes unless Transition succeeds.
type transition struct {
	env   Env
	in    Inbound
	st    State
	meter *fees.Meter

	logs       []Log
	transfers  []Transfer
	newCode    *cell.Cell
	forwardFee *big.Int
}

// Transition applies in to st. It is a pure function: the same env, state
// and message always give the same outcome. On error the returned outcome
// still reports the gas burnt and st is returned unchanged.
func Transition(env Env, st State, in Inbound) (Outcome, error) {
	if env.Self == nil || env.Balance == nil {
		return Outcome{State: st, ExitCode: ExitUnclassified}, fmt.Errorf("%w: missing self address or balance", ErrInvalidEnv)
	}
	if err := env.Schedule.Validate(); err != nil {
		return Outcome{State: st, ExitCode: ExitUnclassified}, fmt.Errorf("%w: %v", ErrInvalidEnv, err)
	}

	t := &transition{
		env:        env,
		in:         in,
		st:         st.Clone(),
		forwardFee: new(big.Int),
	}
	if t.st.Locked == nil {
		t.st.Locked = new(big.Int)
	}
	op, _ := wire.PeekOp(in.Body)

	var err error
	if in.External {
		limit := env.Schedule.GasLimit(op)
		if limit == 0 {
			limit = env.Schedule.MaxGas
		}
		t.meter = env.Schedule.NewMeter(limit)
		err = t.dispatchExternal()
	} else {
		t.meter = env.Schedule.NewMeter(env.Schedule.BuyGas(in.Value))
		err = t.dispatchInternal()
	}
	if err == nil {
		err = t.commit()
	}

	out := Outcome{
		Op:       op,
		GasUsed:  t.meter.Used(),
		Accepted: !in.External || err == nil,
	}
	if err != nil {
		err = classify(err)
		out.State = st
		out.ExitCode = ExitCodeOf(err)
		out.ComputeFee = new(big.Int)
		out.ForwardFee = new(big.Int)
		if out.Accepted {
			out.ComputeFee = env.Schedule.ComputeFee(out.GasUsed)
		}
		return out, err
	}

	out.State = t.st
	out.Logs = t.logs
	out.Transfers = t.transfers
	out.NewCode = t.newCode
	out.ComputeFee = env.Schedule.ComputeFee(out.GasUsed)
	out.ForwardFee = t.forwardFee
	out.ExitCode = ExitOK
	return out, nil
}

func (t *transition) dispatchInternal() error {
	if err := t.meter.Base(); err != nil {
		return err
	}
	// Bounces of our own transfers are accepted as plain balance.
	if t.in.Bounced {
		return nil
	}
	if err := t.loadBody(); err != nil {
		return err
	}

	req, err := wire.DecodeRequest(t.in.Body)
	if err != nil {
		return err
	}

	switch r := req.(type) {
	case wire.Donate:
		return nil
	case wire.Deposit:
		return t.deposit(r.Op(), r.QueryID, r.Recipient, nil)
	case wire.DepositAndCall:
		return t.deposit(r.Op(), r.QueryID, r.Recipient, r.CallData)
	case wire.Call:
		return t.call(r)
	case wire.SetDepositsEnabled:
		return t.setDepositsEnabled(r)
	case wire.UpdateTSS:
		return t.updateTSS(r)
	case wire.UpdateCode:
		return t.updateCode(r)
	case wire.UpdateAuthority:
		return t.updateAuthority(r)
	case wire.ResetSeqno:
		return t.resetSeqno(r)
	default:
		return fmt.Errorf("%w: %s", ErrNoIntent, req.Op())
	}
}

func (t *transition) dispatchExternal() error {
	if err := t.meter.Base(); err != nil {
		return err
	}
	if err := t.loadBody(); err != nil {
		return err
	}

	m, err := wire.DecodeExternal(t.in.Body)
	if err != nil {
		return err
	}
	p, err := wire.DecodePayload(m.Op, m.Payload)
	if err != nil {
		return err
	}

	switch v := p.(type) {
	case wire.Withdraw:
		return t.withdraw(m, v)
	case wire.IncreaseSeqno:
		return t.increaseSeqno(m, v)
	default:
		return fmt.Errorf("%w: %s", ErrNoIntent, m.Op)
	}
}

func (t *transition) loadBody() error {
	if t.in.Body == nil {
		return fmt.Errorf("%w: empty body", ErrNoIntent)
	}
	cells, _, err := wire.TreeStats(t.in.Body, wire.MaxMessageCells)
	if err != nil {
		return err
	}
	// The data cell is loaded alongside the body.
	return t.meter.LoadCells(cells + 1)
}

// commit prices storing the new data cell and checks the ledger bound
// against the balance that will remain.
func (t *transition) commit() error {
	if err := t.meter.CreateCells(1); err != nil {
		return err
	}
	if _, err := wire.EncodeState(t.st); err != nil {
		return err
	}

	remaining := new(big.Int).Set(t.env.Balance)
	remaining.Sub(remaining, t.env.Schedule.ComputeFee(t.meter.Used()))
	remaining.Sub(remaining, t.forwardFee)
	for _, tr := range t.transfers {
		remaining.Sub(remaining, tr.Amount)
	}
	if remaining.Cmp(t.st.Locked) < 0 {
		return fmt.Errorf("%w: balance %s would fall below locked %s", ErrInsufficientValue, remaining, t.st.Locked)
	}
	return nil
}

func (t *transition) emitLog(l wire.DepositLog) error {
	body, err := wire.EncodeDepositLog(l)
	if err != nil {
		return err
	}
	cells, bits, err := wire.TreeStats(body, wire.MaxMessageCells)
	if err != nil {
		return err
	}
	if err := t.meter.CreateCells(cells); err != nil {
		return err
	}
	if err := t.meter.SendMessage(); err != nil {
		return err
	}
	t.forwardFee.Add(t.forwardFee, t.env.Schedule.ForwardFee(cells, bits))
	t.logs = append(t.logs, Log{Body: body, Log: l})
	return nil
}

func (t *transition) send(tr Transfer) error {
	if err := t.meter.CreateCells(1); err != nil {
		return err
	}
	if err := t.meter.SendMessage(); err != nil {
		return err
	}
	t.forwardFee.Add(t.forwardFee, t.env.Schedule.ForwardFee(1, 0))
	t.transfers = append(t.transfers, tr)
	return nil
}

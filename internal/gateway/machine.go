package gateway

import (
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/juno-intents/ton-gateway/internal/fees"
	"github.com/juno-intents/ton-gateway/internal/host"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

const (
	codeMagic = 0x6761_7477 // "gatw"

	// CodeVersion is the revision of the transition function in this
	// package. Code cells of other revisions do not run here.
	CodeVersion = 1
)

// Code returns the code cell identifying revision version of the gateway.
// The host resolves it to a Machine by hash.
func Code(version uint16) *cell.Cell {
	b := cell.BeginCell()
	_ = b.StoreUInt(codeMagic, 32)
	_ = b.StoreUInt(uint64(version), 16)
	return b.EndCell()
}

// Machine runs Transition on behalf of the host.
type Machine struct {
	schedule fees.Schedule
}

func NewMachine(schedule fees.Schedule) (*Machine, error) {
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	return &Machine{schedule: schedule}, nil
}

func (m *Machine) Schedule() fees.Schedule { return m.schedule }

func (m *Machine) Execute(env host.Env, data *cell.Cell, msg host.Message) (host.Result, error) {
	st, err := wire.DecodeState(data)
	if err != nil {
		err = classify(err)
		return host.Result{ExitCode: int32(ExitCodeOf(err)), Accepted: !msg.External}, err
	}

	out, err := Transition(
		Env{Self: env.Self, Balance: env.Balance, Schedule: m.schedule},
		st,
		Inbound{
			External: msg.External,
			Sender:   msg.Src,
			Value:    msg.Value,
			Bounced:  msg.Bounced,
			Body:     msg.Body,
		},
	)
	res := host.Result{
		Op:         uint32(out.Op),
		GasUsed:    out.GasUsed,
		ComputeFee: out.ComputeFee,
		ForwardFee: out.ForwardFee,
		ExitCode:   int32(out.ExitCode),
		Accepted:   out.Accepted,
	}
	if err != nil {
		return res, err
	}

	res.Data, err = wire.EncodeState(out.State)
	if err != nil {
		return host.Result{ExitCode: int32(ExitUnclassified), Accepted: out.Accepted}, err
	}
	res.Code = out.NewCode
	for _, tr := range out.Transfers {
		res.Transfers = append(res.Transfers, host.Transfer{To: tr.To, Amount: tr.Amount, Bounce: tr.Bounce})
	}
	for _, l := range out.Logs {
		res.Logs = append(res.Logs, l.Body)
	}
	return res, nil
}

// GetState decodes the persistent data of a gateway account.
func (m *Machine) GetState(data *cell.Cell) (State, error) {
	st, err := wire.DecodeState(data)
	if err != nil {
		return State{}, fmt.Errorf("gateway: decode state: %w", err)
	}
	return st, nil
}

func (m *Machine) GetSeqno(data *cell.Cell) (uint32, error) {
	st, err := m.GetState(data)
	if err != nil {
		return 0, err
	}
	return st.Seqno, nil
}

// EstimateFee is the fee the gateway charges for op under its schedule.
func (m *Machine) EstimateFee(op wire.Op) (*big.Int, error) {
	return m.schedule.EstimateFee(op)
}

// Register installs the machine for its current code revision.
func (m *Machine) Register(r *host.Registry) *cell.Cell {
	code := Code(CodeVersion)
	r.Register(code, m)
	return code
}

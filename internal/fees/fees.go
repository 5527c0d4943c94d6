// Package fees prices gateway operations. EstimateFee is a pure function of
// the schedule and the op's static worst-case cost; Meter tracks the gas a
// single transition actually burns.
package fees

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/juno-intents/ton-gateway/internal/wire"
)

var (
	ErrInvalidSchedule = errors.New("fees: invalid schedule")
	ErrOutOfGas        = errors.New("fees: out of gas")
)

// ForwardPrices follow the host chain's message forwarding formula:
// lump + ceil((bitPrice*bits + cellPrice*cells) / 2^16).
type ForwardPrices struct {
	Lump      uint64
	BitPrice  uint64
	CellPrice uint64
}

// GasCosts is what the executor charges for the primitive steps of a
// transition.
type GasCosts struct {
	Base        uint64
	CellLoad    uint64
	CellCreate  uint64
	Ecrecover   uint64
	MessageSend uint64
}

type Schedule struct {
	// GasPrice is in nanoton per gas unit.
	GasPrice uint64
	// MaxGas caps the gas any single transition may buy.
	MaxGas    uint64
	GasLimits map[wire.Op]uint64
	Forward   ForwardPrices
	Costs     GasCosts
	// Quantum rounds every estimate up to a multiple of itself.
	Quantum uint64
	// WithdrawReserve is taken from the locked value on top of every
	// withdrawn amount.
	WithdrawReserve uint64
}

// DefaultSchedule prices a Deposit at exactly 0.01 TON.
func DefaultSchedule() Schedule {
	return Schedule{
		GasPrice: 400,
		MaxGas:   1_000_000,
		GasLimits: map[wire.Op]uint64{
			wire.OpDonate:             10_000,
			wire.OpDeposit:            10_000,
			wire.OpDepositAndCall:     30_000,
			wire.OpCall:               30_000,
			wire.OpWithdraw:           20_000,
			wire.OpSetDepositsEnabled: 10_000,
			wire.OpUpdateTSS:          10_000,
			wire.OpUpdateCode:         10_000,
			wire.OpUpdateAuthority:    10_000,
			wire.OpResetSeqno:         10_000,
			wire.OpIncreaseSeqno:      10_000,
		},
		Forward: ForwardPrices{
			Lump:      400_000,
			BitPrice:  26_214_400,
			CellPrice: 2_621_440_000,
		},
		Costs: GasCosts{
			Base:        600,
			CellLoad:    100,
			CellCreate:  500,
			Ecrecover:   1526,
			MessageSend: 1000,
		},
		Quantum: 10_000_000,
	}
}

func (s Schedule) Validate() error {
	if s.GasPrice == 0 {
		return fmt.Errorf("%w: gas price must be > 0", ErrInvalidSchedule)
	}
	if s.Quantum == 0 {
		return fmt.Errorf("%w: quantum must be > 0", ErrInvalidSchedule)
	}
	if s.MaxGas == 0 {
		return fmt.Errorf("%w: max gas must be > 0", ErrInvalidSchedule)
	}
	for _, op := range wire.Ops() {
		limit, ok := s.GasLimits[op]
		if !ok || limit == 0 {
			return fmt.Errorf("%w: missing gas limit for %s", ErrInvalidSchedule, op)
		}
		if limit > s.MaxGas {
			return fmt.Errorf("%w: gas limit for %s exceeds max gas", ErrInvalidSchedule, op)
		}
	}
	return nil
}

func (s Schedule) GasLimit(op wire.Op) uint64 {
	return s.GasLimits[op]
}

// ComputeFee is gas * gasPrice.
func (s Schedule) ComputeFee(gas uint64) *big.Int {
	fee := new(big.Int).SetUint64(gas)
	return fee.Mul(fee, new(big.Int).SetUint64(s.GasPrice))
}

// ForwardFee prices a message tree of the given size.
func (s Schedule) ForwardFee(cells, bits uint64) *big.Int {
	v := new(big.Int).Mul(new(big.Int).SetUint64(s.Forward.BitPrice), new(big.Int).SetUint64(bits))
	v.Add(v, new(big.Int).Mul(new(big.Int).SetUint64(s.Forward.CellPrice), new(big.Int).SetUint64(cells)))
	v = ceilDiv(v, big.NewInt(1<<16))
	return v.Add(v, new(big.Int).SetUint64(s.Forward.Lump))
}

// BuyGas returns how much gas value buys, capped at MaxGas.
func (s Schedule) BuyGas(value *big.Int) uint64 {
	if value == nil || value.Sign() <= 0 {
		return 0
	}
	g := new(big.Int).Div(value, new(big.Int).SetUint64(s.GasPrice))
	if !g.IsUint64() || g.Uint64() > s.MaxGas {
		return s.MaxGas
	}
	return g.Uint64()
}

// EstimateFee is the worst-case cost of op, rounded up to the quantum:
// its full gas limit plus forwarding the largest message it can emit.
func (s Schedule) EstimateFee(op wire.Op) (*big.Int, error) {
	if !op.Known() {
		return nil, fmt.Errorf("%w: %d", wire.ErrUnknownOp, uint32(op))
	}
	total := s.ComputeFee(s.GasLimit(op))

	switch op {
	case wire.OpDeposit, wire.OpDepositAndCall, wire.OpCall:
		logCell, err := wire.EncodeDepositLog(wire.WorstCaseDepositLog(op))
		if err != nil {
			return nil, fmt.Errorf("fees: worst-case log: %w", err)
		}
		cells, bits, err := wire.TreeStats(logCell, wire.MaxMessageCells)
		if err != nil {
			return nil, fmt.Errorf("fees: worst-case log: %w", err)
		}
		total.Add(total, s.ForwardFee(cells, bits))
	case wire.OpWithdraw:
		// Plain value transfer: one empty body cell.
		total.Add(total, s.ForwardFee(1, 0))
	}

	q := new(big.Int).SetUint64(s.Quantum)
	n := ceilDiv(total, q)
	return n.Mul(n, q), nil
}

// Reserve is what a withdrawal of amount takes from the locked value.
func (s Schedule) Reserve(amount *big.Int) *big.Int {
	return new(big.Int).Add(amount, new(big.Int).SetUint64(s.WithdrawReserve))
}

func ceilDiv(a, b *big.Int) *big.Int {
	q, r := new(big.Int).QuoRem(a, b, new(big.Int))
	if r.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

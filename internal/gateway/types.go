package gateway

import (
	"math/big"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/juno-intents/ton-gateway/internal/fees"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

// State is the gateway's persistent data.
type State = wire.State

// Inbound is one message delivered to the gateway. External messages
// carry no sender and no value.
type Inbound struct {
	External bool
	Sender   *address.Address
	Value    *big.Int
	Bounced  bool
	Body     *cell.Cell
}

// Env is what the host knows about the account when a message arrives.
type Env struct {
	Self *address.Address
	// Balance already includes the inbound value.
	Balance  *big.Int
	Schedule fees.Schedule
}

type Transfer struct {
	To     *address.Address
	Amount *big.Int
	Bounce bool
}

type Log struct {
	Body *cell.Cell
	Log  wire.DepositLog
}

// Outcome is the full effect of a transition. On failure State is the
// input state and only GasUsed and ComputeFee are meaningful.
type Outcome struct {
	Op        wire.Op
	State     State
	Logs      []Log
	Transfers []Transfer
	// NewCode is set when the transition replaces the account's code.
	NewCode *cell.Cell

	GasUsed    uint64
	ComputeFee *big.Int
	ForwardFee *big.Int
	ExitCode   ExitCode
	// Accepted is false for external messages rejected before the gateway
	// agreed to pay for them; the host drops those without a trace.
	Accepted bool
}

// Outflow is everything the outcome takes from the balance.
func (o Outcome) Outflow() *big.Int {
	total := new(big.Int)
	if o.ComputeFee != nil {
		total.Add(total, o.ComputeFee)
	}
	if o.ForwardFee != nil {
		total.Add(total, o.ForwardFee)
	}
	for _, tr := range o.Transfers {
		total.Add(total, tr.Amount)
	}
	return total
}

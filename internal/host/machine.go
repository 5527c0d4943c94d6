// Package host runs account code the way the host chain would: one
// message at a time per account, crediting value before execution,
// charging fees after, delivering outbound transfers and bouncing value
// that cannot be delivered.
package host

import (
	"encoding/hex"
	"math/big"
	"sync"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

type Message struct {
	External bool
	Src      *address.Address
	Dst      *address.Address
	Value    *big.Int
	Bounce   bool
	Bounced  bool
	Body     *cell.Cell
}

// Env describes the account as execution starts.
type Env struct {
	Self *address.Address
	// Balance includes the value of the message being executed.
	Balance *big.Int
	LT      uint64
}

type Transfer struct {
	To     *address.Address
	Amount *big.Int
	Bounce bool
}

// Result is what a Machine reports back. When Execute returns an error,
// only GasUsed, ComputeFee, ExitCode and Accepted are read.
type Result struct {
	Op         uint32
	Data       *cell.Cell
	Code       *cell.Cell
	Transfers  []Transfer
	Logs       []*cell.Cell
	GasUsed    uint64
	ComputeFee *big.Int
	ForwardFee *big.Int
	ExitCode   int32
	Accepted   bool
}

// Machine is the transition function behind a code cell.
type Machine interface {
	Execute(env Env, data *cell.Cell, msg Message) (Result, error)
}

// MachineFunc adapts a plain function to Machine.
type MachineFunc func(env Env, data *cell.Cell, msg Message) (Result, error)

func (f MachineFunc) Execute(env Env, data *cell.Cell, msg Message) (Result, error) {
	return f(env, data, msg)
}

// Registry maps code hashes to the machines that implement them. Code
// without a registered machine cannot run.
type Registry struct {
	mu       sync.RWMutex
	machines map[string]Machine
}

func NewRegistry() *Registry {
	return &Registry{machines: make(map[string]Machine)}
}

func (r *Registry) Register(code *cell.Cell, m Machine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.machines[hex.EncodeToString(code.Hash())] = m
}

func (r *Registry) Lookup(code *cell.Cell) (Machine, bool) {
	if code == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.machines[hex.EncodeToString(code.Hash())]
	return m, ok
}

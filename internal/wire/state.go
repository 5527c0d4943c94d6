package wire

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// State is the gateway's persistent data cell:
// deposits_enabled:1 total_locked:Coins seqno:32 tss:160 authority:MsgAddress.
type State struct {
	DepositsEnabled bool
	Locked          *big.Int
	Seqno           uint32
	TSS             common.Address
	Authority       *address.Address
}

func (s State) Clone() State {
	out := s
	if s.Locked != nil {
		out.Locked = new(big.Int).Set(s.Locked)
	}
	return out
}

func EncodeState(st State) (*cell.Cell, error) {
	locked := st.Locked
	if locked == nil {
		locked = new(big.Int)
	}
	if locked.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative locked value", ErrMalformed)
	}
	b := cell.BeginCell()
	if err := b.StoreBoolBit(st.DepositsEnabled); err != nil {
		return nil, err
	}
	if err := b.StoreBigCoins(locked); err != nil {
		return nil, fmt.Errorf("wire: store locked: %w", err)
	}
	if err := b.StoreUInt(uint64(st.Seqno), 32); err != nil {
		return nil, err
	}
	if err := storeIdentity(b, st.TSS); err != nil {
		return nil, err
	}
	if err := storeAddr(b, st.Authority); err != nil {
		return nil, err
	}
	return b.EndCell(), nil
}

func DecodeState(data *cell.Cell) (State, error) {
	if data == nil {
		return State{}, fmt.Errorf("%w: missing data cell", ErrMalformed)
	}
	s := data.BeginParse()
	var st State
	var err error
	if st.DepositsEnabled, err = s.LoadBoolBit(); err != nil {
		return State{}, fmt.Errorf("%w: deposits flag: %v", ErrMalformed, err)
	}
	if st.Locked, err = s.LoadBigCoins(); err != nil {
		return State{}, fmt.Errorf("%w: locked: %v", ErrMalformed, err)
	}
	seqno, err := s.LoadUInt(32)
	if err != nil {
		return State{}, fmt.Errorf("%w: seqno: %v", ErrMalformed, err)
	}
	st.Seqno = uint32(seqno)
	if st.TSS, err = loadIdentity(s); err != nil {
		return State{}, err
	}
	if st.Authority, err = loadAddr(s); err != nil {
		return State{}, err
	}
	if err := expectEnd(s); err != nil {
		return State{}, err
	}
	return st, nil
}

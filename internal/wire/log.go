package wire

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// DepositLog is the external-out body emitted for every accepted
// Deposit, DepositAndCall and Call.
type DepositLog struct {
	Op        Op
	QueryID   uint64
	Sender    *address.Address
	Amount    *big.Int
	Fee       *big.Int
	Recipient common.Address
	CallData  []byte
}

func EncodeDepositLog(l DepositLog) (*cell.Cell, error) {
	b := cell.BeginCell()
	if err := b.StoreUInt(uint64(l.Op), 32); err != nil {
		return nil, err
	}
	if err := b.StoreUInt(l.QueryID, 64); err != nil {
		return nil, err
	}
	if err := storeAddr(b, l.Sender); err != nil {
		return nil, err
	}
	for _, v := range []*big.Int{l.Amount, l.Fee} {
		if v == nil {
			v = new(big.Int)
		}
		if err := b.StoreBigCoins(v); err != nil {
			return nil, fmt.Errorf("wire: store log coins: %w", err)
		}
	}
	if err := storeIdentity(b, l.Recipient); err != nil {
		return nil, err
	}
	if len(l.CallData) == 0 {
		if err := b.StoreBoolBit(false); err != nil {
			return nil, err
		}
		return b.EndCell(), nil
	}
	snake, err := EncodeSnake(l.CallData)
	if err != nil {
		return nil, err
	}
	if err := b.StoreBoolBit(true); err != nil {
		return nil, err
	}
	if err := b.StoreRef(snake); err != nil {
		return nil, err
	}
	return b.EndCell(), nil
}

func DecodeDepositLog(c *cell.Cell) (DepositLog, error) {
	if c == nil {
		return DepositLog{}, fmt.Errorf("%w: missing log", ErrMalformed)
	}
	s := c.BeginParse()
	op, err := s.LoadUInt(32)
	if err != nil {
		return DepositLog{}, fmt.Errorf("%w: op: %v", ErrMalformed, err)
	}
	l := DepositLog{Op: Op(op)}
	if l.QueryID, err = s.LoadUInt(64); err != nil {
		return DepositLog{}, fmt.Errorf("%w: query id: %v", ErrMalformed, err)
	}
	if l.Sender, err = loadAddr(s); err != nil {
		return DepositLog{}, err
	}
	if l.Amount, err = s.LoadBigCoins(); err != nil {
		return DepositLog{}, fmt.Errorf("%w: amount: %v", ErrMalformed, err)
	}
	if l.Fee, err = s.LoadBigCoins(); err != nil {
		return DepositLog{}, fmt.Errorf("%w: fee: %v", ErrMalformed, err)
	}
	if l.Recipient, err = loadIdentity(s); err != nil {
		return DepositLog{}, err
	}
	hasCall, err := s.LoadBoolBit()
	if err != nil {
		return DepositLog{}, fmt.Errorf("%w: call data flag: %v", ErrMalformed, err)
	}
	if hasCall {
		ref, err := s.LoadRefCell()
		if err != nil {
			return DepositLog{}, fmt.Errorf("%w: call data ref: %v", ErrMalformed, err)
		}
		if l.CallData, err = DecodeSnake(ref, MaxCallDataSize); err != nil {
			return DepositLog{}, err
		}
	}
	if err := expectEnd(s); err != nil {
		return DepositLog{}, err
	}
	return l, nil
}

// WorstCaseDepositLog is the largest log the gateway can emit for op; fee
// estimation prices its forward cost.
func WorstCaseDepositLog(op Op) DepositLog {
	max := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 120), big.NewInt(1))
	l := DepositLog{
		Op:        op,
		QueryID:   ^uint64(0),
		Sender:    address.NewAddress(0, 0, make([]byte, 32)),
		Amount:    max,
		Fee:       max,
		Recipient: common.Address{},
	}
	if op == OpDepositAndCall || op == OpCall {
		l.CallData = make([]byte, MaxCallDataSize)
	}
	return l
}

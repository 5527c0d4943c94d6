package wire

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// Request is a decoded internal message body.
type Request interface {
	Op() Op
	Query() uint64
}

type Donate struct {
	QueryID uint64
}

type Deposit struct {
	QueryID   uint64
	Recipient common.Address
}

type DepositAndCall struct {
	QueryID   uint64
	Recipient common.Address
	CallData  []byte
}

type Call struct {
	QueryID   uint64
	Recipient common.Address
	CallData  []byte
}

type SetDepositsEnabled struct {
	QueryID uint64
	Enabled bool
}

type UpdateTSS struct {
	QueryID uint64
	NewTSS  common.Address
}

type UpdateCode struct {
	QueryID uint64
	Code    *cell.Cell
}

type UpdateAuthority struct {
	QueryID      uint64
	NewAuthority *address.Address
}

type ResetSeqno struct {
	QueryID  uint64
	NewSeqno uint32
}

func (Donate) Op() Op             { return OpDonate }
func (Deposit) Op() Op            { return OpDeposit }
func (DepositAndCall) Op() Op     { return OpDepositAndCall }
func (Call) Op() Op               { return OpCall }
func (SetDepositsEnabled) Op() Op { return OpSetDepositsEnabled }
func (UpdateTSS) Op() Op          { return OpUpdateTSS }
func (UpdateCode) Op() Op         { return OpUpdateCode }
func (UpdateAuthority) Op() Op    { return OpUpdateAuthority }
func (ResetSeqno) Op() Op         { return OpResetSeqno }

func (r Donate) Query() uint64             { return r.QueryID }
func (r Deposit) Query() uint64            { return r.QueryID }
func (r DepositAndCall) Query() uint64     { return r.QueryID }
func (r Call) Query() uint64               { return r.QueryID }
func (r SetDepositsEnabled) Query() uint64 { return r.QueryID }
func (r UpdateTSS) Query() uint64          { return r.QueryID }
func (r UpdateCode) Query() uint64         { return r.QueryID }
func (r UpdateAuthority) Query() uint64    { return r.QueryID }
func (r ResetSeqno) Query() uint64         { return r.QueryID }

// EncodeRequest serializes r as an internal message body.
func EncodeRequest(r Request) (*cell.Cell, error) {
	b := cell.BeginCell()
	if err := b.StoreUInt(uint64(r.Op()), 32); err != nil {
		return nil, err
	}
	if err := b.StoreUInt(r.Query(), 64); err != nil {
		return nil, err
	}

	var err error
	switch v := r.(type) {
	case Donate:
	case Deposit:
		err = storeIdentity(b, v.Recipient)
	case DepositAndCall:
		err = storeCallBody(b, v.Recipient, v.CallData)
	case Call:
		err = storeCallBody(b, v.Recipient, v.CallData)
	case SetDepositsEnabled:
		err = b.StoreBoolBit(v.Enabled)
	case UpdateTSS:
		err = storeIdentity(b, v.NewTSS)
	case UpdateCode:
		if v.Code == nil {
			return nil, fmt.Errorf("%w: update_code without code", ErrMalformed)
		}
		err = b.StoreRef(v.Code)
	case UpdateAuthority:
		err = storeAddr(b, v.NewAuthority)
	case ResetSeqno:
		err = b.StoreUInt(uint64(v.NewSeqno), 32)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownOp, r)
	}
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s: %w", r.Op(), err)
	}
	return b.EndCell(), nil
}

func storeCallBody(b *cell.Builder, recipient common.Address, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidCallData)
	}
	snake, err := EncodeSnake(data)
	if err != nil {
		return err
	}
	if err := storeIdentity(b, recipient); err != nil {
		return err
	}
	return b.StoreRef(snake)
}

// PeekOp reads the op tag without decoding the rest of the body. A body
// shorter than 32 bits has no intent.
func PeekOp(body *cell.Cell) (Op, error) {
	if body == nil {
		return 0, fmt.Errorf("%w: empty body", ErrUnknownOp)
	}
	s := body.BeginParse()
	if s.BitsLeft() < 32 {
		return 0, fmt.Errorf("%w: body shorter than op tag", ErrUnknownOp)
	}
	v, err := s.LoadUInt(32)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnknownOp, err)
	}
	return Op(v), nil
}

// DecodeRequest parses an internal message body. Unknown or missing op
// tags yield ErrUnknownOp, bad call data ErrInvalidCallData and any
// other shape problem ErrMalformed. Trailing data is rejected.
func DecodeRequest(body *cell.Cell) (Request, error) {
	op, err := PeekOp(body)
	if err != nil {
		return nil, err
	}
	if !op.Known() || op.Signed() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOp, uint32(op))
	}

	s := body.BeginParse()
	if _, err := s.LoadUInt(32); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	qid, err := s.LoadUInt(64)
	if err != nil {
		return nil, fmt.Errorf("%w: query id: %v", ErrMalformed, err)
	}

	var req Request
	switch op {
	case OpDonate:
		req = Donate{QueryID: qid}
	case OpDeposit:
		rcpt, err := loadIdentity(s)
		if err != nil {
			return nil, err
		}
		req = Deposit{QueryID: qid, Recipient: rcpt}
	case OpDepositAndCall, OpCall:
		rcpt, data, err := loadCallBody(s)
		if err != nil {
			return nil, err
		}
		if op == OpCall {
			req = Call{QueryID: qid, Recipient: rcpt, CallData: data}
		} else {
			req = DepositAndCall{QueryID: qid, Recipient: rcpt, CallData: data}
		}
	case OpSetDepositsEnabled:
		enabled, err := s.LoadBoolBit()
		if err != nil {
			return nil, fmt.Errorf("%w: enabled flag: %v", ErrMalformed, err)
		}
		req = SetDepositsEnabled{QueryID: qid, Enabled: enabled}
	case OpUpdateTSS:
		tss, err := loadIdentity(s)
		if err != nil {
			return nil, err
		}
		req = UpdateTSS{QueryID: qid, NewTSS: tss}
	case OpUpdateCode:
		code, err := s.LoadRefCell()
		if err != nil {
			return nil, fmt.Errorf("%w: code ref: %v", ErrMalformed, err)
		}
		req = UpdateCode{QueryID: qid, Code: code}
	case OpUpdateAuthority:
		a, err := loadAddr(s)
		if err != nil {
			return nil, err
		}
		req = UpdateAuthority{QueryID: qid, NewAuthority: a}
	case OpResetSeqno:
		seqno, err := s.LoadUInt(32)
		if err != nil {
			return nil, fmt.Errorf("%w: seqno: %v", ErrMalformed, err)
		}
		req = ResetSeqno{QueryID: qid, NewSeqno: uint32(seqno)}
	}

	if err := expectEnd(s); err != nil {
		return nil, err
	}
	return req, nil
}

func loadCallBody(s *cell.Slice) (common.Address, []byte, error) {
	rcpt, err := loadIdentity(s)
	if err != nil {
		return common.Address{}, nil, err
	}
	ref, err := s.LoadRefCell()
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("%w: missing call data ref", ErrInvalidCallData)
	}
	data, err := DecodeSnake(ref, MaxCallDataSize)
	if err != nil {
		return common.Address{}, nil, err
	}
	if len(data) == 0 {
		return common.Address{}, nil, fmt.Errorf("%w: empty", ErrInvalidCallData)
	}
	return rcpt, data, nil
}

func expectEnd(s *cell.Slice) error {
	if s.BitsLeft() != 0 || s.RefsNum() != 0 {
		return fmt.Errorf("%w: %d trailing bits, %d trailing refs", ErrMalformed, s.BitsLeft(), s.RefsNum())
	}
	return nil
}

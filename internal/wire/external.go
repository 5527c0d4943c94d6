package wire

import (
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"
)

// Signature is a recoverable secp256k1 signature as framed on the wire.
type Signature struct {
	V uint8
	R [32]byte
	S [32]byte
}

// Bytes returns the 65-byte r||s||v form.
func (s Signature) Bytes() []byte {
	out := make([]byte, 65)
	copy(out[0:32], s.R[:])
	copy(out[32:64], s.S[:])
	out[64] = s.V
	return out
}

// SignatureFromBytes splits a 65-byte r||s||v signature.
func SignatureFromBytes(b []byte) (Signature, error) {
	if len(b) != 65 {
		return Signature{}, fmt.Errorf("%w: signature must be 65 bytes, got %d", ErrMalformed, len(b))
	}
	var sig Signature
	copy(sig.R[:], b[0:32])
	copy(sig.S[:], b[32:64])
	sig.V = b[64]
	return sig, nil
}

// Payload is the signed part of an external message.
type Payload interface {
	Op() Op
	Seq() uint32
}

type Withdraw struct {
	Recipient *address.Address
	Amount    *big.Int
	Seqno     uint32
}

type IncreaseSeqno struct {
	ReasonCode uint32
	Seqno      uint32
}

func (Withdraw) Op() Op      { return OpWithdraw }
func (IncreaseSeqno) Op() Op { return OpIncreaseSeqno }

func (p Withdraw) Seq() uint32      { return p.Seqno }
func (p IncreaseSeqno) Seq() uint32 { return p.Seqno }

// External is a framed, TSS-signed external message.
type External struct {
	Op          Op
	Signature   Signature
	PayloadHash [32]byte
	Payload     *cell.Cell
}

func EncodePayload(p Payload) (*cell.Cell, error) {
	b := cell.BeginCell()
	switch v := p.(type) {
	case Withdraw:
		if v.Amount == nil || v.Amount.Sign() < 0 {
			return nil, fmt.Errorf("%w: withdraw amount must be non-negative", ErrMalformed)
		}
		if err := storeAddr(b, v.Recipient); err != nil {
			return nil, err
		}
		if err := b.StoreBigCoins(v.Amount); err != nil {
			return nil, fmt.Errorf("wire: store amount: %w", err)
		}
		if err := b.StoreUInt(uint64(v.Seqno), 32); err != nil {
			return nil, err
		}
	case IncreaseSeqno:
		if err := b.StoreUInt(uint64(v.ReasonCode), 32); err != nil {
			return nil, err
		}
		if err := b.StoreUInt(uint64(v.Seqno), 32); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownOp, p)
	}
	return b.EndCell(), nil
}

// DecodePayload parses payload as the signed body of op. The payload must
// be consumed exactly.
func DecodePayload(op Op, payload *cell.Cell) (Payload, error) {
	if payload == nil {
		return nil, fmt.Errorf("%w: missing payload", ErrMalformed)
	}
	s := payload.BeginParse()
	var p Payload
	switch op {
	case OpWithdraw:
		rcpt, err := loadAddr(s)
		if err != nil {
			return nil, err
		}
		amount, err := s.LoadBigCoins()
		if err != nil {
			return nil, fmt.Errorf("%w: amount: %v", ErrMalformed, err)
		}
		seqno, err := s.LoadUInt(32)
		if err != nil {
			return nil, fmt.Errorf("%w: seqno: %v", ErrMalformed, err)
		}
		p = Withdraw{Recipient: rcpt, Amount: amount, Seqno: uint32(seqno)}
	case OpIncreaseSeqno:
		reason, err := s.LoadUInt(32)
		if err != nil {
			return nil, fmt.Errorf("%w: reason code: %v", ErrMalformed, err)
		}
		seqno, err := s.LoadUInt(32)
		if err != nil {
			return nil, fmt.Errorf("%w: seqno: %v", ErrMalformed, err)
		}
		p = IncreaseSeqno{ReasonCode: uint32(reason), Seqno: uint32(seqno)}
	default:
		return nil, fmt.Errorf("%w: %s is not a signed op", ErrUnknownOp, op)
	}
	if err := expectEnd(s); err != nil {
		return nil, err
	}
	return p, nil
}

// EncodeExternal frames m as op:32 v:8 r:256 s:256 payload_hash:256 ^payload.
func EncodeExternal(m External) (*cell.Cell, error) {
	if m.Payload == nil {
		return nil, fmt.Errorf("%w: missing payload", ErrMalformed)
	}
	b := cell.BeginCell()
	if err := b.StoreUInt(uint64(m.Op), 32); err != nil {
		return nil, err
	}
	if err := b.StoreUInt(uint64(m.Signature.V), 8); err != nil {
		return nil, err
	}
	for _, part := range [][]byte{m.Signature.R[:], m.Signature.S[:], m.PayloadHash[:]} {
		if err := b.StoreSlice(part, 256); err != nil {
			return nil, fmt.Errorf("wire: store external frame: %w", err)
		}
	}
	if err := b.StoreRef(m.Payload); err != nil {
		return nil, err
	}
	return b.EndCell(), nil
}

// DecodeExternal parses the framing of a signed external message. The
// payload itself is left as a cell; see DecodePayload.
func DecodeExternal(body *cell.Cell) (External, error) {
	op, err := PeekOp(body)
	if err != nil {
		return External{}, err
	}
	if !op.Signed() {
		return External{}, fmt.Errorf("%w: %d", ErrUnknownOp, uint32(op))
	}

	s := body.BeginParse()
	if _, err := s.LoadUInt(32); err != nil {
		return External{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	m := External{Op: op}
	v, err := s.LoadUInt(8)
	if err != nil {
		return External{}, fmt.Errorf("%w: v: %v", ErrMalformed, err)
	}
	m.Signature.V = uint8(v)
	for _, dst := range [][]byte{m.Signature.R[:], m.Signature.S[:], m.PayloadHash[:]} {
		raw, err := s.LoadSlice(256)
		if err != nil {
			return External{}, fmt.Errorf("%w: frame: %v", ErrMalformed, err)
		}
		copy(dst, raw)
	}
	m.Payload, err = s.LoadRefCell()
	if err != nil {
		return External{}, fmt.Errorf("%w: payload ref: %v", ErrMalformed, err)
	}
	if err := expectEnd(s); err != nil {
		return External{}, err
	}
	return m, nil
}

package chainstore

import (
	"math/big"
	"time"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindInternal
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindExternal:
		return "external"
	default:
		return "unknown"
	}
}

// Account is the persisted form of an on-chain account. Code and Data are
// serialized cells; an account without code is a plain wallet.
type Account struct {
	Address string
	Balance *big.Int
	Code    []byte
	Data    []byte
	LastLT  uint64
}

func (a Account) Clone() Account {
	out := a
	if a.Balance != nil {
		out.Balance = new(big.Int).Set(a.Balance)
	}
	out.Code = cloneBytes(a.Code)
	out.Data = cloneBytes(a.Data)
	return out
}

// Transfer is an outbound internal message. Body is a serialized cell.
type Transfer struct {
	To      string
	Amount  *big.Int
	Bounce  bool
	Bounced bool
	Body    []byte
}

func (tr Transfer) Clone() Transfer {
	out := tr
	if tr.Amount != nil {
		out.Amount = new(big.Int).Set(tr.Amount)
	}
	out.Body = cloneBytes(tr.Body)
	return out
}

// MessageID names an outbound message by the transaction that emitted it
// and its position among that transaction's transfers.
type MessageID struct {
	Account string
	LT      uint64
	Index   uint32
}

// Pending is an outbound message its sender has committed and its
// recipient has not applied yet.
type Pending struct {
	ID MessageID
	// Seq orders pending messages by emission. Stores assign it.
	Seq uint64
	// From is ID.Account until the message is replaced by its bounce.
	From string
	Transfer
}

func (p Pending) Clone() Pending {
	p.Transfer = p.Transfer.Clone()
	return p
}

// PendingOf lists the messages tx emits, in transfer order.
func PendingOf(tx Transaction) []Pending {
	out := make([]Pending, 0, len(tx.Transfers))
	for i, tr := range tx.Transfers {
		out = append(out, Pending{
			ID:       MessageID{Account: tx.Account, LT: tx.LT, Index: uint32(i)},
			From:     tx.Account,
			Transfer: tr.Clone(),
		})
	}
	return out
}

// Transaction is the receipt of one inbound message on one account.
type Transaction struct {
	Account string
	LT      uint64
	Hash    [32]byte

	Kind    Kind
	Src     string
	Value   *big.Int
	Bounced bool
	InBody  []byte

	Op         uint32
	ExitCode   int32
	GasUsed    uint64
	ComputeFee *big.Int
	ForwardFee *big.Int

	Logs      [][]byte
	Transfers []Transfer
	// Consumes is the pending message this transaction applied. Nil for
	// messages that came from outside the store.
	Consumes *MessageID

	CreatedAt time.Time
}

func (t Transaction) Clone() Transaction {
	out := t
	for _, p := range []**big.Int{&out.Value, &out.ComputeFee, &out.ForwardFee} {
		if *p != nil {
			*p = new(big.Int).Set(*p)
		}
	}
	out.InBody = cloneBytes(t.InBody)
	if t.Logs != nil {
		out.Logs = make([][]byte, len(t.Logs))
		for i, l := range t.Logs {
			out.Logs[i] = cloneBytes(l)
		}
	}
	if t.Transfers != nil {
		out.Transfers = make([]Transfer, len(t.Transfers))
		for i, tr := range t.Transfers {
			out.Transfers[i] = tr.Clone()
		}
	}
	if t.Consumes != nil {
		id := *t.Consumes
		out.Consumes = &id
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

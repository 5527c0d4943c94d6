// Package depositevent is the JSON form of deposit logs published on the
// gateway.deposits.v1 topic.
package depositevent

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/juno-intents/ton-gateway/internal/chainstore"
	"github.com/juno-intents/ton-gateway/internal/idempotency"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

const Version = "gateway.deposit.v1"

var ErrInvalidPayload = errors.New("depositevent: invalid payload")

// Payload amounts are decimal nanoton strings; recipient and call data are
// 0x-prefixed hex.
type Payload struct {
	Version   string `json:"version"`
	ID        string `json:"id"`
	Account   string `json:"account"`
	LT        uint64 `json:"lt"`
	Index     uint32 `json:"index"`
	Op        string `json:"op"`
	QueryID   uint64 `json:"queryId"`
	Sender    string `json:"sender"`
	Amount    string `json:"amount"`
	Fee       string `json:"fee"`
	Recipient string `json:"recipient"`
	CallData  string `json:"callData,omitempty"`
}

func BuildPayload(account string, lt uint64, index uint32, l wire.DepositLog) (Payload, error) {
	if strings.TrimSpace(account) == "" {
		return Payload{}, fmt.Errorf("%w: account is required", ErrInvalidPayload)
	}
	if l.Sender == nil || l.Amount == nil || l.Fee == nil {
		return Payload{}, fmt.Errorf("%w: incomplete log", ErrInvalidPayload)
	}
	id := idempotency.DepositLogIDV1(account, lt, index)

	p := Payload{
		Version:   Version,
		ID:        id.Hex(),
		Account:   account,
		LT:        lt,
		Index:     index,
		Op:        l.Op.String(),
		QueryID:   l.QueryID,
		Sender:    wire.RawAddress(l.Sender),
		Amount:    l.Amount.String(),
		Fee:       l.Fee.String(),
		Recipient: l.Recipient.Hex(),
	}
	if len(l.CallData) > 0 {
		p.CallData = "0x" + hex.EncodeToString(l.CallData)
	}
	return p, nil
}

// FromTransaction builds one payload per deposit log in tx, in emission
// order.
func FromTransaction(tx chainstore.Transaction) ([]Payload, error) {
	out := make([]Payload, 0, len(tx.Logs))
	for i, raw := range tx.Logs {
		c, err := wire.ParseBOC(raw)
		if err != nil {
			return nil, fmt.Errorf("depositevent: log %d of %s/%d: %w", i, tx.Account, tx.LT, err)
		}
		l, err := wire.DecodeDepositLog(c)
		if err != nil {
			return nil, fmt.Errorf("depositevent: log %d of %s/%d: %w", i, tx.Account, tx.LT, err)
		}
		p, err := BuildPayload(tx.Account, tx.LT, uint32(i), l)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Parse decodes a payload and checks it is well formed, including that
// its id matches its position.
func Parse(b []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()

	var p Payload
	if err := dec.Decode(&p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if p.Version != Version {
		return Payload{}, fmt.Errorf("%w: unsupported version %q", ErrInvalidPayload, p.Version)
	}
	if _, err := wire.ParseOp(p.Op); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if _, err := wire.ParseAddress(p.Sender); err != nil {
		return Payload{}, fmt.Errorf("%w: sender: %v", ErrInvalidPayload, err)
	}
	if !common.IsHexAddress(p.Recipient) {
		return Payload{}, fmt.Errorf("%w: recipient %q", ErrInvalidPayload, p.Recipient)
	}
	for name, v := range map[string]string{"amount": p.Amount, "fee": p.Fee} {
		n, ok := new(big.Int).SetString(v, 10)
		if !ok || n.Sign() < 0 {
			return Payload{}, fmt.Errorf("%w: %s %q", ErrInvalidPayload, name, v)
		}
	}
	if p.CallData != "" {
		if _, err := hex.DecodeString(strings.TrimPrefix(p.CallData, "0x")); err != nil {
			return Payload{}, fmt.Errorf("%w: call data: %v", ErrInvalidPayload, err)
		}
	}
	if want := idempotency.DepositLogIDV1(p.Account, p.LT, p.Index).Hex(); p.ID != want {
		return Payload{}, fmt.Errorf("%w: id %s does not match %s/%d/%d", ErrInvalidPayload, p.ID, p.Account, p.LT, p.Index)
	}
	return p, nil
}

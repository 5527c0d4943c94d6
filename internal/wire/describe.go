package wire

import (
	"encoding/hex"
	"strconv"

	"github.com/xssnick/tonutils-go/tvm/cell"
)

// Description is a flat, explorer friendly view of an inbound body.
type Description struct {
	Op      string            `json:"op"`
	QueryID uint64            `json:"queryId,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// DescribeInbound decodes body as either a signed external message or an
// internal request and flattens its fields to strings.
func DescribeInbound(body *cell.Cell) (Description, error) {
	op, err := PeekOp(body)
	if err != nil {
		return Description{}, err
	}
	if op.Signed() {
		return describeExternal(body)
	}
	req, err := DecodeRequest(body)
	if err != nil {
		return Description{Op: op.String()}, err
	}
	d := Description{Op: op.String(), QueryID: req.Query(), Fields: map[string]string{}}
	switch v := req.(type) {
	case Deposit:
		d.Fields["recipient"] = v.Recipient.Hex()
	case DepositAndCall:
		d.Fields["recipient"] = v.Recipient.Hex()
		d.Fields["callData"] = "0x" + hex.EncodeToString(v.CallData)
	case Call:
		d.Fields["recipient"] = v.Recipient.Hex()
		d.Fields["callData"] = "0x" + hex.EncodeToString(v.CallData)
	case SetDepositsEnabled:
		d.Fields["enabled"] = strconv.FormatBool(v.Enabled)
	case UpdateTSS:
		d.Fields["newTss"] = v.NewTSS.Hex()
	case UpdateCode:
		d.Fields["codeHash"] = hex.EncodeToString(v.Code.Hash())
	case UpdateAuthority:
		d.Fields["newAuthority"] = v.NewAuthority.String()
	case ResetSeqno:
		d.Fields["newSeqno"] = strconv.FormatUint(uint64(v.NewSeqno), 10)
	}
	return d, nil
}

func describeExternal(body *cell.Cell) (Description, error) {
	m, err := DecodeExternal(body)
	if err != nil {
		return Description{}, err
	}
	d := Description{Op: m.Op.String(), Fields: map[string]string{
		"payloadHash": hex.EncodeToString(m.PayloadHash[:]),
	}}
	p, err := DecodePayload(m.Op, m.Payload)
	if err != nil {
		return d, err
	}
	d.Fields["seqno"] = strconv.FormatUint(uint64(p.Seq()), 10)
	switch v := p.(type) {
	case Withdraw:
		d.Fields["recipient"] = v.Recipient.String()
		d.Fields["amount"] = v.Amount.String()
	case IncreaseSeqno:
		d.Fields["reasonCode"] = strconv.FormatUint(uint64(v.ReasonCode), 10)
	}
	return d, nil
}

package msgevent

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/juno-intents/ton-gateway/internal/host"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

func testAddr(b byte) *address.Address {
	data := make([]byte, 32)
	for i := range data {
		data[i] = b
	}
	return address.NewAddress(0, 0, data)
}

func TestEnvelope_InternalRoundTrip(t *testing.T) {
	t.Parallel()

	body, err := wire.EncodeRequest(wire.Deposit{QueryID: 3, Recipient: common.HexToAddress("0x90f8bf6a479f320ead074411a4b0e7944ea8c9c1")})
	if err != nil {
		t.Fatalf("EncodeRequest: %v", err)
	}
	in := host.Message{Src: testAddr(0x42), Dst: testAddr(1), Value: big.NewInt(1_000_000_000), Bounce: true, Body: body}

	raw, err := json.Marshal(FromMessage(in))
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if env.Kind != KindInternal || env.Value != "1000000000" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	out, err := env.Message(testAddr(1))
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if out.External || !out.Bounce || out.Value.Cmp(in.Value) != 0 || !wire.SameAddress(out.Src, in.Src) {
		t.Fatalf("message mismatch: %+v", out)
	}
	if !bytes.Equal(out.Body.Hash(), body.Hash()) {
		t.Fatalf("body mismatch")
	}
}

func TestEnvelope_External(t *testing.T) {
	t.Parallel()

	body, err := wire.EncodeExternal(wire.External{
		Op:      wire.OpIncreaseSeqno,
		Payload: mustPayload(t),
	})
	if err != nil {
		t.Fatalf("EncodeExternal: %v", err)
	}
	env := FromMessage(host.Message{External: true, Dst: testAddr(1), Body: body})
	if env.Kind != KindExternal || env.Src != "" || env.Value != "" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
	m, err := env.Message(testAddr(1))
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if !m.External || m.Value.Sign() != 0 {
		t.Fatalf("unexpected message: %+v", m)
	}
}

func mustPayload(t *testing.T) *cell.Cell {
	t.Helper()
	c, err := wire.EncodePayload(wire.IncreaseSeqno{Seqno: 1})
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	return c
}

func TestEnvelope_Rejects(t *testing.T) {
	t.Parallel()

	body := wire.Base64BOC(mustPayload(t))
	parseCases := map[string]string{
		"version": `{"version":"gateway.message.v0","kind":"internal","body":"` + body + `"}`,
		"unknown": `{"version":"gateway.message.v1","kind":"internal","to":"x","body":"` + body + `"}`,
		"json":    `{`,
	}
	for name, raw := range parseCases {
		if _, err := Parse([]byte(raw)); !errors.Is(err, ErrInvalidEnvelope) {
			t.Fatalf("%s: expected ErrInvalidEnvelope, got %v", name, err)
		}
	}

	src := wire.RawAddress(testAddr(0x42))
	messageCases := map[string]Envelope{
		"kind":           {Version: Version, Kind: "bounce", Body: body},
		"body":           {Version: Version, Kind: KindInternal, Src: src, Value: "1", Body: "!!"},
		"src":            {Version: Version, Kind: KindInternal, Src: "0:zz", Value: "1", Body: body},
		"value":          {Version: Version, Kind: KindInternal, Src: src, Value: "-5", Body: body},
		"external value": {Version: Version, Kind: KindExternal, Value: "5", Body: body},
		"external src":   {Version: Version, Kind: KindExternal, Src: src, Body: body},
	}
	for name, env := range messageCases {
		if _, err := env.Message(testAddr(1)); !errors.Is(err, ErrInvalidEnvelope) {
			t.Fatalf("%s: expected ErrInvalidEnvelope, got %v", name, err)
		}
	}
}

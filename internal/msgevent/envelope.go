// Package msgevent is the JSON envelope for messages delivered to the
// gateway over the gateway.messages.v1 topic.
package msgevent

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/xssnick/tonutils-go/address"

	"github.com/juno-intents/ton-gateway/internal/host"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

const (
	Version = "gateway.message.v1"

	KindInternal = "internal"
	KindExternal = "external"
)

var ErrInvalidEnvelope = errors.New("msgevent: invalid envelope")

// Envelope carries one inbound message. Value is decimal nanoton and Body
// a base64 BOC. External messages have no src and no value.
type Envelope struct {
	Version string `json:"version"`
	Kind    string `json:"kind"`
	Src     string `json:"src,omitempty"`
	Value   string `json:"value,omitempty"`
	Bounce  bool   `json:"bounce,omitempty"`
	Bounced bool   `json:"bounced,omitempty"`
	Body    string `json:"body"`
}

func Parse(b []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()

	var e Envelope
	if err := dec.Decode(&e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if e.Version != Version {
		return Envelope{}, fmt.Errorf("%w: unsupported version %q", ErrInvalidEnvelope, e.Version)
	}
	return e, nil
}

// Message converts the envelope into a host message for dst.
func (e Envelope) Message(dst *address.Address) (host.Message, error) {
	body, err := wire.ParseBase64BOC(e.Body)
	if err != nil {
		return host.Message{}, fmt.Errorf("%w: body: %v", ErrInvalidEnvelope, err)
	}

	switch e.Kind {
	case KindExternal:
		if e.Src != "" || (e.Value != "" && e.Value != "0") || e.Bounced {
			return host.Message{}, fmt.Errorf("%w: external messages carry no src, value or bounce flag", ErrInvalidEnvelope)
		}
		return host.Message{External: true, Dst: dst, Value: new(big.Int), Body: body}, nil
	case KindInternal:
		src, err := wire.ParseAddress(e.Src)
		if err != nil {
			return host.Message{}, fmt.Errorf("%w: src: %v", ErrInvalidEnvelope, err)
		}
		value, ok := new(big.Int).SetString(e.Value, 10)
		if !ok || value.Sign() < 0 {
			return host.Message{}, fmt.Errorf("%w: value %q", ErrInvalidEnvelope, e.Value)
		}
		return host.Message{
			Src:     src,
			Dst:     dst,
			Value:   value,
			Bounce:  e.Bounce,
			Bounced: e.Bounced,
			Body:    body,
		}, nil
	default:
		return host.Message{}, fmt.Errorf("%w: kind %q", ErrInvalidEnvelope, e.Kind)
	}
}

// FromMessage is the inverse of Message; the destination is implied by
// the topic.
func FromMessage(m host.Message) Envelope {
	e := Envelope{Version: Version, Body: wire.Base64BOC(m.Body)}
	if m.External {
		e.Kind = KindExternal
		return e
	}
	e.Kind = KindInternal
	e.Src = wire.RawAddress(m.Src)
	e.Value = "0"
	if m.Value != nil {
		e.Value = m.Value.String()
	}
	e.Bounce = m.Bounce
	e.Bounced = m.Bounced
	return e
}

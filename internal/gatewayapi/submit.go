package gatewayapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xssnick/tonutils-go/address"
	"github.com/xssnick/tonutils-go/tvm/cell"

	"github.com/juno-intents/ton-gateway/internal/chainstore"
	"github.com/juno-intents/ton-gateway/internal/host"
	"github.com/juno-intents/ton-gateway/internal/msgevent"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

// SubmitResult is what a submitter knows about an external message once it
// returns: either the receipts it caused, or only that it was queued.
type SubmitResult struct {
	Queued       bool
	Transactions []chainstore.Transaction
}

type Submitter interface {
	SubmitExternal(ctx context.Context, body *cell.Cell) (SubmitResult, error)
}

type Sender interface {
	Send(ctx context.Context, msg host.Message) ([]chainstore.Transaction, error)
}

// ExecutorSubmitter applies external messages synchronously.
type ExecutorSubmitter struct {
	sender  Sender
	gateway *address.Address
}

func NewExecutorSubmitter(sender Sender, gateway *address.Address) (*ExecutorSubmitter, error) {
	if sender == nil {
		return nil, fmt.Errorf("%w: nil sender", ErrInvalidConfig)
	}
	if gateway == nil {
		return nil, fmt.Errorf("%w: missing gateway address", ErrInvalidConfig)
	}
	return &ExecutorSubmitter{sender: sender, gateway: gateway}, nil
}

func (s *ExecutorSubmitter) SubmitExternal(ctx context.Context, body *cell.Cell) (SubmitResult, error) {
	txs, err := s.sender.Send(ctx, host.Message{External: true, Dst: s.gateway, Body: body})
	return SubmitResult{Transactions: txs}, err
}

type queuePublisher interface {
	Publish(ctx context.Context, topic string, key, payload []byte) error
}

// QueueSubmitter hands external messages to the inbound topic for the
// gateway daemon to apply.
type QueueSubmitter struct {
	producer queuePublisher
	topic    string
	key      []byte
}

func NewQueueSubmitter(producer queuePublisher, topic string, gateway *address.Address) (*QueueSubmitter, error) {
	if producer == nil {
		return nil, fmt.Errorf("%w: nil producer", ErrInvalidConfig)
	}
	if strings.TrimSpace(topic) == "" {
		return nil, fmt.Errorf("%w: missing topic", ErrInvalidConfig)
	}
	if gateway == nil {
		return nil, fmt.Errorf("%w: missing gateway address", ErrInvalidConfig)
	}
	return &QueueSubmitter{producer: producer, topic: topic, key: []byte(wire.RawAddress(gateway))}, nil
}

func (s *QueueSubmitter) SubmitExternal(ctx context.Context, body *cell.Cell) (SubmitResult, error) {
	if body == nil {
		return SubmitResult{}, errors.New("gatewayapi: nil body")
	}
	encoded, err := json.Marshal(msgevent.FromMessage(host.Message{External: true, Body: body}))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("marshal message envelope: %w", err)
	}
	if err := s.producer.Publish(ctx, s.topic, s.key, encoded); err != nil {
		return SubmitResult{}, fmt.Errorf("publish message envelope: %w", err)
	}
	return SubmitResult{Queued: true}, nil
}

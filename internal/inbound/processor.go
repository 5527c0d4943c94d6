// Package inbound applies queued message envelopes to the gateway account.
package inbound

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xssnick/tonutils-go/address"

	"github.com/juno-intents/ton-gateway/internal/chainstore"
	"github.com/juno-intents/ton-gateway/internal/host"
	"github.com/juno-intents/ton-gateway/internal/msgevent"
	"github.com/juno-intents/ton-gateway/internal/queue"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

var ErrInvalidConfig = errors.New("inbound: invalid config")

type Sender interface {
	Send(ctx context.Context, msg host.Message) ([]chainstore.Transaction, error)
}

type Config struct {
	Gateway      *address.Address
	ApplyTimeout time.Duration
	AckTimeout   time.Duration
}

// Stats counts what happened to consumed records.
type Stats struct {
	Applied  uint64
	Rejected uint64
	Dropped  uint64
}

type Processor struct {
	cfg    Config
	sender Sender
	log    *slog.Logger

	stats Stats
}

func New(cfg Config, sender Sender, log *slog.Logger) (*Processor, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("%w: missing gateway address", ErrInvalidConfig)
	}
	if sender == nil {
		return nil, fmt.Errorf("%w: nil sender", ErrInvalidConfig)
	}
	if cfg.ApplyTimeout <= 0 {
		cfg.ApplyTimeout = 30 * time.Second
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Processor{cfg: cfg, sender: sender, log: log}, nil
}

// Run consumes until ctx ends or the consumer's stream closes. A store
// failure stops the loop without acking, so the record is redelivered
// after a restart.
func (p *Processor) Run(ctx context.Context, c queue.Consumer) error {
	msgCh := c.Messages()
	errCh := c.Errors()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				p.log.Error("queue consume error", "err", err)
			}
		case msg, ok := <-msgCh:
			if !ok {
				return nil
			}
			if err := p.Handle(ctx, msg); err != nil {
				return err
			}
			p.ack(msg)
		}
	}
}

// Handle applies one record. Malformed records and messages the gateway
// refuses are logged and dropped; only infrastructure errors are returned.
func (p *Processor) Handle(ctx context.Context, msg queue.Message) error {
	line := bytes.TrimSpace(msg.Value)
	if len(line) == 0 {
		return nil
	}
	env, err := msgevent.Parse(line)
	if err != nil {
		p.stats.Dropped++
		p.log.Error("parse message envelope", "topic", msg.Topic, "err", err)
		return nil
	}
	m, err := env.Message(p.cfg.Gateway)
	if err != nil {
		p.stats.Dropped++
		p.log.Error("decode message envelope", "topic", msg.Topic, "err", err)
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, p.cfg.ApplyTimeout)
	defer cancel()
	txs, err := p.sender.Send(cctx, m)
	switch {
	case errors.Is(err, host.ErrRejected), errors.Is(err, host.ErrNoAccount), errors.Is(err, host.ErrInvalidMsg):
		p.stats.Rejected++
		p.log.Info("message not applied", "kind", env.Kind, "err", err)
		return nil
	case errors.Is(err, host.ErrCascadeLimit):
		// The receipts that were produced are committed.
		p.stats.Applied++
		p.log.Warn("message cascade truncated", "receipts", len(txs), "err", err)
		return nil
	case err != nil:
		return fmt.Errorf("inbound: apply %s message: %w", env.Kind, err)
	}
	p.stats.Applied++
	for _, tx := range txs {
		p.log.Debug("applied", "account", tx.Account, "lt", tx.LT, "op", wire.Op(tx.Op).String(), "exit_code", tx.ExitCode)
	}
	return nil
}

// Stats is only safe to read once Run has returned.
func (p *Processor) Stats() Stats { return p.stats }

func (p *Processor) ack(msg queue.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.AckTimeout)
	defer cancel()
	if err := msg.Ack(ctx); err != nil {
		p.log.Error("ack queue message", "topic", msg.Topic, "err", err)
	}
}

// Package depositlog publishes the deposit logs of committed gateway
// transactions to the queue. Progress is a cursor in the chain store, so
// a restart resumes after the last fully published transaction and
// consumers see at-least-once delivery keyed by log id.
package depositlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/juno-intents/ton-gateway/internal/chainstore"
	"github.com/juno-intents/ton-gateway/internal/depositevent"
	"github.com/juno-intents/ton-gateway/internal/queue"
)

var ErrInvalidConfig = errors.New("depositlog: invalid config")

type Config struct {
	// Account is the raw address of the gateway whose logs are published.
	Account string
	Topic   string
	// CursorName defaults to "deposits:<account>".
	CursorName string

	BatchSize    int
	PollInterval time.Duration

	RetryBase  time.Duration
	RetryMax   time.Duration
	MaxRetries uint64
}

// Metrics is optional.
type Metrics interface {
	ObservePublished(n int)
	ObservePublishError()
}

type Publisher struct {
	cfg      Config
	store    chainstore.Store
	producer queue.Producer
	metrics  Metrics
	log      *slog.Logger

	wake chan struct{}
}

func New(cfg Config, store chainstore.Store, producer queue.Producer, metrics Metrics, log *slog.Logger) (*Publisher, error) {
	if strings.TrimSpace(cfg.Account) == "" {
		return nil, fmt.Errorf("%w: Account is required", ErrInvalidConfig)
	}
	if store == nil || producer == nil {
		return nil, fmt.Errorf("%w: nil store/producer", ErrInvalidConfig)
	}
	if cfg.Topic == "" {
		cfg.Topic = queue.TopicDeposits
	}
	if cfg.CursorName == "" {
		cfg.CursorName = "deposits:" + cfg.Account
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 100 * time.Millisecond
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 10 * time.Second
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		cfg:      cfg,
		store:    store,
		producer: producer,
		metrics:  metrics,
		log:      log,
		wake:     make(chan struct{}, 1),
	}, nil
}

// Notify asks a running publisher to drain now instead of at the next
// poll. It never blocks.
func (p *Publisher) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// OnCommit is a host commit hook.
func (p *Publisher) OnCommit(_ context.Context, tx chainstore.Transaction) {
	if tx.Account == p.cfg.Account && len(tx.Logs) > 0 {
		p.Notify()
	}
}

// Run drains until ctx is done. Drain errors are logged and retried on the
// next wake-up.
func (p *Publisher) Run(ctx context.Context) error {
	t := time.NewTicker(p.cfg.PollInterval)
	defer t.Stop()

	for {
		if _, err := p.Drain(ctx); err != nil && ctx.Err() == nil {
			p.log.Error("publish deposit logs", "account", p.cfg.Account, "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		case <-p.wake:
		}
	}
}

// Drain publishes every log committed after the cursor and returns how
// many payloads went out.
func (p *Publisher) Drain(ctx context.Context) (int, error) {
	cursor, err := p.store.GetCursor(ctx, p.cfg.CursorName)
	if err != nil {
		return 0, fmt.Errorf("depositlog: read cursor: %w", err)
	}

	published := 0
	for {
		txs, err := p.store.ListTransactionsAfter(ctx, p.cfg.Account, cursor, p.cfg.BatchSize)
		if err != nil {
			return published, fmt.Errorf("depositlog: list transactions: %w", err)
		}
		for _, tx := range txs {
			n, err := p.publishTx(ctx, tx)
			published += n
			if err != nil {
				return published, err
			}
			if err := p.store.SetCursor(ctx, p.cfg.CursorName, tx.LT); err != nil {
				return published, fmt.Errorf("depositlog: advance cursor to %d: %w", tx.LT, err)
			}
			cursor = tx.LT
		}
		if len(txs) < p.cfg.BatchSize {
			return published, nil
		}
	}
}

func (p *Publisher) publishTx(ctx context.Context, tx chainstore.Transaction) (int, error) {
	if len(tx.Logs) == 0 {
		return 0, nil
	}
	payloads, err := depositevent.FromTransaction(tx)
	if err != nil {
		return 0, err
	}

	for i, payload := range payloads {
		b, err := json.Marshal(payload)
		if err != nil {
			return i, fmt.Errorf("depositlog: marshal payload: %w", err)
		}
		if err := p.publish(ctx, []byte(payload.Account), b); err != nil {
			if p.metrics != nil {
				p.metrics.ObservePublishError()
			}
			return i, fmt.Errorf("depositlog: publish %s: %w", payload.ID, err)
		}
		p.log.Info("deposit log published", "id", payload.ID, "lt", payload.LT, "op", payload.Op, "amount", payload.Amount)
	}
	if p.metrics != nil {
		p.metrics.ObservePublished(len(payloads))
	}
	return len(payloads), nil
}

func (p *Publisher) publish(ctx context.Context, key, payload []byte) error {
	b := retry.NewExponential(p.cfg.RetryBase)
	b = retry.WithCappedDuration(p.cfg.RetryMax, b)
	b = retry.WithMaxRetries(p.cfg.MaxRetries, b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := p.producer.Publish(ctx, p.cfg.Topic, key, payload); err != nil {
			p.log.Warn("publish attempt failed", "topic", p.cfg.Topic, "err", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

// Package queue moves gateway envelopes between processes over Kafka, or
// over newline-delimited stdio for local pipelines and tests.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

const (
	DriverKafka = "kafka"
	DriverStdio = "stdio"
)

// Gateway topics.
const (
	TopicMessages = "gateway.messages.v1"
	TopicDeposits = "gateway.deposits.v1"
)

const (
	// EnvTLS enables TLS for Kafka when the binary has no explicit flag.
	EnvTLS = "TON_GATEWAY_QUEUE_KAFKA_TLS"

	defaultMaxLineBytes    = 1 << 20
	defaultKafkaMinBytes   = 1
	defaultKafkaMaxBytes   = 10 << 20
	defaultMaxMessageBytes = 1 << 20
)

var (
	ErrInvalidConfig  = errors.New("queue: invalid config")
	ErrInvalidPayload = errors.New("queue: invalid payload")
)

// Message is a queue record delivered to a consumer.
type Message struct {
	Topic string
	Key   []byte
	Value []byte
	// Timestamp is the producer timestamp (Kafka) or local receive time (stdio).
	Timestamp time.Time

	ackFn func(context.Context) error
}

// Ack commits the record. Stdio records need no commit.
func (m Message) Ack(ctx context.Context) error {
	if m.ackFn == nil {
		return nil
	}
	return m.ackFn(ctx)
}

// Consumer delivers records in order on Messages. Both channels are closed
// when the stream ends or the consumer is closed.
type Consumer interface {
	Messages() <-chan Message
	Errors() <-chan error
	Close() error
}

// Producer publishes queue messages. Messages with the same key land on
// the same partition, so per-key order is kept.
type Producer interface {
	Publish(ctx context.Context, topic string, key, payload []byte) error
	Close() error
}

type ConsumerConfig struct {
	Driver string

	// Kafka fields.
	Brokers []string
	Group   string
	Topics  []string
	TLS     bool
	// StartAtLatest makes a new consumer group skip the backlog. By default
	// a new group reads each partition from the first retained offset.
	StartAtLatest bool
	KafkaMinBytes int
	KafkaMaxBytes int

	// Stdio fields. Records are stamped with the topic when exactly one is
	// configured.
	Reader       io.Reader
	MaxLineBytes int

	Logger *slog.Logger
}

type ProducerConfig struct {
	Driver string

	// Kafka fields.
	Brokers      []string
	TLS          bool
	BatchTimeout time.Duration

	// MaxMessageBytes bounds a single payload for every driver.
	MaxMessageBytes int

	// Stdio fields.
	Writer io.Writer
}

func NewConsumer(ctx context.Context, cfg ConsumerConfig) (Consumer, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	switch normalizeDriver(cfg.Driver) {
	case DriverKafka:
		return newKafkaConsumer(ctx, cfg)
	case DriverStdio:
		return newStdioConsumer(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

func NewProducer(cfg ProducerConfig) (Producer, error) {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageBytes
	}
	switch normalizeDriver(cfg.Driver) {
	case DriverKafka:
		return newKafkaProducer(cfg)
	case DriverStdio:
		return newStdioProducer(cfg), nil
	default:
		return nil, fmt.Errorf("%w: unsupported driver %q", ErrInvalidConfig, cfg.Driver)
	}
}

// TLSFromEnv reports whether EnvTLS is set to a truthy value.
func TLSFromEnv() bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(EnvTLS))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func SplitCommaList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return normalizeList(strings.Split(s, ","))
}

func normalizeDriver(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if v == "" {
		return DriverKafka
	}
	return v
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

func checkPayload(payload []byte, max int) error {
	if len(payload) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidPayload)
	}
	if len(payload) > max {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidPayload, len(payload), max)
	}
	return nil
}

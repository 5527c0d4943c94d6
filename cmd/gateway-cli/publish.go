package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/juno-intents/ton-gateway/internal/msgevent"
	"github.com/juno-intents/ton-gateway/internal/queue"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

func newEnvelopeCommand() *cobra.Command {
	var (
		src      string
		value    string
		bounce   bool
		external bool
	)
	cmd := &cobra.Command{
		Use:   "envelope <base64-boc>",
		Short: "wrap a message body into a gateway.messages.v1 line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := strings.TrimSpace(args[0])
			if _, err := wire.ParseBase64BOC(body); err != nil {
				return err
			}
			env := msgevent.Envelope{Version: msgevent.Version, Kind: msgevent.KindExternal, Body: body}
			if !external {
				from, err := wire.ParseAddress(src)
				if err != nil {
					return fmt.Errorf("--src: %w", err)
				}
				amount, err := parseTON(value)
				if err != nil {
					return fmt.Errorf("--value: %w", err)
				}
				env.Kind = msgevent.KindInternal
				env.Src = wire.RawAddress(from)
				env.Value = amount.String()
				env.Bounce = bounce
			}
			b, err := json.Marshal(env)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return err
		},
	}
	cmd.Flags().BoolVar(&external, "external", false, "external (TSS-signed) message")
	cmd.Flags().StringVar(&src, "src", "", "sender wc:hex (internal messages)")
	cmd.Flags().StringVar(&value, "value", "", "attached value in TON (internal messages)")
	cmd.Flags().BoolVar(&bounce, "bounce", true, "bounce on failure (internal messages)")
	return cmd
}

func newPublishCommand() *cobra.Command {
	var (
		queueDriver  string
		queueBrokers string
		topic        string
		key          string
		payload      string
		payloadFiles []string
	)
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "publish payload lines to a queue topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(topic) == "" {
				return errors.New("--topic is required")
			}
			producer, err := queue.NewProducer(queue.ProducerConfig{
				Driver:  queueDriver,
				Brokers: queue.SplitCommaList(queueBrokers),
				Writer:  cmd.OutOrStdout(),
			})
			if err != nil {
				return err
			}
			defer func() { _ = producer.Close() }()

			payloads, err := loadPayloads(strings.TrimSpace(payload), payloadFiles, cmd.InOrStdin())
			if err != nil {
				return err
			}
			var k []byte
			if key != "" {
				k = []byte(key)
			}
			for _, p := range payloads {
				for _, line := range bytes.Split(p, []byte("\n")) {
					line = bytes.TrimSpace(line)
					if len(line) == 0 {
						continue
					}
					if err := producer.Publish(cmd.Context(), topic, k, line); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&queueDriver, "queue-driver", queue.DriverKafka, "queue driver: kafka|stdio")
	f.StringVar(&queueBrokers, "queue-brokers", "", "comma-separated queue brokers (required for kafka)")
	f.StringVar(&topic, "topic", queue.TopicMessages, "queue topic")
	f.StringVar(&key, "key", "", "partition key; messages for one gateway should share it")
	f.StringVar(&payload, "payload", "", "inline payload")
	f.StringArrayVar(&payloadFiles, "payload-file", nil, "payload file path (repeatable)")
	return cmd
}

func loadPayloads(payloadInline string, payloadFiles []string, stdin io.Reader) ([][]byte, error) {
	payloads := make([][]byte, 0, len(payloadFiles)+1)
	if payloadInline != "" {
		payloads = append(payloads, []byte(payloadInline))
	}
	for _, filePath := range payloadFiles {
		b, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("read payload file %q: %w", filePath, err)
		}
		payloads = append(payloads, b)
	}
	if len(payloads) > 0 {
		return payloads, nil
	}
	if stdin == nil {
		return nil, errors.New("payload is required via --payload, --payload-file, or stdin")
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin payload: %w", err)
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return nil, errors.New("payload is required via --payload, --payload-file, or stdin")
	}
	return [][]byte{b}, nil
}

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/juno-intents/ton-gateway/internal/config"
	"github.com/juno-intents/ton-gateway/internal/fees"
	"github.com/juno-intents/ton-gateway/internal/wire"
)

func newDescribeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "describe <base64-boc>",
		Short: "decode an inbound gateway message body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := wire.ParseBase64BOC(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			d, err := wire.DescribeInbound(body)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), d)
		},
	}
}

type feeLine struct {
	Op       string `json:"op"`
	Tag      uint32 `json:"tag"`
	GasLimit uint64 `json:"gasLimit"`
	Fee      string `json:"fee"`
}

func newFeesCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "fees",
		Short: "print the worst-case fee of every operation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			schedule := fees.DefaultSchedule()
			if strings.TrimSpace(configPath) != "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				if schedule, err = cfg.Schedule(); err != nil {
					return err
				}
			}
			var out []feeLine
			for _, op := range wire.Ops() {
				fee, err := schedule.EstimateFee(op)
				if errors.Is(err, wire.ErrUnknownOp) {
					continue
				}
				if err != nil {
					return fmt.Errorf("estimate %s: %w", op, err)
				}
				out = append(out, feeLine{Op: op.String(), Tag: uint32(op), GasLimit: schedule.GasLimit(op), Fee: fee.String()})
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "gateway YAML config; defaults to the built-in schedule")
	return cmd
}

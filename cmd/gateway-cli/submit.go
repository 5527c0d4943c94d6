package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newSubmitCommand() *cobra.Command {
	var (
		apiURL  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit <base64-boc>",
		Short: "submit a signed external message to a gatewayd API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base := strings.TrimRight(strings.TrimSpace(apiURL), "/")
			if base == "" {
				return errors.New("--api-url is required")
			}
			reqBody, err := json.Marshal(map[string]string{"boc": strings.TrimSpace(args[0])})
			if err != nil {
				return err
			}
			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, base+"/v1/messages/external", bytes.NewReader(reqBody))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			client := &http.Client{Timeout: timeout}
			resp, err := client.Do(req)
			if err != nil {
				return err
			}
			defer func() { _ = resp.Body.Close() }()

			respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
			if err != nil {
				return fmt.Errorf("read response: %w", err)
			}
			if _, err := cmd.OutOrStdout().Write(respBody); err != nil {
				return err
			}
			if resp.StatusCode/100 != 2 {
				return fmt.Errorf("gateway answered %s", resp.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&apiURL, "api-url", "http://127.0.0.1:8090", "gatewayd base URL")
	cmd.Flags().DurationVar(&timeout, "timeout", 15*time.Second, "request timeout")
	return cmd
}

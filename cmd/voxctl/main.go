// Package main implements voxctl, a CLI for manual operations against the
// voxgov HTTP server and for checking tenant files before deployment.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// client carries the persistent flags shared by the API commands.
type client struct {
	serverURL string
	timeout   time.Duration
}

func newRootCmd() *cobra.Command {
	c := &client{}
	root := &cobra.Command{
		Use:   "voxctl",
		Short: "CLI for voxgov server operations",
		Long: `voxctl is a command-line interface for the voxgov turn governance server.
It sends test turns, ends calls, inspects context windows and validates
tenant governance files and knowledge packs offline.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&c.serverURL, "server", "http://localhost:9090", "voxgov server URL")
	root.PersistentFlags().DurationVar(&c.timeout, "timeout", 5*time.Second, "request timeout")

	root.AddCommand(
		newHealthCmd(c),
		newTurnCmd(c),
		newEndCmd(c),
		newContextCmd(c),
		newInvalidateCmd(c),
		newValidateCmd(),
	)
	return root
}

func newHealthCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check voxgov server health",
		Long: `Check the health status of the voxgov server and its dependencies.

Examples:
  voxctl health
  voxctl health --server http://localhost:8080`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp struct {
				Status string            `json:"status"`
				Checks map[string]string `json:"checks"`
			}
			// A degraded server answers 503 with a body worth printing.
			if err := c.do(http.MethodGet, "/health", nil, &resp, http.StatusServiceUnavailable); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server Status: %s\n", resp.Status)
			for name, status := range resp.Checks {
				fmt.Fprintf(out, "  %s: %s\n", name, status)
			}
			if resp.Status != "ok" {
				return fmt.Errorf("server is %s", resp.Status)
			}
			return nil
		},
	}
}

// do sends body as JSON and decodes the reply into out. Statuses other
// than 200 are errors unless listed in accept.
func (c *client) do(method, path string, body, out any, accept ...int) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		r = bytes.NewReader(data)
	}

	url := c.serverURL + path
	req, err := http.NewRequest(method, url, r)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := (&http.Client{Timeout: c.timeout}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if !statusOK(resp.StatusCode, accept) {
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func statusOK(code int, accept []int) bool {
	if code == http.StatusOK {
		return true
	}
	for _, a := range accept {
		if code == a {
			return true
		}
	}
	return false
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

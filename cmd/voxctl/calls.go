package main

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/voxgov/internal/orchestrator"
	"github.com/fyrsmithlabs/voxgov/internal/session"
)

func newTurnCmd(c *client) *cobra.Command {
	var (
		req     orchestrator.TurnRequest
		verbose bool
	)
	cmd := &cobra.Command{
		Use:   "turn <call-id> <utterance...>",
		Short: "Send one caller utterance",
		Long: `Send one caller utterance and print the agent's reply.

Examples:
  voxctl turn CA123 --tenant acme_dental "what time do you open"
  voxctl turn CA123 --tenant acme_dental --consent 0.9 "yes book me in"
  voxctl turn CA123 --tenant acme_dental -v "I want a human"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Input = strings.Join(args[1:], " ")
			if req.Signals.ConsentConfidence > 0 {
				req.Signals.BookingConsent = true
			}
			var resp orchestrator.TurnResponse
			if err := c.do(http.MethodPost, "/api/v1/calls/"+url.PathEscape(args[0])+"/turns", req, &resp); err != nil {
				return err
			}
			if verbose {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s/%s] %s\n", resp.Phase, handlerLabel(resp), resp.Response)
			if resp.Degraded {
				fmt.Fprintf(cmd.ErrOrStderr(), "degraded: %s\n", resp.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.TenantID, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&req.Caller, "caller", "", "caller number")
	cmd.Flags().Float64Var(&req.Signals.ConsentConfidence, "consent", 0, "booking consent confidence; implies consent")
	cmd.Flags().BoolVar(&req.Signals.EscalationRequested, "escalate", false, "mark the turn as an explicit escalation request")
	cmd.Flags().BoolVar(&req.Signals.Frustration, "frustrated", false, "mark the caller as frustrated")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print the full turn response")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func handlerLabel(r orchestrator.TurnResponse) string {
	if r.Handler == "" {
		return "none"
	}
	return string(r.Handler)
}

func newEndCmd(c *client) *cobra.Command {
	var req orchestrator.EndRequest
	cmd := &cobra.Command{
		Use:   "end <call-id>",
		Short: "End a call and archive it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var res orchestrator.EndResult
			if err := c.do(http.MethodPost, "/api/v1/calls/"+url.PathEscape(args[0])+"/end", req, &res); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Call %s ended: %s after %d turn(s)\n", res.CallID, res.Outcome.Status, res.Metrics.TotalTurns)
			if res.ArchiveID != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Archive: %s\n", res.ArchiveID)
			}
			if res.ArchivePending {
				fmt.Fprintf(cmd.OutOrStdout(), "Archive pending (%s); run end again to retry\n", res.ArchiveError)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.TenantID, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&req.Status, "status", "completed", "call outcome status")
	cmd.Flags().StringVar(&req.Summary, "summary", "", "outcome summary")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newContextCmd(c *client) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "context <call-id>",
		Short: "Print a live call's context window",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var w session.ContextWindow
			path := "/api/v1/calls/" + url.PathEscape(args[0]) + "/context?tenant_id=" + url.QueryEscape(tenant)
			if err := c.do(http.MethodGet, path, nil, &w); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), w)
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "tenant id (required)")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newInvalidateCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "invalidate <tenant-id> <source-id>",
		Short: "Reload a knowledge source on the server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/tenants/%s/sources/%s/invalidate", url.PathEscape(args[0]), url.PathEscape(args[1]))
			if err := c.do(http.MethodPost, path, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reloaded %s/%s\n", args[0], args[1])
			return nil
		},
	}
}

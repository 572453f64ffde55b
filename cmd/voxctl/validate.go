package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/voxgov/internal/governance"
	"github.com/fyrsmithlabs/voxgov/internal/knowledge"
)

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate tenant files offline",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "governance <file.yaml>...",
			Short: "Strictly parse tenant governance files",
			Long: `Parse tenant governance files with the same rules the server uses.
Unknown keys, missing required fields and invalid values are reported.

Examples:
  voxctl validate governance /etc/voxgov/tenants/*.yaml`,
			Args: cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return validateFiles(cmd, args, func(data []byte) (string, error) {
					cfg, err := governance.Parse(data)
					if err != nil {
						return "", err
					}
					return fmt.Sprintf("tenant %s v%s, %d source(s)", cfg.TenantID, cfg.Version, len(cfg.Sources)), nil
				})
			},
		},
		&cobra.Command{
			Use:   "pack <file.toml>...",
			Short: "Strictly decode knowledge packs",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return validateFiles(cmd, args, func(data []byte) (string, error) {
					p, err := knowledge.DecodePack(data)
					if err != nil {
						return "", err
					}
					n := len(p.Scenarios) + len(p.FAQs)
					return fmt.Sprintf("%s pack, %d entr%s", p.Kind, n, plural(n, "y", "ies")), nil
				})
			},
		},
	)
	return cmd
}

// validateFiles checks every file and fails if any is invalid.
func validateFiles(cmd *cobra.Command, paths []string, check func([]byte) (string, error)) error {
	var failed []string
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err == nil {
			var summary string
			summary, err = check(data)
			if err == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "ok    %s: %s\n", path, summary)
				continue
			}
		}
		failed = append(failed, path)
		fmt.Fprintf(cmd.OutOrStdout(), "FAIL  %s: %v\n", path, err)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d invalid file(s): %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

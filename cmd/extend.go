package cmd

import (
	"github.com/spf13/cobra"

	"czdsfetch/internal"
)

var extendCmd = &cobra.Command{
	Use:   "extend",
	Short: "Request expiry extensions for access requests expiring within 30 days",
	Long: `List the account's approved access requests and request an expiry
extension for every request that expires within 30 days of now.

Examples:
  czdsfetch extend
  czdsfetch extend --fail-on-item-error --report extend.json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		return runWorkflow(ctx, config, internal.ModeExtend, cmd.OutOrStdout())
	},
}

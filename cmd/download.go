package cmd

import (
	"github.com/spf13/cobra"

	"czdsfetch/internal"
)

var downloadCmd = &cobra.Command{
	Use:   "download",
	Short: "Download every zone file the account is approved for",
	Long: `Download every zone file listed by the CZDS API.

Each file is written to {working.directory}/zonefiles/, named after the
Content-Disposition header or, failing that, after the link (com.zone becomes
com.txt.gz). An existing file of the same name is replaced only once the new
download has completed.

Examples:
  czdsfetch download
  czdsfetch download -w /data/czds --limit-rate 10M
  czdsfetch download --workers 4 --metrics-file /var/lib/node_exporter/czds.prom`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd.Context())
		defer stop()

		internal.LogInfo("Zone files will be saved under %s", config.ZoneDirectory())
		return runWorkflow(ctx, config, internal.ModeDownload, cmd.OutOrStdout())
	},
}

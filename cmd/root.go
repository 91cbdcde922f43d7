package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"czdsfetch/internal"
)

var (
	configPath      string
	workingDir      string
	username        string
	rateLimit       string
	workers         int
	verifyGzip      bool
	quiet           bool
	proxyURL        string
	debug           bool
	logLevel        string
	logFile         string
	reportPath      string
	metricsFile     string
	failOnItemError bool
	config          *internal.Config
)

var rootCmd = &cobra.Command{
	Use:     "czdsfetch",
	Short:   "Download zone files from the ICANN Centralized Zone Data Service",
	Version: "v1.0.0",
	Long: `czdsfetch authenticates against the ICANN account API, lists the zone files
the account is approved for and downloads them into {working.directory}/zonefiles.
The extend command requests expiry extensions for approved access requests that
expire within 30 days.

Examples:
  czdsfetch download
  czdsfetch download -c config.json -w /data/czds --report run.yaml
  czdsfetch download --workers 4 --limit-rate 20M --verify-gzip
  czdsfetch extend --fail-on-item-error

Configuration (lowest to highest priority):
  defaults, config.json (or --config, or the JSON in $CZDS_CONFIG),
  ICANN_USER / ICANN_PASS / DEST_DIR (zone file directory), CZDS_<KEY> variables, flags.

Environment Variables:
  CZDS_CONFIG                      Complete JSON configuration
  CZDS_ICANN_ACCOUNT_USERNAME      ICANN account username
  CZDS_ICANN_ACCOUNT_PASSWORD      ICANN account password
  CZDS_WORKING_DIRECTORY           Output root directory
  CZDS_HTTP_PROXY                  Proxy URL
  CZDS_LOG_LEVEL                   Log level (debug, info, warn, error)

Exit codes:
  0    success
  1    configuration, authentication or listing failure
  2    item failures with --fail-on-item-error
  130  interrupted`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfiguration(cmd); err != nil {
			if czdsErr, ok := internal.AsCZDSError(err); ok {
				internal.LogCZDSError(czdsErr)
			}
			return &ExitError{Code: ExitFatal, Err: fmt.Errorf("configuration error: %w", err)}
		}

		if err := internal.InitLogger(config); err != nil {
			return &ExitError{Code: ExitFatal, Err: fmt.Errorf("failed to initialize logger: %w", err)}
		}

		internal.LogDebug("Configuration loaded: user=%s, working directory=%s, workers=%d, policy=%s",
			config.Credentials, config.WorkingDirectory, config.Workers, config.FailurePolicy)
		return nil
	},
}

// loadConfiguration merges every configuration source; flags win only when set explicitly
func loadConfiguration(cmd *cobra.Command) error {
	flags := cmd.Flags()
	overrides := make(map[string]interface{})

	if flags.Changed("working-dir") {
		overrides[internal.KeyWorkingDirectory] = workingDir
	}
	if flags.Changed("username") {
		overrides[internal.KeyUsername] = username
	}
	if flags.Changed("proxy") {
		overrides[internal.KeyHTTPProxy] = proxyURL
	}
	if flags.Changed("limit-rate") {
		overrides[internal.KeyRateLimit] = rateLimit
	}
	if flags.Changed("workers") {
		overrides[internal.KeyWorkers] = workers
	}
	if flags.Changed("verify-gzip") {
		overrides[internal.KeyVerifyGzip] = verifyGzip
	}
	if flags.Changed("metrics-file") {
		overrides[internal.KeyMetricsFile] = metricsFile
	}
	if flags.Changed("fail-on-item-error") {
		policy := internal.FailurePolicyIgnore
		if failOnItemError {
			policy = internal.FailurePolicyFail
		}
		overrides[internal.KeyFailurePolicy] = policy
	}
	if flags.Changed("debug") {
		overrides[internal.KeyDebug] = debug
		if debug {
			overrides[internal.KeyLogLevel] = "debug"
		}
	}
	if flags.Changed("log-level") {
		overrides[internal.KeyLogLevel] = logLevel
	}
	if flags.Changed("log-file") {
		overrides[internal.KeyLogFile] = logFile
	}
	if flags.Changed("quiet") {
		overrides[internal.KeyQuiet] = quiet
	}

	loader := internal.NewLoader(
		internal.WithConfigFile(configPath),
		internal.WithOverrides(overrides),
	)

	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	config = cfg
	return nil
}

func init() {
	flags := rootCmd.PersistentFlags()

	flags.StringVarP(&configPath, "config", "c", "", "Configuration file, JSON or YAML (default config.json, env: CZDS_CONFIG)")
	flags.StringVarP(&workingDir, "working-dir", "w", "", "Directory that receives zonefiles/ (env: CZDS_WORKING_DIRECTORY)")
	flags.StringVarP(&username, "username", "u", "", "ICANN account username (env: CZDS_ICANN_ACCOUNT_USERNAME)")
	flags.StringVar(&proxyURL, "proxy", "", "HTTP/SOCKS proxy URL (env: CZDS_HTTP_PROXY)")
	flags.StringVarP(&rateLimit, "limit-rate", "r", "", "Bandwidth limit (e.g., 5M for 5MB/s) (env: CZDS_DOWNLOAD_RATE_LIMIT)")
	flags.IntVarP(&workers, "workers", "t", 1, "Items processed in parallel (1-16) (env: CZDS_DOWNLOAD_WORKERS)")
	flags.BoolVar(&verifyGzip, "verify-gzip", false, "Check every downloaded zone file is a complete gzip stream")
	flags.StringVar(&reportPath, "report", "", "Write the run report to this file (.yaml/.yml or .json)")
	flags.StringVar(&metricsFile, "metrics-file", "", "Write prometheus metrics to this textfile (env: CZDS_METRICS_FILE)")
	flags.BoolVar(&failOnItemError, "fail-on-item-error", false, "Exit with status 2 when any item fails (env: CZDS_FAILURE_POLICY=fail)")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Suppress progress bars and informational output")

	// Logging flags
	flags.BoolVarP(&debug, "debug", "d", false, "Enable debug logging with file and line information (env: CZDS_LOG_DEBUG)")
	flags.StringVar(&logLevel, "log-level", "", "Set log level (debug, info, warn, error) (env: CZDS_LOG_LEVEL)")
	flags.StringVar(&logFile, "log-file", "", "Write logs to file instead of stderr (env: CZDS_LOG_FILE)")

	rootCmd.AddCommand(downloadCmd, extendCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

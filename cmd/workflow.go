package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"czdsfetch/czds"
	"czdsfetch/internal"
	"czdsfetch/metrics"
	"czdsfetch/utils"
)

// pipeline is the set of components one run is assembled from
type pipeline struct {
	driver *czds.Driver
	sink   internal.MetricsSink
}

// buildPipeline wires the HTTP client, session, lister and fetcher for mode
func buildPipeline(cfg *internal.Config, mode internal.Mode, progress io.Writer) (*pipeline, error) {
	client, err := utils.NewHTTPClientWithConfig(&utils.HTTPClientConfig{
		Timeout:     cfg.HTTPTimeout,
		IdleTimeout: cfg.HTTPIdleTimeout,
		ProxyURL:    cfg.ProxyURL,
	})
	if err != nil {
		return nil, internal.NewConfigError(internal.KeyHTTPProxy, err.Error()).WithCause(err)
	}

	retry := &utils.RetryConfig{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Multiplier:  2.0,
		Sleep:       utils.ContextSleep,
	}

	authenticator := czds.NewAuthenticator(client, cfg.AuthenticateURL(), cfg.Credentials, retry)
	session := czds.NewSession(authenticator)
	if cfg.BearerToken != "" {
		internal.LogInfo("Using the configured bearer token")
		session.Seed(cfg.BearerToken)
	}

	var lister internal.Lister
	var fetcher internal.Fetcher
	switch mode {
	case internal.ModeDownload:
		limit, err := utils.ParseRateLimit(cfg.RateLimit)
		if err != nil {
			return nil, internal.NewConfigError(internal.KeyRateLimit, err.Error()).
				WithSuggestion("Use formats like 1M (1 MB/s), 500K (500 KB/s), 2G (2 GB/s), or 1024 (1024 bytes/s)")
		}

		storeOpts := []utils.ZoneStoreOption{utils.WithGzipVerification(cfg.VerifyGzip)}
		if limit > 0 {
			storeOpts = append(storeOpts, utils.WithBandwidthLimit(utils.NewBandwidthLimiter(limit)))
			internal.LogDebug("Rate limit parsed: %s = %d bytes/sec", cfg.RateLimit, limit)
		}
		store := utils.NewZoneStore(cfg.ZoneDirectory(), storeOpts...)
		if swept, err := store.SweepPartials(); err != nil {
			internal.LogWarn("Could not clear partial downloads: %v", err)
		} else if swept > 0 {
			internal.LogInfo("Removed %d partial download(s) left by an earlier run", swept)
		}

		lister = czds.NewZoneLinkLister(client, session, retry, cfg.CZDSBaseURL)
		fetcher = czds.NewZoneFetcher(client, session, retry, store, czds.WithProgress(progress))
	case internal.ModeExtend:
		lister = czds.NewExpiringRequestLister(client, session, retry, cfg.CZDSBaseURL)
		fetcher = czds.NewExtensionFetcher(client, session, retry, cfg.CZDSBaseURL)
	default:
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	sink := metrics.MultiSink{
		metrics.NewLogSink(cfg.MetricsSource),
		metrics.NewPrometheusSink(cfg.MetricsSource, cfg.MetricsFile),
	}

	return &pipeline{
		driver: czds.NewDriver(mode, session, lister, fetcher,
			czds.WithWorkers(cfg.Workers),
			czds.WithMetricsSink(sink)),
		sink: sink,
	}, nil
}

// runWorkflow executes one run and applies the exit policy
func runWorkflow(ctx context.Context, cfg *internal.Config, mode internal.Mode, out io.Writer) error {
	var progress io.Writer
	if !cfg.QuietMode && cfg.Workers == 1 && term.IsTerminal(int(os.Stderr.Fd())) {
		progress = os.Stderr
	}

	p, err := buildPipeline(cfg, mode, progress)
	if err != nil {
		return fatal(err)
	}

	internal.LogInfo("Starting %s run for user %s", mode, cfg.Credentials.Username)
	report, err := p.driver.Execute(ctx)
	if err != nil {
		return fatal(err)
	}

	if reportPath != "" {
		if err := writeReport(reportPath, report); err != nil {
			internal.LogError("Failed to write report: %v", err)
		} else {
			internal.LogInfo("Run report written to %s", reportPath)
		}
	}
	if !cfg.QuietMode {
		printSummary(out, report)
	}

	return exitPolicy(cfg, report)
}

// exitPolicy decides the process status of a batch that ran to completion or was interrupted
func exitPolicy(cfg *internal.Config, report *internal.BatchReport) error {
	if report.Cancelled {
		return &ExitError{Code: ExitInterrupted, Err: fmt.Errorf("run %s interrupted after %d items", report.RunID, len(report.Outcomes))}
	}
	if failed := report.Failed(); failed > 0 {
		if cfg.FailurePolicy == internal.FailurePolicyFail {
			return &ExitError{Code: ExitItemFailure, Err: fmt.Errorf("%d of %d items failed", failed, len(report.Outcomes))}
		}
		internal.LogWarn("%d of %d items failed (failure policy %q)", failed, len(report.Outcomes), cfg.FailurePolicy)
	}
	if throttled := rateLimitedFailures(report); throttled > 0 {
		internal.LogWarn("%d item(s) exhausted their rate-limit retries; a later run may succeed", throttled)
	}
	return nil
}

// rateLimitedFailures counts failed items that gave up on 429 responses
func rateLimitedFailures(report *internal.BatchReport) int {
	n := 0
	for _, outcome := range report.Outcomes {
		if czdsErr, ok := internal.AsCZDSError(outcome.Err); ok && outcome.Status.IsFailure() && czdsErr.IsRetryable() {
			n++
		}
	}
	return n
}

// fatal logs a precondition failure and tags it with its exit code
func fatal(err error) error {
	if czdsErr, ok := internal.AsCZDSError(err); ok {
		internal.LogCZDSError(czdsErr)
		err = fmt.Errorf("%s stage failed: %w", czdsErr.Class(), err)
	}
	return &ExitError{Code: ExitCode(err), Err: err}
}

// signalContext cancels the returned context on SIGINT or SIGTERM
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			internal.LogInfo("Received signal %v, initiating graceful shutdown...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

// Command ptrwatch runs the House PTR ingestion worker.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cognicore/ptrwatch/internal/filinglist"
	"github.com/cognicore/ptrwatch/internal/logging"
	"github.com/cognicore/ptrwatch/internal/telemetry"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/config"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/pipeline"
)

var version = "dev"

// openWorker is swapped in tests.
var openWorker = ptrwatch.Open

const (
	modeScheduled = "scheduled"
	modeOnce      = "once"
	modeHealth    = "health"
	modeDiscovery = "discovery-only"
	modeDownload  = "download"
	modeBulk      = "bulk"
	modeIntegrity = "integrity"
)

type cliFlags struct {
	mode        string
	limit       int
	configPath  string
	envPath     string
	filings     string
	filingsFile string
	years       string
}

func parseFlags(args []string, stderr io.Writer) (cliFlags, error) {
	var f cliFlags
	fs := flag.NewFlagSet("ptrwatch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.mode, "mode", modeScheduled, "scheduled, once, health, discovery-only, download, bulk or integrity")
	fs.IntVar(&f.limit, "limit", 0, "Maximum filings to discover (0 = no limit)")
	fs.StringVar(&f.configPath, "config", "", "YAML config file")
	fs.StringVar(&f.envPath, "env", "", "Env file (default .env when present)")
	fs.StringVar(&f.filings, "filings", "", "Comma separated filing IDs to reprocess from the store")
	fs.StringVar(&f.filingsFile, "filings-file", "", "JSONL file of filings to process without discovery")
	fs.StringVar(&f.years, "years", "", "Year window override, e.g. 2023-2025")
	if err := fs.Parse(args); err != nil {
		return f, err
	}

	switch f.mode {
	case modeScheduled, modeOnce, modeHealth, modeDiscovery, modeDownload, modeBulk, modeIntegrity:
	default:
		return f, fmt.Errorf("unknown mode %q", f.mode)
	}
	if f.limit < 0 {
		return f, fmt.Errorf("limit must not be negative")
	}
	if f.filings != "" && f.filingsFile != "" {
		return f, fmt.Errorf("-filings and -filings-file are mutually exclusive")
	}
	return f, nil
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "ptrwatch:", err)
		return 2
	}
	setupFailed := 1
	if f.mode == modeHealth {
		setupFailed = 2
	}

	cfg, err := config.Loader{ConfigPath: f.configPath, EnvPath: f.envPath}.Load()
	if err != nil {
		fmt.Fprintln(stderr, "ptrwatch: load config:", err)
		return setupFailed
	}
	if f.years != "" {
		cfg.YearWindowSpec = f.years
	}

	logger := logging.NewWriter(stderr, cfg.LogLevel, cfg.LogFormat)

	shutdown, err := telemetry.Setup(ctx, telemetry.Options{
		Endpoint:    cfg.OTLPEndpoint,
		ServiceName: "ptrwatch",
		Version:     version,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("telemetry setup failed", "error", err)
		return setupFailed
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown", "error", err)
		}
	}()

	w, err := openWorker(ctx, ptrwatch.Options{Config: cfg, Version: version, Logger: logger})
	if err != nil {
		logger.Error("worker setup failed", "error", err)
		return setupFailed
	}
	defer func() {
		if err := w.Close(); err != nil {
			logger.Warn("close worker", "error", err)
		}
	}()

	logger.Info("ptrwatch starting", "mode", f.mode, "version", version, "years", w.Years().String())

	switch f.mode {
	case modeOnce:
		return runOnce(ctx, w, f, stdout, logger)
	case modeHealth:
		h := w.Pipeline().HealthCheck(ctx)
		printJSON(stdout, h)
		if h.Status != pipeline.Healthy {
			return 1
		}
		return 0
	case modeDiscovery:
		filings, rep := w.Pipeline().RunDiscoveryOnly(ctx, w.Years(), f.limit)
		printJSON(stdout, map[string]any{"report": rep, "filings": filings})
		if rep.Err() != nil {
			return 1
		}
		return 0
	case modeDownload:
		return printReport(stdout, w.Pipeline().RunDownloadOnly(ctx, w.Years(), f.limit))
	case modeBulk:
		return printReport(stdout, w.Pipeline().RunBulk(ctx, w.Years(), f.limit))
	case modeIntegrity:
		report, err := w.CheckIntegrity(ctx)
		if err != nil {
			logger.Error("integrity check failed", "error", err)
			return 1
		}
		printJSON(stdout, report)
		if !report.Clean() {
			return 1
		}
		return 0
	default:
		return runScheduled(ctx, w, logger)
	}
}

func runOnce(ctx context.Context, w *ptrwatch.Worker, f cliFlags, stdout io.Writer, logger *slog.Logger) int {
	var rep *pipeline.RunReport
	switch {
	case f.filingsFile != "":
		filings, err := filinglist.LoadFromJSONL(f.filingsFile, logger)
		if err != nil {
			logger.Error("load filings", "error", err)
			return 1
		}
		rep = w.Pipeline().RunWithFilings(ctx, filings)
	case f.filings != "":
		rep = w.Pipeline().RunFromFilings(ctx, filinglist.ParseIDs(f.filings))
	default:
		rep = w.Pipeline().RunFull(ctx, w.Years(), f.limit)
	}
	return printReport(stdout, rep)
}

// printReport writes rep and maps a stage-level failure to exit code 1.
func printReport(stdout io.Writer, rep *pipeline.RunReport) int {
	printJSON(stdout, rep)
	if rep.Err() != nil {
		return 1
	}
	return 0
}

func runScheduled(ctx context.Context, w *ptrwatch.Worker, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := w.HealthServer()
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start() }()

	if err := w.Scheduler().Start(ctx); err != nil {
		logger.Error("start scheduler", "error", err)
		return 1
	}

	code := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-srvErr:
		if err != nil {
			logger.Error("health server failed", "error", err)
			code = 1
		}
	}

	w.Scheduler().Stop()
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("health server shutdown", "error", err)
	}
	return code
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

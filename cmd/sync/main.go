// Command sync copies rows from a warehouse source into SharePoint lists.
//
// It loads runtime settings from the environment, the table registry from a
// JSON file, and runs every registered table (or a -tables subset) through
// the extract/transform/load pipeline.
//
// Exit codes:
//
//	0  every table synced completely
//	1  partial failure (some rows or tables failed)
//	2  run failed (connectivity, or no rows landed)
//	3  configuration invalid (environment, registry, flags)
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"spsync/internal/config"
	"spsync/internal/metrics"
	"spsync/internal/metrics/datadog"
	"spsync/internal/pipeline"
	"spsync/internal/sharepoint"
	"spsync/internal/source"
	"spsync/internal/source/synapse"

	// register all source backends with the factory.
	_ "spsync/internal/source/all"
)

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultDeps()))
}

// runner is the seam between the CLI and the pipeline; tests substitute a
// fake.
type runner interface {
	Run(ctx context.Context, tables []config.TableSpec) pipeline.MultiResult
}

// appDeps carries every side-effecting dependency of runMain so tests can
// drive the CLI without a network or environment.
type appDeps struct {
	loadSettings func() (config.Settings, error)
	loadRegistry func(path string) (config.Registry, error)
	connect      func(ctx context.Context, s config.Settings) (source.Source, pipeline.Destination, error)
	newRunner    func(s config.Settings, src source.Source, dest pipeline.Destination, dryRun bool, logf func(string, ...any)) runner
	initMetrics  func(ctx context.Context, backend string) (func(), error)
}

func defaultDeps() appDeps {
	return appDeps{
		loadSettings: config.LoadSettings,
		loadRegistry: config.LoadRegistry,
		connect:      connect,
		newRunner: func(s config.Settings, src source.Source, dest pipeline.Destination, dryRun bool, logf func(string, ...any)) runner {
			return &pipeline.Runner{
				Source:    src,
				Dest:      dest,
				BatchSize: s.BatchSize,
				Backoff:   s.RetryBackoff,
				DryRun:    dryRun,
				Logf:      logf,
			}
		},
		initMetrics: initMetrics,
	}
}

func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath           string
		tablesFlg         string
		dryRun            bool
		validate          bool
		metricsBackendFlg string
	)
	fs.StringVar(&cfgPath, "config", "configs/tables.json", "table registry JSON path")
	fs.StringVar(&tablesFlg, "tables", "", "comma-separated subset of registry tables to sync")
	fs.BoolVar(&dryRun, "dry-run", false, "extract and transform only; write nothing")
	fs.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	fs.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (datadog, none)")
	verbose := fs.Bool("v", false, "enable verbose logs")

	if err := fs.Parse(args); err != nil {
		return 3
	}

	settings, err := deps.loadSettings()
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 3
	}

	reg, err := deps.loadRegistry(cfgPath)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 3
	}
	issues := config.ValidateRegistry(reg)
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fmt.Fprintf(stderr, "registry is invalid: %s\n", cfgPath)
		return 3
	}
	if validate {
		fmt.Fprintf(stdout, "registry is valid: %s (%d tables)\n", cfgPath, len(reg.Tables))
		return 0
	}

	specs, err := reg.Select(splitCSV(tablesFlg))
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 3
	}

	logf := func(string, ...any) {}
	if settings.Verbose || *verbose {
		logf = log.New(stderr, "", log.LstdFlags).Printf
	}

	// Decide metrics backend: flag -> env -> none.
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	if deps.initMetrics != nil && !dryRun {
		flush, err := deps.initMetrics(ctx, backendName)
		if err != nil {
			log.Printf("metrics: init %q failed: %v; metrics disabled", backendName, err)
		} else {
			defer flush()
		}
	}

	src, dest, err := deps.connect(ctx, settings)
	if err != nil {
		fmt.Fprintf(stderr, "connect: %v\n", err)
		return 2
	}
	defer src.Close()

	r := deps.newRunner(settings, src, dest, dryRun, logf)
	multi := r.Run(ctx, specs)
	multi.WriteSummary(stdout)

	switch multi.Status {
	case pipeline.StatusSuccess:
		return 0
	case pipeline.StatusPartial:
		return 1
	default:
		return 2
	}
}

// connect opens the source backend and the SharePoint client from settings.
func connect(ctx context.Context, s config.Settings) (source.Source, pipeline.Destination, error) {
	src, err := source.New(ctx, sourceConfig(s))
	if err != nil {
		return nil, nil, err
	}
	dest := sharepoint.New(ctx, sharepoint.Options{
		TenantID:          s.TenantID,
		ClientID:          s.ClientID,
		ClientSecret:      s.ClientSecret,
		SiteURL:           s.SiteURL,
		Timeout:           s.HTTPTimeout,
		RequestsPerSecond: s.RequestsPerSecond,
	})
	return src, dest, nil
}

// sourceConfig renders Settings into a factory config. The synapse backend
// gets its DSN built from the structured fields; other backends read
// SOURCE_DSN as-is.
func sourceConfig(s config.Settings) source.Config {
	cfg := source.Config{
		Kind:         s.SourceKind,
		DSN:          s.SourceDSN,
		QueryTimeout: s.HTTPTimeout,
	}
	if s.SourceKind == "synapse" {
		cfg.DSN = synapse.BuildDSN(synapse.Options{
			Server:             s.SynapseServer,
			Database:           s.SynapseDatabase,
			Username:           s.SynapseUsername,
			Password:           s.SynapsePassword,
			UseManagedIdentity: s.UseManagedIdentity,
			ConnectTimeout:     s.HTTPTimeout,
		})
	}
	return cfg
}

// initMetrics wires the named metrics backend into the package-level
// registry and returns the shutdown func.
func initMetrics(ctx context.Context, backend string) (func(), error) {
	switch backend {
	case "datadog":
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    "spsync",
			Tags:       datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS")),
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			return nil, err
		}
		metrics.SetBackend(b)
		return func() {
			if err := b.Close(); err != nil {
				log.Printf("metrics: datadog close/flush error: %v", err)
			}
		}, nil
	case "", "none":
		// nop backend remains
		return func() {}, nil
	default:
		return nil, fmt.Errorf("unknown metrics backend %q", backend)
	}
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

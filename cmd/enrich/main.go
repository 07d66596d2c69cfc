// Command enrich runs the enrichment engine: it bootstraps assets, builds
// the enrichment registry, opens the pause gate, and drives records from
// source to sink until told to stop. Exit codes follow spec.md §6: 0 for
// a clean shutdown, 1 for a configuration or startup failure, 2 for a
// fatal runtime failure.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"

	"github.com/flowmesh-oss/enrich/internal/assets"
	"github.com/flowmesh-oss/enrich/internal/badrow"
	"github.com/flowmesh-oss/enrich/internal/decode"
	_ "github.com/flowmesh-oss/enrich/internal/enrichment/apirequest"
	_ "github.com/flowmesh-oss/enrich/internal/enrichment/geoip"
	_ "github.com/flowmesh-oss/enrich/internal/enrichment/javascript"
	_ "github.com/flowmesh-oss/enrich/internal/enrichment/sqlquery"
	_ "github.com/flowmesh-oss/enrich/internal/enrichment/uaparser"
	"github.com/flowmesh-oss/enrich/internal/pausegate"
	"github.com/flowmesh-oss/enrich/internal/pipeline"
	"github.com/flowmesh-oss/enrich/internal/platform/adminhttp"
	"github.com/flowmesh-oss/enrich/internal/platform/config"
	"github.com/flowmesh-oss/enrich/internal/platform/logging"
	"github.com/flowmesh-oss/enrich/internal/platform/metrics"
	"github.com/flowmesh-oss/enrich/internal/registry"
	"github.com/flowmesh-oss/enrich/internal/runtime"
	"github.com/flowmesh-oss/enrich/internal/schemaresolver"
	"github.com/flowmesh-oss/enrich/internal/sourcesink"
	"github.com/flowmesh-oss/enrich/internal/validator"
)

const serviceName = "enrich"

// shutdownGrace is spec.md §4.9's drain window before a forced exit.
const shutdownGrace = 30 * time.Second

// statsInterval is how often the process RSS/CPU and uptime gauges refresh.
const statsInterval = 15 * time.Second

// version is stamped at build time; "dev" covers unreleased local runs.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var configPath, igluPath string

	cmd := &cobra.Command{
		Use:           "enrich",
		Short:         "run the event enrichment engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the HOCON configuration file")
	cmd.Flags().StringVar(&igluPath, "iglu", "", "path to the Iglu resolver configuration JSON")
	cmd.SetArgs(args)

	exitCode := 0
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		code, err := runEngine(cmd.Context(), configPath, igluPath)
		exitCode = code
		return err
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if exitCode == 0 {
			exitCode = 1
		}
	}
	return exitCode
}

// runEngine wires every component together and blocks until shutdown.
// The returned int is the process exit code; a non-nil error is always
// printed by the caller.
func runEngine(ctx context.Context, configPath, igluPath string) (int, error) {
	if configPath == "" {
		return 1, fmt.Errorf("--config is required")
	}

	cfg, err := config.Load(configPath, igluPath)
	if err != nil {
		return 1, fmt.Errorf("load config: %w", err)
	}
	if err := config.RequireLicense(cfg); err != nil {
		return 1, err
	}

	logger := logging.New(serviceName, cfg.LogLevel, cfg.LogFormat)
	m := metrics.New(serviceName)

	admin := adminhttp.New(cfg.AdminAddr, serviceName, version, logger, m)
	adminErrCh := make(chan error, 1)
	admin.Start(adminErrCh)

	gate := pausegate.New()
	fetcher := assets.NewHTTPFetcher(nil)
	assetMgr := assets.New(cfg.CacheDir, cfg.Enrichments, fetcher, gate, nil, logger, m, cfg.FeatureFlags.LegacyEnrichmentOrder)
	admin.RegisterCheck("assets", assetMgr.Healthy)

	bootCtx, cancelBoot := context.WithTimeout(ctx, 2*time.Minute)
	bootErr := assetMgr.Bootstrap(bootCtx)
	cancelBoot()
	if bootErr != nil {
		return 1, fmt.Errorf("bootstrap assets: %w", bootErr)
	}

	reg, err := registry.New(cfg.Enrichments, assetMgr.AssetPaths(), cfg.FeatureFlags.LegacyEnrichmentOrder)
	if err != nil {
		return 1, fmt.Errorf("build registry: %w", err)
	}
	assetMgr.SetRegistry(reg)

	resolver, err := schemaresolver.New(cfg.IgluResolverPath)
	if err != nil {
		return 1, fmt.Errorf("build schema resolver: %w", err)
	}
	validatorCfg := validator.DefaultConfig()
	val, err := validator.New(resolver, validatorCfg)
	if err != nil {
		return 1, fmt.Errorf("build validator: %w", err)
	}

	badRowBuilder := badrow.New(serviceName, version)

	pipe := pipeline.New(pipeline.Config{
		Gate:      gate,
		Registry:  reg,
		Validator: val,
		BadRow:    badRowBuilder,
		Flags: pipeline.FeatureFlags{
			AcceptInvalid:         cfg.FeatureFlags.AcceptInvalid,
			LegacyEnrichmentOrder: cfg.FeatureFlags.LegacyEnrichmentOrder,
		},
		Logger:  logger,
		Metrics: m,
	})

	decoder := decode.New(cfg.MaxRecordSize, cfg.FeatureFlags.TryBase64Decoding)

	good := sourcesink.NewMemorySink()
	pii := sourcesink.NewMemorySink()
	bad := sourcesink.NewMemorySink()
	checkpointer := sourcesink.NewMemoryCheckpointer()
	source := sourcesink.NewMemorySource(nil)

	rt := runtime.New(runtime.Config{
		Source:       source,
		Good:         good,
		PII:          pii,
		Bad:          sourcesink.NewByteSinkAdapter(bad),
		Checkpointer: checkpointer,
		Decoder:      decoder,
		Pipeline:     pipe,
		Registry:     reg,
		BadRow:       badRowBuilder,

		ConcurrencyEnrich: cfg.ConcurrencyEnrich,
		ConcurrencySink:   cfg.ConcurrencySink,
		ShutdownGrace:     shutdownGrace,

		Logger:  logger,
		Metrics: m,
	})

	assetMgr.StartPeriodicRefresh(ctx, cfg.AssetsUpdatePeriod)
	gate.Open()
	admin.SetReady(true)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go statsLoop(runCtx, m, time.Now())

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- rt.Run(runCtx) }()

	select {
	case err := <-runErrCh:
		assetMgr.Stop()
		shutdownAdmin(admin)
		if err != nil {
			return 2, fmt.Errorf("runtime stopped: %w", err)
		}
		return 0, nil
	case err := <-adminErrCh:
		stop()
		<-runErrCh
		assetMgr.Stop()
		return 2, fmt.Errorf("admin server: %w", err)
	case <-runCtx.Done():
		return waitForGracefulStop(runErrCh, assetMgr, admin)
	}
}

// waitForGracefulStop waits up to the shutdown grace period for the
// runtime to drain in-flight work after the first termination signal. A
// second signal, or the grace period expiring, forces exit code 2 per
// spec.md §4.9.
func waitForGracefulStop(runErrCh chan error, assetMgr *assets.Manager, admin *adminhttp.Server) (int, error) {
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(forceCh)

	select {
	case err := <-runErrCh:
		assetMgr.Stop()
		shutdownAdmin(admin)
		if err != nil {
			return 2, fmt.Errorf("runtime stopped: %w", err)
		}
		return 0, nil
	case <-forceCh:
		assetMgr.Stop()
		shutdownAdmin(admin)
		return 2, fmt.Errorf("forced termination: second signal received during drain")
	case <-time.After(shutdownGrace):
		assetMgr.Stop()
		shutdownAdmin(admin)
		return 2, fmt.Errorf("forced termination: shutdown grace period exceeded")
	}
}

// statsLoop refreshes the uptime and process RSS/CPU gauges on
// statsInterval until ctx is cancelled. CPU seconds is the process's
// cumulative user+system time, matching ProcessCPUSeconds' "_total" name.
func statsLoop(ctx context.Context, m *metrics.Metrics, startTime time.Time) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return
	}

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.UpdateUptime(startTime)
			memInfo, err := proc.MemInfoWithContext(ctx)
			if err != nil {
				continue
			}
			times, err := proc.TimesWithContext(ctx)
			if err != nil {
				continue
			}
			m.UpdateProcessStats(memInfo.RSS, times.User+times.System)
		}
	}
}

func shutdownAdmin(admin *adminhttp.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = admin.Shutdown(ctx)
}

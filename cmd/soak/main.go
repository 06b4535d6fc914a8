/*
Copyright 2025 The KServe Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/kserve/inference-soak/pkg/memwatch"
	"github.com/kserve/inference-soak/pkg/soak"
)

const (
	diagShutdownTimeout = 5 * time.Second
	reportPublishBudget = 30 * time.Second
)

// flagError marks command line problems so main can exit 2 for usage errors
// and 1 for run failures.
type flagError struct{ error }

func main() {
	cfg, err := soak.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
	if err := newRootCmd(cfg).Execute(); err != nil {
		var fe flagError
		if errors.As(err, &fe) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newRootCmd(cfg *soak.Config) *cobra.Command {
	var noGC bool
	cmd := &cobra.Command{
		Use:   "soak",
		Short: "Soak a v2 inference endpoint and watch client memory",
		Long: `soak issues synchronous inference requests against an Open Inference
Protocol v2 endpoint in a strictly sequential loop, validates that every
response echoes the fixed input tensor, and samples process memory as it
goes. By default each repetition builds and closes a brand new client;
compare a run against --reuse-client to tell per-client leaks from
steady-state allocation.

Every flag can also be set through a SOAK_ environment variable
(--model-name becomes SOAK_MODEL_NAME); flags win.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("no-gc-before-sample") {
				cfg.GCBeforeSample = !noGC
			}
			cfg.Complete()
			if err := cfg.Validate(); err != nil {
				return flagError{err}
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return flagError{err}
	})
	f := cmd.Flags()
	f.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose,
		"Log at debug level, including per-request client logs")
	f.StringVarP(&cfg.Protocol, "protocol", "i", cfg.Protocol,
		"Protocol to communicate with the server, http or grpc")
	f.StringVarP(&cfg.URL, "url", "u", cfg.URL,
		"Server endpoint; defaults to localhost:8000 for http and localhost:8001 for grpc")
	f.IntVarP(&cfg.Repetitions, "repetitions", "r", cfg.Repetitions,
		"Number of sequential inference requests")
	f.BoolVarP(&cfg.ReuseClient, "reuse-client", "R", cfg.ReuseClient,
		"Reuse one client for the whole run instead of building a new one per repetition")
	f.DurationVarP(&cfg.Timeout, "timeout", "t", cfg.Timeout,
		"Per-request timeout; 0 disables the client-side deadline")
	f.StringVar(&cfg.ModelName, "model-name", cfg.ModelName,
		"Model to run")
	f.StringVar(&cfg.ModelVersion, "model-version", cfg.ModelVersion,
		"Model version; empty lets the server choose")
	f.IntVar(&cfg.MaxRetries, "max-retries", cfg.MaxRetries,
		"Retry budget per request on top of the initial attempt")
	f.DurationVar(&cfg.RetryInterval, "retry-interval", cfg.RetryInterval,
		"Constant sleep before each retry")
	f.BoolVar(&cfg.BinaryData, "binary-data", cfg.BinaryData,
		"Move REST tensors with the binary extension instead of JSON arrays")
	f.IntVar(&cfg.SampleEvery, "sample-every", cfg.SampleEvery,
		"Take a memory sample every N iterations")
	f.BoolVar(&noGC, "no-gc-before-sample", !cfg.GCBeforeSample,
		"Skip the forced GC pass before each memory sample")
	f.StringVar(&cfg.MemProfile, "mem-profile", cfg.MemProfile,
		"Write the memory sample series to this CSV file")
	f.StringVar(&cfg.ServerMetricsURL, "server-metrics-url", cfg.ServerMetricsURL,
		"Prometheus endpoint to scrape for the server's resident set next to each sample")
	f.Float64Var(&cfg.FailOnGrowth, "fail-on-growth", cfg.FailOnGrowth,
		"Fail the run when estimated growth exceeds this many bytes per iteration; 0 keeps the estimate advisory")
	f.StringVar(&cfg.ReportURL, "report-url", cfg.ReportURL,
		"Deliver the end-of-run report as a CloudEvent to this URL")
	f.StringVar(&cfg.DiagAddr, "diag-addr", cfg.DiagAddr,
		"Serve /metrics and /debug/pprof on this address during the run")
	f.BoolVar(&cfg.WaitReady, "wait-ready", cfg.WaitReady,
		"Wait for server and model readiness before the loop starts")
	f.DurationVar(&cfg.ReadyTimeout, "ready-timeout", cfg.ReadyTimeout,
		"Bound on the readiness wait; 0 waits until interrupted")
	return cmd
}

func run(ctx context.Context, cfg *soak.Config) error {
	log, err := newLogger(cfg.Verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := soak.NewMetrics(registry)

	var remote *memwatch.RemoteSampler
	if cfg.ServerMetricsURL != "" {
		remote = memwatch.NewRemoteSampler(cfg.ServerMetricsURL)
	}
	watcher := memwatch.New(memwatch.Options{
		Logger:         log,
		GCBeforeSample: cfg.GCBeforeSample,
		Remote:         remote,
	})

	if cfg.DiagAddr != "" {
		stopDiag := startDiag(ctx, cfg.DiagAddr, registry, log)
		defer stopDiag()
	}

	report, runErr := soak.NewRunner(cfg, log, metrics, watcher).Run(ctx)
	report.Log(log)

	if cfg.MemProfile != "" {
		if err := watcher.WriteCSV(cfg.MemProfile); err != nil {
			log.Warnw("unable to write memory profile", "error", err)
		} else {
			log.Infow("memory profile written", "path", cfg.MemProfile, "samples", len(watcher.Samples()))
		}
	}
	if cfg.ReportURL != "" {
		pctx, cancel := context.WithTimeout(context.Background(), reportPublishBudget)
		defer cancel()
		if err := report.Publish(pctx, cfg.ReportURL); err != nil {
			log.Warnw("unable to publish report", "error", err)
		} else {
			log.Infow("report published", "url", cfg.ReportURL)
		}
	}
	return runErr
}

// startDiag serves /metrics and the pprof endpoints until the returned stop
// function runs or ctx is canceled.
func startDiag(ctx context.Context, addr string, registry *prometheus.Registry, log *zap.SugaredLogger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	srv := &http.Server{Addr: addr, Handler: mux}

	diagCtx, cancel := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error {
		log.Infow("diagnostics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-diagCtx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), diagShutdownTimeout)
		defer scancel()
		return srv.Shutdown(sctx)
	})
	return func() {
		cancel()
		if err := g.Wait(); err != nil {
			log.Warnw("diagnostics server failed", "error", err)
		}
	}
}

func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	zc := zap.NewProductionConfig()
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "unable to build logger")
	}
	return logger.Sugar(), nil
}

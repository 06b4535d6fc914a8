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

// Package soak orchestrates the memory soak: a strictly sequential loop of
// synchronous inference requests against one model, echo validation of every
// response, periodic memory sampling, and an end-of-run growth verdict. By
// default every repetition builds and closes a brand new client; comparing
// that mode against --reuse-client is what separates per-client leaks from
// steady-state allocation.
package soak

import (
	"context"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kserve/inference-soak/pkg/client"
	"github.com/kserve/inference-soak/pkg/memwatch"
)

// ClientFactory builds one client per call.
type ClientFactory func() (client.Client, error)

// Runner drives one soak run.
type Runner struct {
	cfg       *Config
	log       *zap.SugaredLogger
	metrics   *Metrics
	watcher   *memwatch.Watcher
	newClient ClientFactory
	want      []int32
}

// NewRunner wires a runner from its parts. A nil metrics or watcher gets a
// private default.
func NewRunner(cfg *Config, log *zap.SugaredLogger, metrics *Metrics, watcher *memwatch.Watcher) *Runner {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	if watcher == nil {
		watcher = memwatch.New(memwatch.Options{Logger: log, GCBeforeSample: cfg.GCBeforeSample})
	}
	r := &Runner{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		watcher: watcher,
		want:    probeValues(),
	}
	r.newClient = func() (client.Client, error) {
		return client.New(cfg.Proto(), cfg.ClientOptions(log))
	}
	return r
}

// SetClientFactory overrides how clients are built. Tests use it to point
// the runner at in-memory transports.
func (r *Runner) SetClientFactory(f ClientFactory) { r.newClient = f }

// Run executes the whole soak. The returned report is populated on every
// path, including failures; the error is the run verdict.
func (r *Runner) Run(ctx context.Context) (report *Report, err error) {
	report = &Report{
		RunID:       uuid.Must(uuid.NewV4()).String(),
		Protocol:    r.cfg.Protocol,
		URL:         r.cfg.URL,
		ModelName:   r.cfg.ModelName,
		Repetitions: r.cfg.Repetitions,
		ReuseClient: r.cfg.ReuseClient,
	}
	start := time.Now()
	defer func() {
		report.WallSeconds = time.Since(start).Seconds()
		report.Growth = memwatch.EstimateGrowth(r.watcher.Samples())
		if err != nil && report.FailureReason == "" {
			report.FailureReason = err.Error()
		}
	}()
	r.log.Infow("starting soak",
		"runID", report.RunID,
		"protocol", r.cfg.Protocol,
		"url", r.cfg.URL,
		"model", r.cfg.ModelName,
		"repetitions", r.cfg.Repetitions,
		"reuseClient", r.cfg.ReuseClient)

	var shared client.Client
	if r.cfg.ReuseClient {
		if shared, err = r.buildClient(report); err != nil {
			return report, errors.Wrap(err, "unable to build client")
		}
		defer r.closeClient(shared)
	}
	if r.cfg.WaitReady {
		if err = r.waitReady(ctx, shared, report); err != nil {
			return report, err
		}
	}

	r.observe(ctx, 0)
	policy := r.cfg.RetryPolicy()
	for i := 0; i < r.cfg.Repetitions; i++ {
		if ctx.Err() != nil {
			return report, errors.Wrap(ctx.Err(), "run interrupted")
		}
		c := shared
		if c == nil {
			if c, err = r.buildClient(report); err != nil {
				return report, errors.Wrapf(err, "unable to build client on iteration %d", i)
			}
		}
		err = r.iteration(ctx, c, i, policy, report)
		if shared == nil {
			r.closeClient(c)
		}
		if err != nil {
			return report, err
		}
		report.Iterations++
		if (i+1)%r.cfg.SampleEvery == 0 || i+1 == r.cfg.Repetitions {
			r.observe(ctx, i+1)
		}
	}

	growth := memwatch.EstimateGrowth(r.watcher.Samples())
	if growth.Exceeds(r.cfg.FailOnGrowth) {
		report.GrowthExceeded = true
		slope := growth.RSSPerIteration
		if !growth.HasRSS {
			slope = growth.HeapPerIteration
		}
		return report, errors.Errorf("memory grew %.1f bytes per iteration, over the %.1f limit",
			slope, r.cfg.FailOnGrowth)
	}
	return report, nil
}

// iteration issues one request, retries included, and validates the echo.
func (r *Runner) iteration(ctx context.Context, c client.Client, i int, policy client.RetryPolicy, report *Report) error {
	id := uuid.Must(uuid.NewV4()).String()
	req, err := newProbeRequest(r.cfg.ModelName, r.cfg.ModelVersion, id, r.cfg.BinaryData)
	if err != nil {
		return errors.Wrap(err, "unable to build probe request")
	}
	r.metrics.Requests.Inc()
	resp, tries, err := client.InferWithRetries(ctx, c, req, policy, r.log)
	if tries > 1 {
		report.Retries += tries - 1
		r.metrics.Retries.Add(float64(tries - 1))
	}
	if err != nil {
		r.metrics.Failures.Inc()
		return errors.Wrapf(err, "inference failed on iteration %d", i)
	}
	if err := validateEcho(resp, probeOutputName, probeShape(), r.want); err != nil {
		r.metrics.ValidationFailures.Inc()
		return errors.Wrapf(err, "response validation failed on iteration %d", i)
	}
	moved := 0
	for _, in := range req.Inputs {
		moved += len(in.Raw)
	}
	for _, out := range resp.Outputs {
		moved += len(out.Raw)
	}
	r.metrics.PayloadBytes.Add(float64(moved))
	if r.cfg.Verbose {
		r.log.Debugf("iteration %d response: %s", i, resp)
	}
	return nil
}

// observe takes one memory sample and mirrors it into the gauges and the
// progress log.
func (r *Runner) observe(ctx context.Context, iteration int) {
	s := r.watcher.Sample(ctx, iteration)
	r.metrics.HeapAllocBytes.Set(float64(s.HeapAllocBytes))
	r.metrics.RSSBytes.Set(float64(s.RSSBytes))
	r.log.Infow("progress",
		"iteration", iteration,
		"repetitions", r.cfg.Repetitions,
		"heapAllocBytes", s.HeapAllocBytes,
		"rssBytes", s.RSSBytes)
}

func (r *Runner) waitReady(ctx context.Context, shared client.Client, report *Report) error {
	c := shared
	if c == nil {
		var err error
		if c, err = r.buildClient(report); err != nil {
			return errors.Wrap(err, "unable to build readiness client")
		}
		defer r.closeClient(c)
	}
	return client.WaitForReady(ctx, c, r.cfg.ModelName, r.cfg.ModelVersion, r.cfg.ReadyTimeout, r.log)
}

func (r *Runner) buildClient(report *Report) (client.Client, error) {
	c, err := r.newClient()
	if err != nil {
		return nil, err
	}
	report.ClientsBuilt++
	r.metrics.ClientsBuilt.Inc()
	return c, nil
}

func (r *Runner) closeClient(c client.Client) {
	if err := c.Close(); err != nil {
		r.log.Warnw("unable to close client", "error", err)
	}
}

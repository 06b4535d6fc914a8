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

package soak

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kserve/inference-soak/pkg/client"
	"github.com/kserve/inference-soak/pkg/identity"
	"github.com/kserve/inference-soak/pkg/oip"
)

const fixtureModel = "custom_identity_int32"

func startFixture(t *testing.T) (*identity.Server, *httptest.Server) {
	t.Helper()
	s := identity.New(fixtureModel, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, srv
}

func fixtureConfig(url string) *Config {
	return &Config{
		Protocol:      "http",
		URL:           url,
		ModelName:     fixtureModel,
		Repetitions:   5,
		MaxRetries:    2,
		RetryInterval: time.Millisecond,
		SampleEvery:   1,
	}
}

func newTestRunner(cfg *Config) (*Runner, *Metrics) {
	m := NewMetrics(prometheus.NewRegistry())
	return NewRunner(cfg, zap.NewNop().Sugar(), m, nil), m
}

func TestRunnerCompletes(t *testing.T) {
	s, srv := startFixture(t)
	cfg := fixtureConfig(srv.URL)
	r, m := newTestRunner(cfg)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 5, report.Iterations)
	assert.Equal(t, 5, report.ClientsBuilt)
	assert.Equal(t, 0, report.Retries)
	assert.True(t, report.Passed())
	assert.Greater(t, report.WallSeconds, float64(0))
	// Baseline sample plus one per iteration.
	assert.Equal(t, 6, report.Growth.Samples)
	assert.Equal(t, int64(5), s.InferCount())
	assert.Equal(t, float64(5), testutil.ToFloat64(m.Requests))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.ClientsBuilt))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Failures))
	// 64 bytes out and 64 back per iteration.
	assert.Equal(t, float64(5*128), testutil.ToFloat64(m.PayloadBytes))
}

func TestRunnerReusesClient(t *testing.T) {
	s, srv := startFixture(t)
	cfg := fixtureConfig(srv.URL)
	cfg.ReuseClient = true
	r, m := newTestRunner(cfg)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Iterations)
	assert.Equal(t, 1, report.ClientsBuilt)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ClientsBuilt))
	assert.Equal(t, int64(5), s.InferCount())
}

func TestRunnerBinaryData(t *testing.T) {
	_, srv := startFixture(t)
	cfg := fixtureConfig(srv.URL)
	cfg.BinaryData = true
	r, _ := newTestRunner(cfg)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Passed())
}

func TestRunnerSampleCadence(t *testing.T) {
	_, srv := startFixture(t)
	cfg := fixtureConfig(srv.URL)
	cfg.SampleEvery = 2
	r, _ := newTestRunner(cfg)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	// Baseline, iterations 2 and 4, and the always sampled final iteration.
	assert.Equal(t, 4, report.Growth.Samples)
}

func TestRunnerRetriesInjectedFaults(t *testing.T) {
	s, srv := startFixture(t)
	s.SetFaults(identity.Faults{FailFirst: 2})
	cfg := fixtureConfig(srv.URL)
	r, m := newTestRunner(cfg)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Iterations)
	assert.Equal(t, 2, report.Retries)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Retries))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.Failures))
	assert.Equal(t, int64(7), s.InferCount())
}

func TestRunnerAbortsWhenRetriesExhausted(t *testing.T) {
	s, srv := startFixture(t)
	s.SetFaults(identity.Faults{FailFirst: 100})
	cfg := fixtureConfig(srv.URL)
	r, m := newTestRunner(cfg)

	report, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inference failed on iteration 0")
	assert.Equal(t, 0, report.Iterations)
	assert.False(t, report.Passed())
	assert.NotEmpty(t, report.FailureReason)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Failures))
	// Initial attempt plus the two-retry budget.
	assert.Equal(t, int64(3), s.InferCount())
}

func TestRunnerAbortsOnValidationFailure(t *testing.T) {
	s, srv := startFixture(t)
	s.SetFaults(identity.Faults{CorruptData: true})
	cfg := fixtureConfig(srv.URL)
	r, m := newTestRunner(cfg)

	report, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "response validation failed on iteration 0")
	assert.Contains(t, err.Error(), "incorrect output values")
	assert.Equal(t, 0, report.Iterations)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ValidationFailures))
}

func TestRunnerInterrupted(t *testing.T) {
	_, srv := startFixture(t)
	cfg := fixtureConfig(srv.URL)
	r, _ := newTestRunner(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err := r.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run interrupted")
	assert.Equal(t, 0, report.Iterations)
	assert.False(t, report.Passed())
}

func TestRunnerWaitReady(t *testing.T) {
	_, srv := startFixture(t)
	cfg := fixtureConfig(srv.URL)
	cfg.WaitReady = true
	cfg.ReadyTimeout = time.Minute
	r, _ := newTestRunner(cfg)

	report, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Iterations)
	// One readiness client on top of the per-iteration ones.
	assert.Equal(t, 6, report.ClientsBuilt)
}

func TestRunnerWaitReadyGivesUp(t *testing.T) {
	s, srv := startFixture(t)
	s.SetReady(false)
	cfg := fixtureConfig(srv.URL)
	cfg.WaitReady = true
	cfg.ReadyTimeout = 50 * time.Millisecond
	r, _ := newTestRunner(cfg)

	report, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not become ready")
	assert.Equal(t, 0, report.Iterations)
}

func TestRunnerClientFactoryError(t *testing.T) {
	_, srv := startFixture(t)
	cfg := fixtureConfig(srv.URL)
	r, _ := newTestRunner(cfg)
	r.SetClientFactory(func() (client.Client, error) {
		return nil, errors.New("connection refused")
	})

	report, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unable to build client on iteration 0")
	assert.Equal(t, 0, report.ClientsBuilt)
}

// leakyClient retains one touched buffer per inference, simulating the
// client-side leak the soak exists to catch.
type leakyClient struct {
	client.Client
	sink *[][]byte
}

func (l *leakyClient) Infer(ctx context.Context, req *oip.InferRequest) (*oip.InferResponse, error) {
	buf := make([]byte, 4<<20)
	for i := range buf {
		buf[i] = byte(i)
	}
	*l.sink = append(*l.sink, buf)
	return l.Client.Infer(ctx, req)
}

func TestRunnerGrowthVerdict(t *testing.T) {
	_, srv := startFixture(t)
	cfg := fixtureConfig(srv.URL)
	cfg.Repetitions = 10
	cfg.FailOnGrowth = 1024
	cfg.GCBeforeSample = true
	r, _ := newTestRunner(cfg)

	var sink [][]byte
	r.SetClientFactory(func() (client.Client, error) {
		inner, err := client.New(client.ProtocolHTTP, client.Options{URL: srv.URL})
		if err != nil {
			return nil, err
		}
		return &leakyClient{Client: inner, sink: &sink}, nil
	})

	report, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory grew")
	assert.True(t, report.GrowthExceeded)
	assert.False(t, report.Passed())
	assert.Equal(t, 10, report.Iterations)
	assert.Len(t, sink, 10)
}

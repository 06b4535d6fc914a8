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
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	validator "gopkg.in/go-playground/validator.v9"

	"github.com/kserve/inference-soak/pkg/client"
)

var validate = validator.New()

// Config captures every knob of a soak run. Values resolve in three layers:
// struct defaults, SOAK_ environment variables, then command line flags.
type Config struct {
	// Protocol is the wire protocol, http or grpc.
	Protocol string `envconfig:"PROTOCOL" default:"http" validate:"oneof=http grpc"`
	// URL is the server endpoint; empty picks the protocol's default.
	URL string `envconfig:"URL"`
	// ModelName is the identity model to exercise.
	ModelName string `envconfig:"MODEL_NAME" default:"custom_identity_int32" validate:"required"`
	// ModelVersion is the model version; empty lets the server choose.
	ModelVersion string `envconfig:"MODEL_VERSION"`
	// Repetitions is how many sequential inferences to run.
	Repetitions int `envconfig:"REPETITIONS" default:"100" validate:"min=0"`
	// ReuseClient keeps one client for the whole run. The default builds
	// and closes a fresh client every repetition, which is the actual
	// leak probe.
	ReuseClient bool `envconfig:"REUSE_CLIENT"`
	// Verbose switches logging to debug level and turns on per-request
	// client logs.
	Verbose bool `envconfig:"VERBOSE"`
	// Timeout bounds each request; zero means no client-side deadline.
	Timeout time.Duration `envconfig:"TIMEOUT" validate:"min=0"`
	// MaxRetries is the retry budget per request on top of the initial
	// attempt.
	MaxRetries int `envconfig:"MAX_RETRIES" default:"5" validate:"min=0"`
	// RetryInterval is the constant sleep before each retry.
	RetryInterval time.Duration `envconfig:"RETRY_INTERVAL" default:"60s" validate:"min=0"`
	// BinaryData moves REST tensors with the binary extension instead of
	// JSON arrays. Ignored for grpc, which is always binary.
	BinaryData bool `envconfig:"BINARY_DATA"`

	// SampleEvery takes a memory sample every N iterations.
	SampleEvery int `envconfig:"SAMPLE_EVERY" default:"1" validate:"min=1"`
	// GCBeforeSample forces a GC pass before each sample.
	GCBeforeSample bool `envconfig:"GC_BEFORE_SAMPLE" default:"true"`
	// MemProfile, when set, receives the sample series as CSV.
	MemProfile string `envconfig:"MEM_PROFILE"`
	// ServerMetricsURL, when set, is a Prometheus endpoint scraped for the
	// server's resident set next to each local sample.
	ServerMetricsURL string `envconfig:"SERVER_METRICS_URL"`
	// FailOnGrowth fails the run when the estimated growth exceeds this
	// many bytes per iteration. Zero keeps the estimate advisory.
	FailOnGrowth float64 `envconfig:"FAIL_ON_GROWTH" validate:"min=0"`

	// ReportURL, when set, receives the end-of-run report as a CloudEvent.
	ReportURL string `envconfig:"REPORT_URL"`
	// DiagAddr, when set, serves /metrics and /debug/pprof during the run.
	DiagAddr string `envconfig:"DIAG_ADDR"`
	// WaitReady polls server and model readiness before the loop starts.
	WaitReady bool `envconfig:"WAIT_READY"`
	// ReadyTimeout bounds the readiness poll; zero waits indefinitely.
	ReadyTimeout time.Duration `envconfig:"READY_TIMEOUT" default:"2m" validate:"min=0"`
}

// Load resolves the configuration from struct defaults and SOAK_ environment
// variables. Flag bindings layer on top in the command.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("soak", cfg); err != nil {
		return nil, errors.Wrap(err, "unable to read environment configuration")
	}
	return cfg, nil
}

// Complete fills derived defaults once all layers have been applied.
func (c *Config) Complete() {
	c.Protocol = strings.ToLower(c.Protocol)
	if c.URL == "" {
		if p, err := client.ParseProtocol(c.Protocol); err == nil {
			c.URL = client.DefaultURL(p)
		}
	}
}

// Validate rejects unusable configurations. The protocol check runs first so
// an unknown protocol reads as the usage error it is.
func (c *Config) Validate() error {
	if _, err := client.ParseProtocol(c.Protocol); err != nil {
		return err
	}
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// Proto returns the validated protocol.
func (c *Config) Proto() client.Protocol {
	p, _ := client.ParseProtocol(c.Protocol)
	return p
}

// ClientOptions translates the configuration into client options.
func (c *Config) ClientOptions(log *zap.SugaredLogger) client.Options {
	return client.Options{
		URL:        c.URL,
		Verbose:    c.Verbose,
		Timeout:    c.Timeout,
		BinaryData: c.BinaryData,
		Logger:     log,
	}
}

// RetryPolicy translates the configuration into the per-request retry
// policy.
func (c *Config) RetryPolicy() client.RetryPolicy {
	return client.RetryPolicy{MaxRetries: c.MaxRetries, Interval: c.RetryInterval}
}

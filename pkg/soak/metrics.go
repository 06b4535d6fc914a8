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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the run's Prometheus instruments, served by the diagnostics
// listener when one is configured.
type Metrics struct {
	Requests           prometheus.Counter
	Failures           prometheus.Counter
	Retries            prometheus.Counter
	ValidationFailures prometheus.Counter
	PayloadBytes       prometheus.Counter
	ClientsBuilt       prometheus.Counter
	HeapAllocBytes     prometheus.Gauge
	RSSBytes           prometheus.Gauge
}

// NewMetrics builds and registers the instruments. A nil registerer leaves
// them on a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounter(prometheus.CounterOpts{
			Name: "soak_requests_total",
			Help: "Inference requests issued, retries excluded.",
		}),
		Failures: f.NewCounter(prometheus.CounterOpts{
			Name: "soak_request_failures_total",
			Help: "Requests that failed after exhausting the retry budget.",
		}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Name: "soak_request_retries_total",
			Help: "Retry attempts across all requests.",
		}),
		ValidationFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "soak_validation_failures_total",
			Help: "Responses that failed echo validation.",
		}),
		PayloadBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "soak_payload_bytes_total",
			Help: "Tensor bytes moved in both directions.",
		}),
		ClientsBuilt: f.NewCounter(prometheus.CounterOpts{
			Name: "soak_clients_built_total",
			Help: "Clients constructed over the run.",
		}),
		HeapAllocBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "soak_heap_alloc_bytes",
			Help: "Go heap allocation at the last memory sample.",
		}),
		RSSBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "soak_rss_bytes",
			Help: "Resident set size at the last memory sample.",
		}),
	}
}

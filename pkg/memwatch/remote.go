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

package memwatch

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	io_prometheus_client "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// serverRSSMetric is the process metric every Prometheus client library
// exports for resident set size.
const serverRSSMetric = "process_resident_memory_bytes"

const scrapeTimeout = 5 * time.Second

// RemoteSampler scrapes a Prometheus exposition endpoint and pulls the
// serving process's resident set out of it, so server-side growth can be
// recorded next to the client-side series.
type RemoteSampler struct {
	url    string
	metric string
	client *http.Client
}

// NewRemoteSampler builds a sampler for a metrics URL. host:port and bare
// URLs are completed to http://.../metrics.
func NewRemoteSampler(url string) *RemoteSampler {
	if !strings.Contains(url, "://") {
		url = "http://" + url
	}
	if !strings.Contains(url[strings.Index(url, "://")+3:], "/") {
		url += "/metrics"
	}
	return &RemoteSampler{
		url:    url,
		metric: serverRSSMetric,
		client: &http.Client{Timeout: scrapeTimeout},
	}
}

// ResidentMemory scrapes the endpoint once and returns the metric in bytes.
func (r *RemoteSampler) ResidentMemory(ctx context.Context) (uint64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return 0, errors.Wrap(err, "unable to build scrape request")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "unable to scrape %s", r.url)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, errors.Errorf("scrape of %s failed: %s", r.url, resp.Status)
	}
	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(resp.Body)
	if err != nil {
		return 0, errors.Wrap(err, "unable to parse metrics exposition")
	}
	family, ok := families[r.metric]
	if !ok || len(family.GetMetric()) == 0 {
		return 0, errors.Errorf("metric %s not exposed by %s", r.metric, r.url)
	}
	return uint64(metricValue(family.GetMetric()[0])), nil
}

func metricValue(m *io_prometheus_client.Metric) float64 {
	switch {
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	default:
		return m.GetUntyped().GetValue()
	}
}

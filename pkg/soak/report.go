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

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kserve/inference-soak/pkg/memwatch"
)

const (
	reportEventType   = "org.kubeflow.serving.soak.report"
	reportEventSource = "inference-soak"
)

// Report is the end-of-run summary.
type Report struct {
	RunID          string          `json:"run_id"`
	Protocol       string          `json:"protocol"`
	URL            string          `json:"url"`
	ModelName      string          `json:"model_name"`
	Repetitions    int             `json:"repetitions"`
	Iterations     int             `json:"iterations_completed"`
	ReuseClient    bool            `json:"reuse_client"`
	ClientsBuilt   int             `json:"clients_built"`
	Retries        int             `json:"retries"`
	WallSeconds    float64         `json:"wall_seconds"`
	Growth         memwatch.Growth `json:"growth"`
	GrowthExceeded bool            `json:"growth_exceeded"`
	FailureReason  string          `json:"failure_reason,omitempty"`
}

// Passed reports whether the run completed every iteration cleanly and the
// growth verdict, if armed, stayed under the limit.
func (r *Report) Passed() bool {
	return r.FailureReason == "" && !r.GrowthExceeded && r.Iterations == r.Repetitions
}

// Log renders the summary and the verdict.
func (r *Report) Log(log *zap.SugaredLogger) {
	log.Infow("soak summary",
		"runID", r.RunID,
		"protocol", r.Protocol,
		"url", r.URL,
		"model", r.ModelName,
		"iterations", r.Iterations,
		"repetitions", r.Repetitions,
		"reuseClient", r.ReuseClient,
		"clientsBuilt", r.ClientsBuilt,
		"retries", r.Retries,
		"wallSeconds", r.WallSeconds,
		"heapBytesPerIteration", r.Growth.HeapPerIteration,
		"rssBytesPerIteration", r.Growth.RSSPerIteration,
		"heapGrowthBytes", r.Growth.HeapTotalBytes,
		"rssGrowthBytes", r.Growth.RSSTotalBytes,
	)
	if r.Passed() {
		log.Info("soak passed")
	} else {
		log.Errorw("soak failed", "reason", r.FailureReason, "growthExceeded", r.GrowthExceeded)
	}
}

// Publish delivers the report as a CloudEvent to target.
func (r *Report) Publish(ctx context.Context, target string) error {
	c, err := cloudevents.NewClientHTTP()
	if err != nil {
		return errors.Wrap(err, "unable to build CloudEvents client")
	}
	event := cloudevents.NewEvent()
	event.SetID(r.RunID)
	event.SetType(reportEventType)
	event.SetSource(reportEventSource)
	if err := event.SetData(cloudevents.ApplicationJSON, r); err != nil {
		return errors.Wrap(err, "unable to encode report")
	}
	if result := c.Send(cloudevents.ContextWithTarget(ctx, target), event); cloudevents.IsUndelivered(result) {
		return errors.Wrapf(result, "unable to deliver report to %s", target)
	}
	return nil
}

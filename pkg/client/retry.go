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

package client

import (
	"context"
	"fmt"
	"time"

	backoff "github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kserve/inference-soak/pkg/oip"
)

const readyPollInterval = time.Second

// RetryPolicy bounds the sleep-and-retry wrapper around a single request:
// one initial attempt plus up to MaxRetries retries, sleeping Interval
// before each retry.
type RetryPolicy struct {
	MaxRetries int
	Interval   time.Duration
}

// DefaultRetryPolicy returns the long-standing diagnostic defaults: five
// retries spaced a minute apart, long enough for sockets stuck in TIME_WAIT
// to drain between attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 5, Interval: 60 * time.Second}
}

// InferWithRetries runs one inference through c under the given policy and
// reports how many attempts it took. Every failure is considered retryable;
// once the budget is spent the last error comes back. Context cancellation
// cuts the wait short.
func InferWithRetries(ctx context.Context, c Client, req *oip.InferRequest, policy RetryPolicy, log *zap.SugaredLogger) (*oip.InferResponse, int, error) {
	tries := 0
	op := func() (*oip.InferResponse, error) {
		tries++
		return c.Infer(ctx, req)
	}
	notify := func(err error, next time.Duration) {
		log.Warnw("infer attempt failed, retrying",
			"attempt", fmt.Sprintf("%d/%d", tries, policy.MaxRetries+1),
			"sleep", next,
			"error", err)
	}
	// The retry budget is attempt-counted, not wall-clock bounded.
	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(policy.Interval)),
		backoff.WithMaxTries(uint(policy.MaxRetries)+1),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify))
	return resp, tries, err
}

// WaitForReady blocks until the server reports live and ready and the model
// reports ready, polling once a second. A zero timeout polls until ctx is
// done.
func WaitForReady(ctx context.Context, c Client, modelName, modelVersion string, timeout time.Duration, log *zap.SugaredLogger) error {
	check := func() (bool, error) {
		if live, err := c.IsServerLive(ctx); err != nil {
			return false, err
		} else if !live {
			return false, errors.New("server is not live")
		}
		if ready, err := c.IsServerReady(ctx); err != nil {
			return false, err
		} else if !ready {
			return false, errors.New("server is not ready")
		}
		if ready, err := c.IsModelReady(ctx, modelName, modelVersion); err != nil {
			return false, err
		} else if !ready {
			return false, errors.Errorf("model '%s' is not ready", modelName)
		}
		return true, nil
	}
	opts := []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(readyPollInterval)),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debugw("server not ready yet", "sleep", next, "error", err)
		}),
	}
	if _, err := backoff.Retry(ctx, check, opts...); err != nil {
		return errors.Wrap(err, "server did not become ready")
	}
	log.Infow("server is ready", "model", modelName)
	return nil
}

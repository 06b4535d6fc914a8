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
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/kserve/inference-soak/pkg/oip"
)

// maxErrorBodyBytes caps how much of an error response body gets read for
// the error message.
const maxErrorBodyBytes = 16 * 1024

// restClient speaks the REST flavor of the v2 protocol. Every instance owns
// its own transport and connection pool, so constructing one per iteration
// allocates and tears down real resources rather than sharing a global pool.
type restClient struct {
	base      *url.URL
	client    *http.Client
	transport *http.Transport
	binary    bool
	verbose   bool
	log       *zap.SugaredLogger
}

func newRESTClient(opts Options) (*restClient, error) {
	raw := opts.URL
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to parse server url '%s'", opts.URL)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, errors.Errorf("unsupported scheme '%s' in server url '%s'", base.Scheme, opts.URL)
	}
	base.Path = strings.TrimSuffix(base.Path, "/")
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &restClient{
		base:      base,
		transport: transport,
		client:    &http.Client{Transport: transport, Timeout: opts.Timeout},
		binary:    opts.BinaryData,
		verbose:   opts.Verbose,
		log:       opts.logger(),
	}, nil
}

func (c *restClient) Infer(ctx context.Context, req *oip.InferRequest) (*oip.InferResponse, error) {
	body, jsonLen, err := oip.MarshalInferRequest(req, c.binary)
	if err != nil {
		return nil, errors.Wrap(err, "unable to encode infer request")
	}
	target := c.endpoint(inferPath(req.ModelName, req.ModelVersion))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "unable to build infer request")
	}
	if jsonLen < len(body) {
		httpReq.Header.Set("Content-Type", "application/octet-stream")
		httpReq.Header.Set(oip.InferHeaderContentLengthHTTPHeader, strconv.Itoa(jsonLen))
	} else {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if c.verbose {
		c.log.Debugw("sending infer request", "url", target, "id", req.ID, "bytes", len(body))
	}
	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "infer request failed")
	}
	defer httpResp.Body.Close()
	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read infer response")
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("infer request failed: %s", serverError(httpResp, respBody))
	}
	respJSONLen := 0
	if v := httpResp.Header.Get(oip.InferHeaderContentLengthHTTPHeader); v != "" {
		respJSONLen, err = strconv.Atoi(v)
		if err != nil {
			return nil, errors.Wrapf(err, "malformed %s header '%s'", oip.InferHeaderContentLengthHTTPHeader, v)
		}
	}
	resp, err := oip.UnmarshalInferResponse(respBody, respJSONLen)
	if err != nil {
		return nil, errors.Wrap(err, "unable to decode infer response")
	}
	if c.verbose {
		c.log.Debugw("received infer response", "id", resp.ID, "bytes", len(respBody))
	}
	return resp, nil
}

func (c *restClient) IsServerLive(ctx context.Context) (bool, error) {
	return c.probe(ctx, "/v2/health/live")
}

func (c *restClient) IsServerReady(ctx context.Context) (bool, error) {
	return c.probe(ctx, "/v2/health/ready")
}

func (c *restClient) IsModelReady(ctx context.Context, modelName, modelVersion string) (bool, error) {
	return c.probe(ctx, modelPath(modelName, modelVersion)+"/ready")
}

// probe issues one health GET. A reachable server answering anything but 200
// is reported as not live/ready rather than as an error; only transport
// failures surface as errors.
func (c *restClient) probe(ctx context.Context, path string) (bool, error) {
	target := c.endpoint(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return false, errors.Wrap(err, "unable to build health request")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, errors.Wrapf(err, "health request to %s failed", target)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
	if c.verbose {
		c.log.Debugw("health probe", "url", target, "status", resp.StatusCode)
	}
	return resp.StatusCode == http.StatusOK, nil
}

func (c *restClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

func (c *restClient) endpoint(path string) string {
	u := *c.base
	u.Path += path
	return u.String()
}

func modelPath(modelName, modelVersion string) string {
	p := "/v2/models/" + url.PathEscape(modelName)
	if modelVersion != "" {
		p += "/versions/" + url.PathEscape(modelVersion)
	}
	return p
}

func inferPath(modelName, modelVersion string) string {
	return modelPath(modelName, modelVersion) + "/infer"
}

// serverError digs the v2 error message out of an error response body and
// falls back to the HTTP status when there is none.
func serverError(resp *http.Response, body []byte) string {
	if len(body) > maxErrorBodyBytes {
		body = body[:maxErrorBodyBytes]
	}
	if msg := gjson.GetBytes(body, "error").String(); msg != "" {
		return msg
	}
	return resp.Status
}

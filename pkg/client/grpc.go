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
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/kserve/inference-soak/pkg/oip"
)

// grpcClient speaks the protobuf flavor of the v2 protocol over a dedicated
// grpc.ClientConn, encoding requests with the oip wire helpers and moving
// them through the connection with the raw passthrough codec.
type grpcClient struct {
	conn    *grpc.ClientConn
	timeout time.Duration
	verbose bool
	log     *zap.SugaredLogger
}

func newGRPCClient(opts Options) (*grpcClient, error) {
	log := opts.logger()
	target := opts.URL
	for _, scheme := range []string{"http://", "https://", "grpc://"} {
		if strings.HasPrefix(target, scheme) {
			target = strings.TrimPrefix(target, scheme)
			log.Warnf("gRPC endpoints take host:port, using '%s'", target)
			break
		}
	}
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(oip.RawCodec{})),
	}
	dialOpts = append(dialOpts, opts.DialOptions...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to connect to '%s'", target)
	}
	return &grpcClient{
		conn:    conn,
		timeout: opts.Timeout,
		verbose: opts.Verbose,
		log:     log,
	}, nil
}

func (c *grpcClient) Infer(ctx context.Context, req *oip.InferRequest) (*oip.InferResponse, error) {
	if c.verbose {
		c.log.Debugw("sending infer request", "method", oip.MethodModelInfer, "id", req.ID)
	}
	out, err := c.invoke(ctx, oip.MethodModelInfer, oip.MarshalModelInferRequest(req))
	if err != nil {
		return nil, errors.Wrap(err, "infer request failed")
	}
	resp, err := oip.UnmarshalModelInferResponse(out)
	if err != nil {
		return nil, errors.Wrap(err, "unable to decode infer response")
	}
	if c.verbose {
		c.log.Debugw("received infer response", "id", resp.ID, "bytes", len(out))
	}
	return resp, nil
}

func (c *grpcClient) IsServerLive(ctx context.Context) (bool, error) {
	out, err := c.invoke(ctx, oip.MethodServerLive, oip.MarshalServerLiveRequest())
	if err != nil {
		return false, errors.Wrap(err, "server live request failed")
	}
	return oip.UnmarshalBoolResponse(out)
}

func (c *grpcClient) IsServerReady(ctx context.Context) (bool, error) {
	out, err := c.invoke(ctx, oip.MethodServerReady, oip.MarshalServerReadyRequest())
	if err != nil {
		return false, errors.Wrap(err, "server ready request failed")
	}
	return oip.UnmarshalBoolResponse(out)
}

func (c *grpcClient) IsModelReady(ctx context.Context, modelName, modelVersion string) (bool, error) {
	out, err := c.invoke(ctx, oip.MethodModelReady, oip.MarshalModelReadyRequest(modelName, modelVersion))
	if err != nil {
		return false, errors.Wrap(err, "model ready request failed")
	}
	return oip.UnmarshalBoolResponse(out)
}

func (c *grpcClient) Close() error {
	return errors.Wrap(c.conn.Close(), "unable to close gRPC connection")
}

func (c *grpcClient) invoke(ctx context.Context, method string, body []byte) (oip.RawMessage, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	in := oip.RawMessage(body)
	var out oip.RawMessage
	if err := c.conn.Invoke(ctx, method, &in, &out); err != nil {
		return nil, err
	}
	return out, nil
}

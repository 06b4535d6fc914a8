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

// Package client provides synchronous Open Inference Protocol v2 clients
// over REST and gRPC. Both transports share one interface so callers can be
// pointed at either wire protocol by configuration alone; each New call
// builds a fully independent client with its own connection state, which is
// what lets the soak runner exercise repeated construction and teardown.
package client

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/kserve/inference-soak/pkg/oip"
)

// Protocol selects the wire protocol a client speaks.
type Protocol string

const (
	// ProtocolHTTP is the REST/JSON flavor of the v2 protocol.
	ProtocolHTTP Protocol = "http"
	// ProtocolGRPC is the protobuf flavor of the v2 protocol.
	ProtocolGRPC Protocol = "grpc"
)

// ParseProtocol maps a user supplied protocol name onto a Protocol,
// case-insensitively. Anything but http or grpc is an error.
func ParseProtocol(s string) (Protocol, error) {
	switch Protocol(strings.ToLower(s)) {
	case ProtocolHTTP:
		return ProtocolHTTP, nil
	case ProtocolGRPC:
		return ProtocolGRPC, nil
	default:
		return "", errors.Errorf("unexpected protocol '%s', expected http or grpc", s)
	}
}

// DefaultURL returns the conventional local endpoint for a protocol:
// localhost:8000 for REST and localhost:8001 for gRPC.
func DefaultURL(p Protocol) string {
	if p == ProtocolGRPC {
		return "localhost:8001"
	}
	return "localhost:8000"
}

// Client is a synchronous v2 inference client. Implementations are safe for
// sequential use; Close releases transport resources and must be called once
// the client is done with.
type Client interface {
	// Infer runs one blocking inference round trip.
	Infer(ctx context.Context, req *oip.InferRequest) (*oip.InferResponse, error)
	// IsServerLive reports the server liveness probe result.
	IsServerLive(ctx context.Context) (bool, error)
	// IsServerReady reports the server readiness probe result.
	IsServerReady(ctx context.Context) (bool, error)
	// IsModelReady reports readiness of one model version; an empty version
	// lets the server pick.
	IsModelReady(ctx context.Context, modelName, modelVersion string) (bool, error)
	// Close releases the client's transport resources.
	Close() error
}

// Options configures a client. The zero value is usable; URL falls back to
// DefaultURL for the chosen protocol.
type Options struct {
	// URL is the server endpoint. REST accepts host:port or a full URL and
	// assumes http:// when no scheme is given; gRPC wants host:port.
	URL string
	// Verbose turns on per-request debug logging inside the client.
	Verbose bool
	// Timeout bounds each request. Zero means no client-side deadline.
	Timeout time.Duration
	// BinaryData makes the REST client move tensors with the binary
	// extension instead of JSON data arrays.
	BinaryData bool
	// Logger receives client logs. Nil means silent.
	Logger *zap.SugaredLogger
	// DialOptions are appended to the gRPC dial options, mainly so tests
	// can inject an in-memory dialer.
	DialOptions []grpc.DialOption
}

func (o *Options) logger() *zap.SugaredLogger {
	if o.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return o.Logger
}

// New builds a client for the given protocol.
func New(p Protocol, opts Options) (Client, error) {
	if opts.URL == "" {
		opts.URL = DefaultURL(p)
	}
	switch p {
	case ProtocolHTTP:
		return newRESTClient(opts)
	case ProtocolGRPC:
		return newGRPCClient(opts)
	default:
		return nil, errors.Errorf("unexpected protocol '%s', expected http or grpc", p)
	}
}

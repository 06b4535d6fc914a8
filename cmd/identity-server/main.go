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

// identity-server is a loopback v2 inference endpoint for soak runs: it
// serves the REST and gRPC flavors of the protocol for one identity model
// and echoes every input tensor back as the requested outputs.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/kserve/inference-soak/pkg/identity"
)

const shutdownTimeout = 10 * time.Second

var (
	httpAddr  = flag.String("http-addr", ":8000", "Address for the REST endpoints")
	grpcAddr  = flag.String("grpc-addr", ":8001", "Address for the gRPC endpoints")
	modelName = flag.String("model-name", "custom_identity_int32", "Model name the server answers for")
	verbose   = flag.BoolP("verbose", "v", false, "Log at debug level")
)

func main() {
	flag.Parse()
	log, err := newLogger(*verbose)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	defer log.Sync()
	if err := run(log); err != nil {
		log.Errorw("identity server failed", "error", err)
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := identity.New(*modelName, log)

	httpSrv := &http.Server{
		Addr:    *httpAddr,
		Handler: h2c.NewHandler(s.Handler(), &http2.Server{}),
	}
	lis, err := net.Listen("tcp", *grpcAddr)
	if err != nil {
		return errors.Wrapf(err, "unable to listen on %s", *grpcAddr)
	}
	grpcSrv := s.NewGRPCServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infow("serving REST", "addr", *httpAddr, "model", *modelName)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "REST server failed")
		}
		return nil
	})
	g.Go(func() error {
		log.Infow("serving gRPC", "addr", *grpcAddr, "model", *modelName)
		return errors.Wrap(grpcSrv.Serve(lis), "gRPC server failed")
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		grpcSrv.GracefulStop()
		return httpSrv.Shutdown(sctx)
	})
	return g.Wait()
}

func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	zc := zap.NewProductionConfig()
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "unable to build logger")
	}
	return logger.Sugar(), nil
}

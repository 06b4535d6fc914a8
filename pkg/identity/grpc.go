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

package identity

import (
	"context"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kserve/inference-soak/pkg/oip"
)

// NewGRPCServer builds a grpc.Server with the raw codec installed and the
// inference service registered on it.
func (s *Server) NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.ForceServerCodec(oip.RawCodec{})}, opts...)
	gs := grpc.NewServer(opts...)
	s.RegisterGRPC(gs)
	return gs
}

// RegisterGRPC registers the inference service. The target server must run
// with grpc.ForceServerCodec(oip.RawCodec{}) so message bodies reach the
// handlers unencoded; NewGRPCServer takes care of that.
func (s *Server) RegisterGRPC(gs *grpc.Server) {
	gs.RegisterService(&inferenceServiceDesc, s)
}

// grpcFixture is the registration contract checked by RegisterService.
type grpcFixture interface {
	Infer(*oip.InferRequest) (*oip.InferResponse, error)
	Live() bool
	Ready() bool
	ModelReady(modelName, modelVersion string) bool
}

var inferenceServiceDesc = grpc.ServiceDesc{
	ServiceName: oip.GRPCServiceName,
	HandlerType: (*grpcFixture)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ServerLive", Handler: serverLiveHandler},
		{MethodName: "ServerReady", Handler: serverReadyHandler},
		{MethodName: "ModelReady", Handler: modelReadyHandler},
		{MethodName: "ModelInfer", Handler: modelInferHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "grpc_service.proto",
}

func serverLiveHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var in oip.RawMessage
	if err := dec(&in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return oip.RawMessage(oip.MarshalBoolResponse(srv.(*Server).Live())), nil
	}
	if interceptor == nil {
		return handler(ctx, &in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: oip.MethodServerLive}
	return interceptor(ctx, &in, info, handler)
}

func serverReadyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var in oip.RawMessage
	if err := dec(&in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return oip.RawMessage(oip.MarshalBoolResponse(srv.(*Server).Ready())), nil
	}
	if interceptor == nil {
		return handler(ctx, &in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: oip.MethodServerReady}
	return interceptor(ctx, &in, info, handler)
}

func modelReadyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var in oip.RawMessage
	if err := dec(&in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		name, version, err := oip.UnmarshalModelReadyRequest(*(req.(*oip.RawMessage)))
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return oip.RawMessage(oip.MarshalBoolResponse(srv.(*Server).ModelReady(name, version))), nil
	}
	if interceptor == nil {
		return handler(ctx, &in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: oip.MethodModelReady}
	return interceptor(ctx, &in, info, handler)
}

func modelInferHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	var in oip.RawMessage
	if err := dec(&in); err != nil {
		return nil, err
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).modelInfer(*(req.(*oip.RawMessage)))
	}
	if interceptor == nil {
		return handler(ctx, &in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: oip.MethodModelInfer}
	return interceptor(ctx, &in, info, handler)
}

func (s *Server) modelInfer(in oip.RawMessage) (interface{}, error) {
	req, err := oip.UnmarshalModelInferRequest(in)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	resp, err := s.Infer(req)
	if err != nil {
		return nil, status.Error(grpcCode(err), err.Error())
	}
	return oip.RawMessage(oip.MarshalModelInferResponse(resp)), nil
}

func grpcCode(err error) codes.Code {
	switch {
	case errors.Is(err, ErrModelNotFound):
		return codes.NotFound
	case errors.Is(err, ErrInjectedFault):
		return codes.Internal
	default:
		return codes.InvalidArgument
	}
}

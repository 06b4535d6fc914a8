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

// Package identity implements a loopback v2 inference fixture: a server that
// echoes every input tensor back as the requested outputs, the same contract
// as a custom identity model. It serves both wire protocols so round trips
// can be exercised without a real model server, and can inject faults so
// failure paths are testable.
package identity

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kserve/inference-soak/pkg/oip"
)

// ErrModelNotFound is returned for infer requests naming a model other than
// the one the server was built with.
var ErrModelNotFound = errors.New("model not found")

// ErrInjectedFault is the error behind FailFirst rejections.
var ErrInjectedFault = errors.New("injected fault")

// Faults makes the server misbehave on purpose.
type Faults struct {
	// FailFirst rejects the first N infer requests with ErrInjectedFault.
	FailFirst int
	// CorruptData flips the last byte of every echoed tensor.
	CorruptData bool
	// WrongShape reports every echoed tensor flattened to one dimension.
	WrongShape bool
	// WrongDatatype reports every echoed tensor as FP32.
	WrongDatatype bool
}

// Server is the identity model fixture shared by the REST and gRPC fronts.
type Server struct {
	modelName string
	log       *zap.SugaredLogger

	ready  atomic.Bool
	infers atomic.Int64

	mu     sync.Mutex
	faults Faults
}

// New builds a server for one model name. A nil logger means silent. The
// server starts ready.
func New(modelName string, log *zap.SugaredLogger) *Server {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{modelName: modelName, log: log}
	s.ready.Store(true)
	return s
}

// ModelName returns the model this server answers for.
func (s *Server) ModelName() string { return s.modelName }

// SetFaults replaces the active fault set.
func (s *Server) SetFaults(f Faults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = f
}

// SetReady flips the readiness the health endpoints report.
func (s *Server) SetReady(ready bool) { s.ready.Store(ready) }

// Live is always true while the server runs.
func (s *Server) Live() bool { return true }

// Ready reports the configured readiness.
func (s *Server) Ready() bool { return s.ready.Load() }

// ModelReady reports readiness of one model. Unknown models are never ready.
func (s *Server) ModelReady(modelName, modelVersion string) bool {
	return modelName == s.modelName && s.ready.Load()
}

// InferCount returns how many infer requests have been accepted, injected
// failures included.
func (s *Server) InferCount() int64 { return s.infers.Load() }

// Infer echoes the request's inputs back as its requested outputs. With no
// requested outputs every input is echoed. The response shares no memory
// with the request.
func (s *Server) Infer(req *oip.InferRequest) (*oip.InferResponse, error) {
	n := s.infers.Add(1)
	if req.ModelName != s.modelName {
		return nil, errors.Wrapf(ErrModelNotFound, "'%s'", req.ModelName)
	}
	s.mu.Lock()
	faults := s.faults
	s.mu.Unlock()
	if n <= int64(faults.FailFirst) {
		s.log.Debugw("rejecting request", "request", n, "failFirst", faults.FailFirst)
		return nil, errors.Wrapf(ErrInjectedFault, "request %d", n)
	}
	if len(req.Inputs) == 0 {
		return nil, errors.New("request carries no input tensors")
	}
	version := req.ModelVersion
	if version == "" {
		version = "1"
	}
	resp := &oip.InferResponse{ModelName: s.modelName, ModelVersion: version, ID: req.ID}
	if len(req.Outputs) == 0 {
		for _, in := range req.Inputs {
			resp.Outputs = append(resp.Outputs, s.echo(in, in.Name))
		}
		return resp, nil
	}
	for i, out := range req.Outputs {
		in := matchInput(req.Inputs, out.Name, i)
		if in == nil {
			return nil, errors.Errorf("no input tensor to echo for output '%s'", out.Name)
		}
		resp.Outputs = append(resp.Outputs, s.echo(in, out.Name))
	}
	return resp, nil
}

// echo copies one input into an output tensor and applies the active faults.
func (s *Server) echo(in *oip.InferInput, name string) *oip.InferOutput {
	s.mu.Lock()
	faults := s.faults
	s.mu.Unlock()
	out := &oip.InferOutput{
		Name:     name,
		Datatype: in.Datatype,
		Shape:    append([]int64(nil), in.Shape...),
		Raw:      append([]byte(nil), in.Raw...),
	}
	if faults.CorruptData && len(out.Raw) > 0 {
		out.Raw[len(out.Raw)-1] ^= 0xFF
	}
	if faults.WrongShape {
		out.Shape = []int64{oip.NumElements(in.Shape)}
	}
	if faults.WrongDatatype {
		out.Datatype = oip.TypeFp32
	}
	return out
}

// matchInput pairs a requested output with an input tensor: OUTPUTn maps to
// INPUTn when such an input exists, otherwise pairing is positional.
func matchInput(inputs []*oip.InferInput, outName string, pos int) *oip.InferInput {
	if want := strings.Replace(outName, "OUTPUT", "INPUT", 1); want != outName {
		for _, in := range inputs {
			if in.Name == want {
				return in
			}
		}
	}
	if pos < len(inputs) {
		return inputs[pos]
	}
	return nil
}

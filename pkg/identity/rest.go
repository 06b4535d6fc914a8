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
	"io"
	"net/http"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/kserve/inference-soak/pkg/oip"
)

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// Handler returns the REST front of the fixture: the v2 health and infer
// endpoints for both the versionless and versioned model paths.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/health/live", s.handleLive)
	mux.HandleFunc("GET /v2/health/ready", s.handleReady)
	mux.HandleFunc("GET /v2/models/{model}/ready", s.handleModelReady)
	mux.HandleFunc("GET /v2/models/{model}/versions/{version}/ready", s.handleModelReady)
	mux.HandleFunc("POST /v2/models/{model}/infer", s.handleInfer)
	mux.HandleFunc("POST /v2/models/{model}/versions/{version}/infer", s.handleInfer)
	return mux
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, s.Live())
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, s.Ready())
}

func (s *Server) handleModelReady(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, s.ModelReady(r.PathValue("model"), r.PathValue("version")))
}

func (s *Server) handleInfer(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "unable to read request body"))
		return
	}
	jsonLen := 0
	if v := r.Header.Get(oip.InferHeaderContentLengthHTTPHeader); v != "" {
		jsonLen, err = strconv.Atoi(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest,
				errors.Errorf("malformed %s header '%s'", oip.InferHeaderContentLengthHTTPHeader, v))
			return
		}
	}
	req, err := oip.UnmarshalInferRequest(body, jsonLen)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	req.ModelName = r.PathValue("model")
	req.ModelVersion = r.PathValue("version")
	resp, err := s.Infer(req)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, ErrModelNotFound) {
			code = http.StatusNotFound
		}
		s.writeError(w, code, err)
		return
	}
	binary := map[string]bool{}
	for _, out := range req.Outputs {
		binary[out.Name] = out.BinaryData
	}
	respBody, respJSONLen, err := oip.MarshalInferResponse(resp, func(name string) bool { return binary[name] })
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, errors.Wrap(err, "unable to encode response"))
		return
	}
	if respJSONLen < len(respBody) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set(oip.InferHeaderContentLengthHTTPHeader, strconv.Itoa(respJSONLen))
	} else {
		w.Header().Set("Content-Type", "application/json")
	}
	if _, err := w.Write(respBody); err != nil {
		s.log.Warnw("unable to write response", "error", err)
	}
}

func writeHealth(w http.ResponseWriter, ok bool) {
	if ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusBadRequest)
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.log.Debugw("request rejected", "status", code, "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	body, _ := jsonCodec.Marshal(map[string]string{"error": err.Error()})
	_, _ = w.Write(body)
}

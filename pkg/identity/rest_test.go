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
	"bytes"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/kserve/inference-soak/pkg/oip"
)

func postInfer(t *testing.T, srv *httptest.Server, path string, req *oip.InferRequest, binary bool) *http.Response {
	t.Helper()
	body, jsonLen, err := oip.MarshalInferRequest(req, binary)
	require.NoError(t, err)
	httpReq, err := http.NewRequest(http.MethodPost, srv.URL+path, bytes.NewReader(body))
	require.NoError(t, err)
	if jsonLen < len(body) {
		httpReq.Header.Set("Content-Type", "application/octet-stream")
		httpReq.Header.Set(oip.InferHeaderContentLengthHTTPHeader, strconv.Itoa(jsonLen))
	} else {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(httpReq)
	require.NoError(t, err)
	return resp
}

func readInferResponse(t *testing.T, resp *http.Response) *oip.InferResponse {
	t.Helper()
	defer resp.Body.Close()
	body := new(bytes.Buffer)
	_, err := body.ReadFrom(resp.Body)
	require.NoError(t, err)
	jsonLen := 0
	if v := resp.Header.Get(oip.InferHeaderContentLengthHTTPHeader); v != "" {
		jsonLen, err = strconv.Atoi(v)
		require.NoError(t, err)
	}
	out, err := oip.UnmarshalInferResponse(body.Bytes(), jsonLen)
	require.NoError(t, err)
	return out
}

func TestHandlerInferJSON(t *testing.T) {
	srv := httptest.NewServer(New(testModel, nil).Handler())
	defer srv.Close()

	resp := postInfer(t, srv, "/v2/models/"+testModel+"/infer", testRequest(t, testModel, "OUTPUT0"), false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	decoded := readInferResponse(t, resp)
	assert.Equal(t, testModel, decoded.ModelName)
	assert.Equal(t, "1", decoded.ModelVersion)
	require.Len(t, decoded.Outputs, 1)
	vals, err := decoded.Outputs[0].Int32Data()
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1, 2, 3}, vals)
}

func TestHandlerInferBinary(t *testing.T) {
	srv := httptest.NewServer(New(testModel, nil).Handler())
	defer srv.Close()

	req := testRequest(t, testModel)
	req.Outputs = []*oip.InferRequestedOutput{{Name: "OUTPUT0", BinaryData: true}}
	resp := postInfer(t, srv, "/v2/models/"+testModel+"/infer", req, true)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	assert.NotEmpty(t, resp.Header.Get(oip.InferHeaderContentLengthHTTPHeader))

	decoded := readInferResponse(t, resp)
	require.Len(t, decoded.Outputs, 1)
	vals, err := decoded.Outputs[0].Int32Data()
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1, 2, 3}, vals)
}

func TestHandlerInferVersionedPath(t *testing.T) {
	srv := httptest.NewServer(New(testModel, nil).Handler())
	defer srv.Close()

	resp := postInfer(t, srv, "/v2/models/"+testModel+"/versions/2/infer", testRequest(t, testModel, "OUTPUT0"), false)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decoded := readInferResponse(t, resp)
	assert.Equal(t, "2", decoded.ModelVersion)
}

func TestHandlerUnknownModel(t *testing.T) {
	srv := httptest.NewServer(New(testModel, nil).Handler())
	defer srv.Close()

	resp := postInfer(t, srv, "/v2/models/other_model/infer", testRequest(t, "other_model", "OUTPUT0"), false)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := new(bytes.Buffer)
	_, err := body.ReadFrom(resp.Body)
	require.NoError(t, err)
	msg := gjson.GetBytes(body.Bytes(), "error").String()
	assert.Contains(t, msg, "model not found")
}

func TestHandlerMalformedBody(t *testing.T) {
	srv := httptest.NewServer(New(testModel, nil).Handler())
	defer srv.Close()

	resp, err := srv.Client().Post(
		srv.URL+"/v2/models/"+testModel+"/infer", "application/json", bytes.NewReader([]byte("{")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandlerHealth(t *testing.T) {
	s := New(testModel, nil)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	get := func(path string) int {
		resp, err := srv.Client().Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, get("/v2/health/live"))
	assert.Equal(t, http.StatusOK, get("/v2/health/ready"))
	assert.Equal(t, http.StatusOK, get("/v2/models/"+testModel+"/ready"))
	assert.Equal(t, http.StatusBadRequest, get("/v2/models/other_model/ready"))

	s.SetReady(false)
	assert.Equal(t, http.StatusOK, get("/v2/health/live"))
	assert.Equal(t, http.StatusBadRequest, get("/v2/health/ready"))
	assert.Equal(t, http.StatusBadRequest, get("/v2/models/"+testModel+"/ready"))
}

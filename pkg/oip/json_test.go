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

package oip

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest(t *testing.T, binaryOutput bool) *InferRequest {
	t.Helper()
	in := NewInferInput("INPUT0", TypeInt32, []int64{1, 4})
	require.NoError(t, in.SetInt32Data([]int32{0, 1, 2, 3}))
	return &InferRequest{
		ModelName: "custom_identity_int32",
		ID:        "req-1",
		Inputs:    []*InferInput{in},
		Outputs:   []*InferRequestedOutput{{Name: "OUTPUT0", BinaryData: binaryOutput}},
	}
}

func TestInferRequestJSONRoundTrip(t *testing.T) {
	req := testRequest(t, false)
	body, jsonLen, err := MarshalInferRequest(req, false)
	require.NoError(t, err)
	assert.Equal(t, len(body), jsonLen)
	assert.Contains(t, string(body), `"data":[0,1,2,3]`)

	got, err := UnmarshalInferRequest(body, 0)
	require.NoError(t, err)
	require.Len(t, got.Inputs, 1)
	assert.Equal(t, "INPUT0", got.Inputs[0].Name)
	assert.Equal(t, TypeInt32, got.Inputs[0].Datatype)
	assert.Equal(t, []int64{1, 4}, got.Inputs[0].Shape)
	assert.Equal(t, req.Inputs[0].Raw, got.Inputs[0].Raw)
	require.Len(t, got.Outputs, 1)
	assert.False(t, got.Outputs[0].BinaryData)
}

func TestInferRequestBinaryRoundTrip(t *testing.T) {
	req := testRequest(t, true)
	body, jsonLen, err := MarshalInferRequest(req, true)
	require.NoError(t, err)
	require.Less(t, jsonLen, len(body))
	assert.Contains(t, string(body[:jsonLen]), `"binary_data_size":16`)
	assert.Contains(t, string(body[:jsonLen]), `"binary_data":true`)
	assert.Equal(t, req.Inputs[0].Raw, body[jsonLen:])

	got, err := UnmarshalInferRequest(body, jsonLen)
	require.NoError(t, err)
	require.Len(t, got.Inputs, 1)
	assert.Equal(t, req.Inputs[0].Raw, got.Inputs[0].Raw)
	require.Len(t, got.Outputs, 1)
	assert.True(t, got.Outputs[0].BinaryData)
}

func TestInferResponseJSONRoundTrip(t *testing.T) {
	in := NewInferInput("INPUT0", TypeInt32, []int64{1, 4})
	require.NoError(t, in.SetInt32Data([]int32{0, 1, 2, 3}))
	resp := &InferResponse{
		ModelName: "custom_identity_int32",
		ID:        "req-1",
		Outputs: []*InferOutput{
			{Name: "OUTPUT0", Datatype: TypeInt32, Shape: []int64{1, 4}, Raw: in.Raw},
		},
	}
	body, jsonLen, err := MarshalInferResponse(resp, nil)
	require.NoError(t, err)
	assert.Equal(t, len(body), jsonLen)

	got, err := UnmarshalInferResponse(body, 0)
	require.NoError(t, err)
	require.Len(t, got.Outputs, 1)
	vals, err := got.Outputs[0].Int32Data()
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 1, 2, 3}, vals)
}

func TestInferResponseBinaryRoundTrip(t *testing.T) {
	in := NewInferInput("INPUT0", TypeInt32, []int64{1, 4})
	require.NoError(t, in.SetInt32Data([]int32{0, 1, 2, 3}))
	resp := &InferResponse{
		ModelName: "custom_identity_int32",
		Outputs: []*InferOutput{
			{Name: "OUTPUT0", Datatype: TypeInt32, Shape: []int64{1, 4}, Raw: in.Raw},
		},
	}
	body, jsonLen, err := MarshalInferResponse(resp, func(string) bool { return true })
	require.NoError(t, err)
	require.Less(t, jsonLen, len(body))

	got, err := UnmarshalInferResponse(body, jsonLen)
	require.NoError(t, err)
	require.Len(t, got.Outputs, 1)
	assert.Equal(t, in.Raw, got.Outputs[0].Raw)
}

// A fixed-width binary tensor may omit binary_data_size; the size then comes
// from shape and datatype.
func TestBinaryTensorSizeInferredFromShape(t *testing.T) {
	header := `{"model_name":"m","outputs":[{"name":"OUTPUT0","datatype":"INT32","shape":[1,2]}]}`
	raw := []byte{1, 0, 0, 0, 2, 0, 0, 0}
	body := append([]byte(header), raw...)

	got, err := UnmarshalInferResponse(body, len(header))
	require.NoError(t, err)
	require.Len(t, got.Outputs, 1)
	assert.Equal(t, raw, got.Outputs[0].Raw)
}

func TestTrailingBinaryBytesRejected(t *testing.T) {
	header := `{"model_name":"m","outputs":[{"name":"OUTPUT0","datatype":"INT32","shape":[1,1]}]}`
	body := append([]byte(header), 1, 0, 0, 0, 0xAA)

	_, err := UnmarshalInferResponse(body, len(header))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trailing bytes")
}

func TestHeaderLengthBeyondBodyRejected(t *testing.T) {
	_, err := UnmarshalInferResponse([]byte(`{}`), 10)
	require.Error(t, err)
}

func TestInt64DataSurvivesJSON(t *testing.T) {
	big := int64(1)<<40 + 3
	body := []byte(`{"model_name":"m","outputs":[{"name":"OUTPUT0","datatype":"INT64","shape":[1],"data":[` +
		"1099511627779" + `]}]}`)
	got, err := UnmarshalInferResponse(body, 0)
	require.NoError(t, err)
	require.Len(t, got.Outputs, 1)
	require.Len(t, got.Outputs[0].Raw, 8)
	assert.Equal(t, uint64(big), binary.LittleEndian.Uint64(got.Outputs[0].Raw))
}

func TestBytesTensorJSONRoundTrip(t *testing.T) {
	var raw []byte
	for _, s := range []string{"ab", "c"} {
		raw = binary.LittleEndian.AppendUint32(raw, uint32(len(s)))
		raw = append(raw, s...)
	}
	resp := &InferResponse{
		ModelName: "m",
		Outputs: []*InferOutput{
			{Name: "OUTPUT0", Datatype: TypeBytes, Shape: []int64{2}, Raw: raw},
		},
	}
	body, _, err := MarshalInferResponse(resp, nil)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"data":["ab","c"]`)

	got, err := UnmarshalInferResponse(body, 0)
	require.NoError(t, err)
	assert.Equal(t, raw, got.Outputs[0].Raw)
}

func TestFp16NeedsBinaryExtension(t *testing.T) {
	resp := &InferResponse{
		Outputs: []*InferOutput{
			{Name: "OUTPUT0", Datatype: TypeFp16, Shape: []int64{1}, Raw: []byte{0, 0}},
		},
	}
	_, _, err := MarshalInferResponse(resp, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binary tensor extension")
}

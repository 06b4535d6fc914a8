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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestBoolResponseWire(t *testing.T) {
	assert.Equal(t, []byte{0x08, 0x01}, MarshalBoolResponse(true))
	assert.Empty(t, MarshalBoolResponse(false))

	v, err := UnmarshalBoolResponse([]byte{0x08, 0x01})
	require.NoError(t, err)
	assert.True(t, v)

	v, err = UnmarshalBoolResponse(nil)
	require.NoError(t, err)
	assert.False(t, v)
}

func TestModelInferRequestWireRoundTrip(t *testing.T) {
	req := testRequest(t, false)
	req.ModelVersion = "1"
	b := MarshalModelInferRequest(req)

	got, err := UnmarshalModelInferRequest(b)
	require.NoError(t, err)
	assert.Equal(t, "custom_identity_int32", got.ModelName)
	assert.Equal(t, "1", got.ModelVersion)
	assert.Equal(t, "req-1", got.ID)
	require.Len(t, got.Inputs, 1)
	assert.Equal(t, "INPUT0", got.Inputs[0].Name)
	assert.Equal(t, TypeInt32, got.Inputs[0].Datatype)
	assert.Equal(t, []int64{1, 4}, got.Inputs[0].Shape)
	assert.Equal(t, req.Inputs[0].Raw, got.Inputs[0].Raw)
	require.Len(t, got.Outputs, 1)
	assert.Equal(t, "OUTPUT0", got.Outputs[0].Name)
}

func TestModelInferRequestLeadingField(t *testing.T) {
	b := MarshalModelInferRequest(&InferRequest{ModelName: "m"})
	assert.Equal(t, []byte{0x0A, 0x01, 'm'}, b)
}

func TestModelInferResponseWireRoundTrip(t *testing.T) {
	in := NewInferInput("INPUT0", TypeInt32, []int64{1, 4})
	require.NoError(t, in.SetInt32Data([]int32{0, 1, 2, 3}))
	resp := &InferResponse{
		ModelName:    "custom_identity_int32",
		ModelVersion: "1",
		ID:           "req-1",
		Outputs: []*InferOutput{
			{Name: "OUTPUT0", Datatype: TypeInt32, Shape: []int64{1, 4}, Raw: in.Raw},
		},
	}
	b := MarshalModelInferResponse(resp)

	got, err := UnmarshalModelInferResponse(b)
	require.NoError(t, err)
	assert.Equal(t, resp.ModelName, got.ModelName)
	assert.Equal(t, resp.ID, got.ID)
	require.Len(t, got.Outputs, 1)
	assert.Equal(t, []int64{1, 4}, got.Outputs[0].Shape)
	assert.Equal(t, in.Raw, got.Outputs[0].Raw)
}

// Shapes may arrive unpacked, one varint field per dimension.
func TestUnpackedShapeAccepted(t *testing.T) {
	var tensor []byte
	tensor = protowire.AppendTag(tensor, tensorName, protowire.BytesType)
	tensor = protowire.AppendString(tensor, "OUTPUT0")
	tensor = protowire.AppendTag(tensor, tensorDatatype, protowire.BytesType)
	tensor = protowire.AppendString(tensor, "INT32")
	for _, d := range []int64{1, 4} {
		tensor = protowire.AppendTag(tensor, tensorShape, protowire.VarintType)
		tensor = protowire.AppendVarint(tensor, uint64(d))
	}
	var msg []byte
	msg = protowire.AppendTag(msg, inferRespOutputs, protowire.BytesType)
	msg = protowire.AppendBytes(msg, tensor)

	got, err := UnmarshalModelInferResponse(msg)
	require.NoError(t, err)
	require.Len(t, got.Outputs, 1)
	assert.Equal(t, []int64{1, 4}, got.Outputs[0].Shape)
}

// Tensor payloads may arrive in typed contents fields instead of the raw
// buffers; int_contents elements widen to the datatype's raw layout.
func TestContentsFieldDecoded(t *testing.T) {
	var contents []byte
	var packed []byte
	for _, v := range []int32{5, 6, 7} {
		packed = protowire.AppendVarint(packed, uint64(uint32(v)))
	}
	contents = protowire.AppendTag(contents, contentsInt, protowire.BytesType)
	contents = protowire.AppendBytes(contents, packed)

	var tensor []byte
	tensor = protowire.AppendTag(tensor, tensorName, protowire.BytesType)
	tensor = protowire.AppendString(tensor, "OUTPUT0")
	tensor = protowire.AppendTag(tensor, tensorDatatype, protowire.BytesType)
	tensor = protowire.AppendString(tensor, "INT32")
	tensor = protowire.AppendTag(tensor, tensorContents, protowire.BytesType)
	tensor = protowire.AppendBytes(tensor, contents)

	var msg []byte
	msg = protowire.AppendTag(msg, inferRespOutputs, protowire.BytesType)
	msg = protowire.AppendBytes(msg, tensor)

	got, err := UnmarshalModelInferResponse(msg)
	require.NoError(t, err)
	require.Len(t, got.Outputs, 1)
	vals, err := got.Outputs[0].Int32Data()
	require.NoError(t, err)
	assert.Equal(t, []int32{5, 6, 7}, vals)
}

func TestUnknownFieldsSkipped(t *testing.T) {
	b := MarshalModelInferResponse(&InferResponse{ModelName: "m"})
	b = protowire.AppendTag(b, 15, protowire.VarintType)
	b = protowire.AppendVarint(b, 42)

	got, err := UnmarshalModelInferResponse(b)
	require.NoError(t, err)
	assert.Equal(t, "m", got.ModelName)
}

func TestRawBufferCountMustMatchOutputs(t *testing.T) {
	var msg []byte
	msg = protowire.AppendTag(msg, inferRespRawOutputs, protowire.BytesType)
	msg = protowire.AppendBytes(msg, []byte{1, 2, 3, 4})

	_, err := UnmarshalModelInferResponse(msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "raw output buffers")
}

func TestModelReadyRequestWireRoundTrip(t *testing.T) {
	b := MarshalModelReadyRequest("custom_identity_int32", "2")
	name, version, err := UnmarshalModelReadyRequest(b)
	require.NoError(t, err)
	assert.Equal(t, "custom_identity_int32", name)
	assert.Equal(t, "2", version)
}

func TestTruncatedMessageRejected(t *testing.T) {
	b := MarshalModelInferRequest(testRequest(t, false))
	_, err := UnmarshalModelInferRequest(b[:len(b)-3])
	require.Error(t, err)
}

func TestRawCodec(t *testing.T) {
	codec := RawCodec{}
	assert.Equal(t, "proto", codec.Name())

	payload := RawMessage{1, 2, 3}
	b, err := codec.Marshal(payload)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, b)

	b, err = codec.Marshal(&payload)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, b)

	var out RawMessage
	require.NoError(t, codec.Unmarshal([]byte{4, 5}, &out))
	assert.Equal(t, RawMessage{4, 5}, out)

	_, err = codec.Marshal("not raw")
	require.Error(t, err)
	assert.Error(t, codec.Unmarshal(nil, "not raw"))
}

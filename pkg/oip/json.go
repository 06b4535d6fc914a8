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
	"bytes"
	"encoding/binary"
	"encoding/json"
	"math"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

// InferHeaderContentLengthHTTPHeader carries the length of the JSON part of a
// REST infer body when tensors ride behind it via the binary extension.
const InferHeaderContentLengthHTTPHeader = "Inference-Header-Content-Length"

const binaryDataSizeParameter = "binary_data_size"

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonParameters map[string]interface{}

type jsonTensor struct {
	Name       string         `json:"name"`
	Shape      []int64        `json:"shape"`
	Datatype   string         `json:"datatype"`
	Parameters jsonParameters `json:"parameters,omitempty"`
	Data       []interface{}  `json:"data,omitempty"`
}

type jsonRequestedOutput struct {
	Name       string         `json:"name"`
	Parameters jsonParameters `json:"parameters,omitempty"`
}

type jsonInferRequest struct {
	ID      string                `json:"id,omitempty"`
	Inputs  []jsonTensor          `json:"inputs"`
	Outputs []jsonRequestedOutput `json:"outputs,omitempty"`
}

type jsonInferResponse struct {
	ModelName    string       `json:"model_name"`
	ModelVersion string       `json:"model_version,omitempty"`
	ID           string       `json:"id,omitempty"`
	Outputs      []jsonTensor `json:"outputs"`
}

// MarshalInferRequest encodes req as a REST infer body. With binaryData set,
// every input tensor is appended raw after the JSON header and each requested
// output carries its binary_data preference; jsonLen is the header length for
// the Inference-Header-Content-Length header. Without it the whole body is
// JSON and jsonLen equals len(body).
func MarshalInferRequest(req *InferRequest, binaryData bool) (body []byte, jsonLen int, err error) {
	jr := jsonInferRequest{ID: req.ID}
	var raw [][]byte
	for _, in := range req.Inputs {
		jt := jsonTensor{Name: in.Name, Shape: in.Shape, Datatype: string(in.Datatype)}
		if binaryData {
			jt.Parameters = jsonParameters{binaryDataSizeParameter: len(in.Raw)}
			raw = append(raw, in.Raw)
		} else {
			jt.Data, err = dataFromRaw(in.Datatype, in.Raw)
			if err != nil {
				return nil, 0, errors.Wrapf(err, "unable to encode input '%s'", in.Name)
			}
		}
		jr.Inputs = append(jr.Inputs, jt)
	}
	for _, out := range req.Outputs {
		jo := jsonRequestedOutput{Name: out.Name}
		if binaryData && out.BinaryData {
			jo.Parameters = jsonParameters{"binary_data": true}
		}
		jr.Outputs = append(jr.Outputs, jo)
	}
	header, err := jsonCodec.Marshal(&jr)
	if err != nil {
		return nil, 0, err
	}
	if !binaryData {
		return header, len(header), nil
	}
	body = header
	for _, r := range raw {
		body = append(body, r...)
	}
	return body, len(header), nil
}

// UnmarshalInferRequest decodes a REST infer body. jsonLen is the value of
// the Inference-Header-Content-Length header; zero or negative means the
// whole body is JSON. The model name and version come from the URL, not the
// body, and are left empty.
func UnmarshalInferRequest(body []byte, jsonLen int) (*InferRequest, error) {
	header, binaryRegion, err := splitBody(body, jsonLen)
	if err != nil {
		return nil, err
	}
	var jr jsonInferRequest
	if err := decodeJSON(header, &jr); err != nil {
		return nil, errors.Wrap(err, "unable to parse infer request body")
	}
	req := &InferRequest{ID: jr.ID}
	for i := range jr.Inputs {
		jt := &jr.Inputs[i]
		in := &InferInput{Name: jt.Name, Datatype: DataType(jt.Datatype), Shape: jt.Shape}
		switch {
		case jt.Data != nil:
			in.Raw, err = rawFromData(in.Datatype, jt.Data)
			if err != nil {
				return nil, errors.Wrapf(err, "unable to decode input '%s'", jt.Name)
			}
		default:
			in.Raw, binaryRegion, err = takeBinary(jt, binaryRegion)
			if err != nil {
				return nil, err
			}
		}
		req.Inputs = append(req.Inputs, in)
	}
	if len(binaryRegion) != 0 {
		return nil, errors.Errorf("%d trailing bytes after the last binary input", len(binaryRegion))
	}
	for _, jo := range jr.Outputs {
		req.Outputs = append(req.Outputs, &InferRequestedOutput{
			Name:       jo.Name,
			BinaryData: boolParameter(jo.Parameters, "binary_data"),
		})
	}
	return req, nil
}

// MarshalInferResponse encodes resp as a REST infer body. binary reports, per
// output name, whether the tensor should ride the binary extension; a nil
// func means all-JSON. jsonLen equals len(body) when nothing went binary.
func MarshalInferResponse(resp *InferResponse, binary func(name string) bool) (body []byte, jsonLen int, err error) {
	jr := jsonInferResponse{ModelName: resp.ModelName, ModelVersion: resp.ModelVersion, ID: resp.ID}
	var raw [][]byte
	for _, out := range resp.Outputs {
		jt := jsonTensor{Name: out.Name, Shape: out.Shape, Datatype: string(out.Datatype)}
		if binary != nil && binary(out.Name) {
			jt.Parameters = jsonParameters{binaryDataSizeParameter: len(out.Raw)}
			raw = append(raw, out.Raw)
		} else {
			jt.Data, err = dataFromRaw(out.Datatype, out.Raw)
			if err != nil {
				return nil, 0, errors.Wrapf(err, "unable to encode output '%s'", out.Name)
			}
		}
		jr.Outputs = append(jr.Outputs, jt)
	}
	header, err := jsonCodec.Marshal(&jr)
	if err != nil {
		return nil, 0, err
	}
	body = header
	for _, r := range raw {
		body = append(body, r...)
	}
	return body, len(header), nil
}

// UnmarshalInferResponse decodes a REST infer response body, binary extension
// included. jsonLen follows the same convention as UnmarshalInferRequest.
func UnmarshalInferResponse(body []byte, jsonLen int) (*InferResponse, error) {
	header, binaryRegion, err := splitBody(body, jsonLen)
	if err != nil {
		return nil, err
	}
	var jr jsonInferResponse
	if err := decodeJSON(header, &jr); err != nil {
		return nil, errors.Wrap(err, "unable to parse infer response body")
	}
	resp := &InferResponse{ModelName: jr.ModelName, ModelVersion: jr.ModelVersion, ID: jr.ID}
	for i := range jr.Outputs {
		jt := &jr.Outputs[i]
		out := &InferOutput{Name: jt.Name, Datatype: DataType(jt.Datatype), Shape: jt.Shape}
		switch {
		case jt.Data != nil:
			out.Raw, err = rawFromData(out.Datatype, jt.Data)
			if err != nil {
				return nil, errors.Wrapf(err, "unable to decode output '%s'", jt.Name)
			}
		default:
			out.Raw, binaryRegion, err = takeBinary(jt, binaryRegion)
			if err != nil {
				return nil, err
			}
		}
		resp.Outputs = append(resp.Outputs, out)
	}
	if len(binaryRegion) != 0 {
		return nil, errors.Errorf("%d trailing bytes after the last binary output", len(binaryRegion))
	}
	return resp, nil
}

func splitBody(body []byte, jsonLen int) (header, binaryRegion []byte, err error) {
	if jsonLen <= 0 || jsonLen == len(body) {
		return body, nil, nil
	}
	if jsonLen > len(body) {
		return nil, nil, errors.Errorf("inference header length %d exceeds body length %d", jsonLen, len(body))
	}
	return body[:jsonLen], body[jsonLen:], nil
}

// takeBinary slices one tensor's worth of bytes off the binary region. The
// binary_data_size parameter wins; fixed-width tensors may omit it and fall
// back to the size implied by shape and datatype.
func takeBinary(jt *jsonTensor, binaryRegion []byte) (raw, rest []byte, err error) {
	size := -1
	if v, ok := jt.Parameters[binaryDataSizeParameter]; ok {
		size, err = intValue(v)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "tensor '%s' has a malformed %s", jt.Name, binaryDataSizeParameter)
		}
	} else if es := DataType(jt.Datatype).ElementSize(); es > 0 {
		size = int(NumElements(jt.Shape)) * es
	}
	if size < 0 {
		return nil, nil, errors.Errorf("tensor '%s' carries no data and no %s", jt.Name, binaryDataSizeParameter)
	}
	if size > len(binaryRegion) {
		return nil, nil, errors.Errorf("tensor '%s' wants %d binary bytes, only %d left", jt.Name, size, len(binaryRegion))
	}
	return binaryRegion[:size], binaryRegion[size:], nil
}

func boolParameter(p jsonParameters, name string) bool {
	v, ok := p[name]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

func intValue(v interface{}) (int, error) {
	switch n := v.(type) {
	case json.Number:
		i, err := strconv.Atoi(n.String())
		return i, err
	case float64:
		return int(n), nil
	default:
		return 0, errors.Errorf("expected a number, got %T", v)
	}
}

// decodeJSON parses with UseNumber so 64-bit tensor elements survive intact.
func decodeJSON(b []byte, v interface{}) error {
	dec := jsonCodec.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	return dec.Decode(v)
}

func dataFromRaw(dt DataType, raw []byte) ([]interface{}, error) {
	if dt == TypeBytes {
		return bytesDataFromRaw(raw)
	}
	es := dt.ElementSize()
	if es <= 0 {
		return nil, errors.Errorf("datatype '%s' requires the binary tensor extension", dt)
	}
	if dt == TypeFp16 {
		return nil, errors.New("FP16 tensors require the binary tensor extension")
	}
	if len(raw)%es != 0 {
		return nil, errors.Errorf("%d raw bytes is not a multiple of the %d-byte element size", len(raw), es)
	}
	data := make([]interface{}, 0, len(raw)/es)
	for off := 0; off < len(raw); off += es {
		b := raw[off:]
		switch dt {
		case TypeBool:
			data = append(data, b[0] != 0)
		case TypeUint8:
			data = append(data, b[0])
		case TypeInt8:
			data = append(data, int8(b[0]))
		case TypeUint16:
			data = append(data, binary.LittleEndian.Uint16(b))
		case TypeInt16:
			data = append(data, int16(binary.LittleEndian.Uint16(b)))
		case TypeUint32:
			data = append(data, binary.LittleEndian.Uint32(b))
		case TypeInt32:
			data = append(data, int32(binary.LittleEndian.Uint32(b)))
		case TypeUint64:
			data = append(data, binary.LittleEndian.Uint64(b))
		case TypeInt64:
			data = append(data, int64(binary.LittleEndian.Uint64(b)))
		case TypeFp32:
			data = append(data, math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case TypeFp64:
			data = append(data, math.Float64frombits(binary.LittleEndian.Uint64(b)))
		}
	}
	return data, nil
}

// bytesDataFromRaw splits length-prefixed BYTES elements into JSON strings.
func bytesDataFromRaw(raw []byte) ([]interface{}, error) {
	var data []interface{}
	for len(raw) > 0 {
		if len(raw) < 4 {
			return nil, errors.New("truncated BYTES element length prefix")
		}
		n := binary.LittleEndian.Uint32(raw)
		raw = raw[4:]
		if uint32(len(raw)) < n {
			return nil, errors.Errorf("BYTES element wants %d bytes, only %d left", n, len(raw))
		}
		data = append(data, string(raw[:n]))
		raw = raw[n:]
	}
	return data, nil
}

func rawFromData(dt DataType, data []interface{}) ([]byte, error) {
	if dt == TypeFp16 {
		return nil, errors.New("FP16 tensors require the binary tensor extension")
	}
	var raw []byte
	for i, v := range data {
		var err error
		raw, err = appendElement(raw, dt, v)
		if err != nil {
			return nil, errors.Wrapf(err, "element %d", i)
		}
	}
	return raw, nil
}

func appendElement(raw []byte, dt DataType, v interface{}) ([]byte, error) {
	if dt == TypeBytes {
		s, ok := v.(string)
		if !ok {
			return nil, errors.Errorf("BYTES element must be a string, got %T", v)
		}
		raw = binary.LittleEndian.AppendUint32(raw, uint32(len(s)))
		return append(raw, s...), nil
	}
	if dt == TypeBool {
		b, ok := v.(bool)
		if !ok {
			return nil, errors.Errorf("BOOL element must be a bool, got %T", v)
		}
		if b {
			return append(raw, 1), nil
		}
		return append(raw, 0), nil
	}
	num, ok := v.(json.Number)
	if !ok {
		return nil, errors.Errorf("expected a number, got %T", v)
	}
	switch dt {
	case TypeUint8, TypeUint16, TypeUint32, TypeUint64:
		u, err := strconv.ParseUint(num.String(), 10, 64)
		if err != nil {
			return nil, err
		}
		switch dt {
		case TypeUint8:
			raw = append(raw, uint8(u))
		case TypeUint16:
			raw = binary.LittleEndian.AppendUint16(raw, uint16(u))
		case TypeUint32:
			raw = binary.LittleEndian.AppendUint32(raw, uint32(u))
		default:
			raw = binary.LittleEndian.AppendUint64(raw, u)
		}
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64:
		i, err := strconv.ParseInt(num.String(), 10, 64)
		if err != nil {
			return nil, err
		}
		switch dt {
		case TypeInt8:
			raw = append(raw, uint8(int8(i)))
		case TypeInt16:
			raw = binary.LittleEndian.AppendUint16(raw, uint16(int16(i)))
		case TypeInt32:
			raw = binary.LittleEndian.AppendUint32(raw, uint32(int32(i)))
		default:
			raw = binary.LittleEndian.AppendUint64(raw, uint64(i))
		}
	case TypeFp32:
		f, err := strconv.ParseFloat(num.String(), 32)
		if err != nil {
			return nil, err
		}
		raw = binary.LittleEndian.AppendUint32(raw, math.Float32bits(float32(f)))
	case TypeFp64:
		f, err := strconv.ParseFloat(num.String(), 64)
		if err != nil {
			return nil, err
		}
		raw = binary.LittleEndian.AppendUint64(raw, math.Float64bits(f))
	default:
		return nil, errors.Errorf("unsupported datatype '%s'", dt)
	}
	return raw, nil
}

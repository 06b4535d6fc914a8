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

// The gRPC flavor of the protocol is spoken directly at the protobuf wire
// level with google.golang.org/protobuf/encoding/protowire, against the
// field numbers of the published GRPCInferenceService definition. That keeps
// the module free of generated stubs while staying byte-compatible with any
// conforming server. Parameters fields are skipped on decode and never
// written on encode; this tool has no use for them.

package oip

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// GRPCServiceName is the fully qualified protobuf service name.
const GRPCServiceName = "inference.GRPCInferenceService"

// Full method names for grpc.ClientConn.Invoke.
const (
	MethodServerLive  = "/inference.GRPCInferenceService/ServerLive"
	MethodServerReady = "/inference.GRPCInferenceService/ServerReady"
	MethodModelReady  = "/inference.GRPCInferenceService/ModelReady"
	MethodModelInfer  = "/inference.GRPCInferenceService/ModelInfer"
)

// ModelInferRequest field numbers.
const (
	inferReqModelName    = 1
	inferReqModelVersion = 2
	inferReqID           = 3
	inferReqInputs       = 5
	inferReqOutputs      = 6
	inferReqRawInputs    = 7
)

// ModelInferResponse field numbers.
const (
	inferRespModelName    = 1
	inferRespModelVersion = 2
	inferRespID           = 3
	inferRespOutputs      = 5
	inferRespRawOutputs   = 6
)

// InferInputTensor and InferOutputTensor share their header layout.
const (
	tensorName     = 1
	tensorDatatype = 2
	tensorShape    = 3
	tensorContents = 5
)

// InferTensorContents field numbers.
const (
	contentsBool   = 1
	contentsInt    = 2
	contentsInt64  = 3
	contentsUint   = 4
	contentsUint64 = 5
	contentsFp32   = 6
	contentsFp64   = 7
	contentsBytes  = 8
)

// MarshalModelInferRequest encodes req as an inference.ModelInferRequest.
// Tensor payloads always travel in raw_input_contents, one entry per input,
// the same layout the reference clients produce.
func MarshalModelInferRequest(req *InferRequest) []byte {
	var b []byte
	b = appendString(b, inferReqModelName, req.ModelName)
	b = appendString(b, inferReqModelVersion, req.ModelVersion)
	b = appendString(b, inferReqID, req.ID)
	for _, in := range req.Inputs {
		b = protowire.AppendTag(b, inferReqInputs, protowire.BytesType)
		b = protowire.AppendBytes(b, appendTensorHeader(nil, in.Name, in.Datatype, in.Shape))
	}
	for _, out := range req.Outputs {
		var msg []byte
		msg = appendString(msg, tensorName, out.Name)
		b = protowire.AppendTag(b, inferReqOutputs, protowire.BytesType)
		b = protowire.AppendBytes(b, msg)
	}
	for _, in := range req.Inputs {
		b = protowire.AppendTag(b, inferReqRawInputs, protowire.BytesType)
		b = protowire.AppendBytes(b, in.Raw)
	}
	return b
}

// UnmarshalModelInferRequest decodes an inference.ModelInferRequest, whether
// the payload rides in raw_input_contents or in typed contents fields.
func UnmarshalModelInferRequest(b []byte) (*InferRequest, error) {
	req := &InferRequest{}
	var raws [][]byte
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case inferReqModelName:
			req.ModelName = string(v)
		case inferReqModelVersion:
			req.ModelVersion = string(v)
		case inferReqID:
			req.ID = string(v)
		case inferReqInputs:
			name, dt, shape, raw, err := decodeTensor(v)
			if err != nil {
				return err
			}
			req.Inputs = append(req.Inputs, &InferInput{Name: name, Datatype: dt, Shape: shape, Raw: raw})
		case inferReqOutputs:
			name, err := decodeRequestedOutput(v)
			if err != nil {
				return err
			}
			req.Outputs = append(req.Outputs, &InferRequestedOutput{Name: name})
		case inferReqRawInputs:
			raws = append(raws, v)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "malformed ModelInferRequest")
	}
	if len(raws) > 0 {
		if len(raws) != len(req.Inputs) {
			return nil, errors.Errorf("%d raw input buffers for %d inputs", len(raws), len(req.Inputs))
		}
		for i, raw := range raws {
			req.Inputs[i].Raw = raw
		}
	}
	return req, nil
}

// MarshalModelInferResponse encodes resp as an inference.ModelInferResponse
// with all tensors in raw_output_contents.
func MarshalModelInferResponse(resp *InferResponse) []byte {
	var b []byte
	b = appendString(b, inferRespModelName, resp.ModelName)
	b = appendString(b, inferRespModelVersion, resp.ModelVersion)
	b = appendString(b, inferRespID, resp.ID)
	for _, out := range resp.Outputs {
		b = protowire.AppendTag(b, inferRespOutputs, protowire.BytesType)
		b = protowire.AppendBytes(b, appendTensorHeader(nil, out.Name, out.Datatype, out.Shape))
	}
	for _, out := range resp.Outputs {
		b = protowire.AppendTag(b, inferRespRawOutputs, protowire.BytesType)
		b = protowire.AppendBytes(b, out.Raw)
	}
	return b
}

// UnmarshalModelInferResponse decodes an inference.ModelInferResponse. When
// raw_output_contents is populated it is authoritative and must pair up with
// the outputs one to one.
func UnmarshalModelInferResponse(b []byte) (*InferResponse, error) {
	resp := &InferResponse{}
	var raws [][]byte
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case inferRespModelName:
			resp.ModelName = string(v)
		case inferRespModelVersion:
			resp.ModelVersion = string(v)
		case inferRespID:
			resp.ID = string(v)
		case inferRespOutputs:
			name, dt, shape, raw, err := decodeTensor(v)
			if err != nil {
				return err
			}
			resp.Outputs = append(resp.Outputs, &InferOutput{Name: name, Datatype: dt, Shape: shape, Raw: raw})
		case inferRespRawOutputs:
			raws = append(raws, v)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "malformed ModelInferResponse")
	}
	if len(raws) > 0 {
		if len(raws) != len(resp.Outputs) {
			return nil, errors.Errorf("%d raw output buffers for %d outputs", len(raws), len(resp.Outputs))
		}
		for i, raw := range raws {
			resp.Outputs[i].Raw = raw
		}
	}
	return resp, nil
}

// MarshalServerLiveRequest encodes an empty inference.ServerLiveRequest.
func MarshalServerLiveRequest() []byte { return []byte{} }

// MarshalServerReadyRequest encodes an empty inference.ServerReadyRequest.
func MarshalServerReadyRequest() []byte { return []byte{} }

// MarshalModelReadyRequest encodes an inference.ModelReadyRequest.
func MarshalModelReadyRequest(name, version string) []byte {
	var b []byte
	b = appendString(b, 1, name)
	b = appendString(b, 2, version)
	return b
}

// UnmarshalModelReadyRequest decodes an inference.ModelReadyRequest.
func UnmarshalModelReadyRequest(b []byte) (name, version string, err error) {
	err = eachField(b, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case 1:
			name = string(v)
		case 2:
			version = string(v)
		}
		return nil
	})
	if err != nil {
		return "", "", errors.Wrap(err, "malformed ModelReadyRequest")
	}
	return name, version, nil
}

// MarshalBoolResponse encodes the shared single-bool shape of the
// ServerLive, ServerReady and ModelReady responses.
func MarshalBoolResponse(v bool) []byte {
	if !v {
		return []byte{}
	}
	b := protowire.AppendTag(nil, 1, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(true))
}

// UnmarshalBoolResponse decodes the shared single-bool response shape.
func UnmarshalBoolResponse(b []byte) (bool, error) {
	var out bool
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		if num == 1 && typ == protowire.VarintType {
			out = protowire.DecodeBool(u)
		}
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "malformed liveness/readiness response")
	}
	return out, nil
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendTensorHeader(b []byte, name string, dt DataType, shape []int64) []byte {
	b = appendString(b, tensorName, name)
	b = appendString(b, tensorDatatype, string(dt))
	if len(shape) > 0 {
		var pk []byte
		for _, d := range shape {
			pk = protowire.AppendVarint(pk, uint64(d))
		}
		b = protowire.AppendTag(b, tensorShape, protowire.BytesType)
		b = protowire.AppendBytes(b, pk)
	}
	return b
}

// eachField walks the fields of one message. fn receives the raw bytes for
// length-delimited fields and the numeric value for the scalar wire types;
// unknown fields are passed through so callers can ignore them.
func eachField(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		var v []byte
		var u uint64
		switch typ {
		case protowire.BytesType:
			v, n = protowire.ConsumeBytes(b)
		case protowire.VarintType:
			u, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var u32 uint32
			u32, n = protowire.ConsumeFixed32(b)
			u = uint64(u32)
		case protowire.Fixed64Type:
			u, n = protowire.ConsumeFixed64(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		if err := fn(num, typ, v, u); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// decodeTensor parses an InferInputTensor or InferOutputTensor message. The
// returned raw bytes come from the contents field when present and are nil
// otherwise; datatype may arrive after contents on the wire, so contents are
// held back and converted once the whole message has been walked.
func decodeTensor(b []byte) (name string, dt DataType, shape []int64, raw []byte, err error) {
	var contents []byte
	err = eachField(b, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case tensorName:
			name = string(v)
		case tensorDatatype:
			dt = DataType(v)
		case tensorShape:
			switch typ {
			case protowire.BytesType:
				for len(v) > 0 {
					d, n := protowire.ConsumeVarint(v)
					if n < 0 {
						return protowire.ParseError(n)
					}
					shape = append(shape, int64(d))
					v = v[n:]
				}
			case protowire.VarintType:
				shape = append(shape, int64(u))
			}
		case tensorContents:
			contents = append(contents, v...)
		}
		return nil
	})
	if err != nil {
		return "", "", nil, nil, err
	}
	if contents != nil {
		raw, err = rawFromContents(dt, contents)
		if err != nil {
			return "", "", nil, nil, errors.Wrapf(err, "tensor '%s'", name)
		}
	}
	return name, dt, shape, raw, nil
}

func decodeRequestedOutput(b []byte) (string, error) {
	var name string
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		if num == tensorName {
			name = string(v)
		}
		return nil
	})
	return name, err
}

// rawFromContents flattens an InferTensorContents message into the little
// endian raw layout. The datatype decides the element width for the varint
// carried int and uint fields; INT8 and INT16 values share int_contents with
// INT32 but occupy one and two bytes raw.
func rawFromContents(dt DataType, b []byte) ([]byte, error) {
	var raw []byte
	appendInt := func(u uint64) {
		switch dt {
		case TypeInt8, TypeUint8:
			raw = append(raw, uint8(u))
		case TypeInt16, TypeUint16:
			raw = binary.LittleEndian.AppendUint16(raw, uint16(u))
		case TypeInt64, TypeUint64:
			raw = binary.LittleEndian.AppendUint64(raw, u)
		default:
			raw = binary.LittleEndian.AppendUint32(raw, uint32(u))
		}
	}
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte, u uint64) error {
		switch num {
		case contentsBool:
			if typ == protowire.BytesType {
				for len(v) > 0 {
					d, n := protowire.ConsumeVarint(v)
					if n < 0 {
						return protowire.ParseError(n)
					}
					if protowire.DecodeBool(d) {
						raw = append(raw, 1)
					} else {
						raw = append(raw, 0)
					}
					v = v[n:]
				}
			} else if protowire.DecodeBool(u) {
				raw = append(raw, 1)
			} else {
				raw = append(raw, 0)
			}
		case contentsInt, contentsInt64, contentsUint, contentsUint64:
			if typ == protowire.BytesType {
				for len(v) > 0 {
					d, n := protowire.ConsumeVarint(v)
					if n < 0 {
						return protowire.ParseError(n)
					}
					appendInt(d)
					v = v[n:]
				}
			} else {
				appendInt(u)
			}
		case contentsFp32:
			if typ == protowire.BytesType {
				for len(v) > 0 {
					d, n := protowire.ConsumeFixed32(v)
					if n < 0 {
						return protowire.ParseError(n)
					}
					raw = binary.LittleEndian.AppendUint32(raw, d)
					v = v[n:]
				}
			} else {
				raw = binary.LittleEndian.AppendUint32(raw, uint32(u))
			}
		case contentsFp64:
			if typ == protowire.BytesType {
				for len(v) > 0 {
					d, n := protowire.ConsumeFixed64(v)
					if n < 0 {
						return protowire.ParseError(n)
					}
					raw = binary.LittleEndian.AppendUint64(raw, d)
					v = v[n:]
				}
			} else {
				raw = binary.LittleEndian.AppendUint64(raw, u)
			}
		case contentsBytes:
			raw = binary.LittleEndian.AppendUint32(raw, uint32(len(v)))
			raw = append(raw, v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

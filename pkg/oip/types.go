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

// Package oip carries the data plane types of the Open Inference Protocol v2
// shared by the REST and gRPC transports: tensors, infer requests/responses,
// the JSON body codec with the binary tensor extension, and a hand-rolled
// protobuf wire codec for inference.GRPCInferenceService.
package oip

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// DataType names a tensor element type with the v2 data plane spelling.
type DataType string

const (
	TypeBool   DataType = "BOOL"
	TypeUint8  DataType = "UINT8"
	TypeUint16 DataType = "UINT16"
	TypeUint32 DataType = "UINT32"
	TypeUint64 DataType = "UINT64"
	TypeInt8   DataType = "INT8"
	TypeInt16  DataType = "INT16"
	TypeInt32  DataType = "INT32"
	TypeInt64  DataType = "INT64"
	TypeFp16   DataType = "FP16"
	TypeFp32   DataType = "FP32"
	TypeFp64   DataType = "FP64"
	TypeBytes  DataType = "BYTES"
)

// ElementSize returns the fixed byte width of one element, or -1 for BYTES
// and unknown datatypes whose elements are variable length.
func (d DataType) ElementSize() int {
	switch d {
	case TypeBool, TypeUint8, TypeInt8:
		return 1
	case TypeUint16, TypeInt16, TypeFp16:
		return 2
	case TypeUint32, TypeInt32, TypeFp32:
		return 4
	case TypeUint64, TypeInt64, TypeFp64:
		return 8
	default:
		return -1
	}
}

// NumElements returns the element count implied by shape. An empty shape is
// treated as a scalar.
func NumElements(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// InferInput is one named input tensor of an inference request. Raw holds the
// tensor payload in row-major order with little-endian fixed-width elements,
// matching both the gRPC raw_input_contents slot and the REST binary tensor
// extension.
type InferInput struct {
	Name     string
	Datatype DataType
	Shape    []int64
	Raw      []byte
}

// NewInferInput returns an input tensor with no data attached yet.
func NewInferInput(name string, datatype DataType, shape []int64) *InferInput {
	return &InferInput{Name: name, Datatype: datatype, Shape: shape}
}

// SetInt32Data attaches vals as the tensor payload. The value count must
// match the shape.
func (in *InferInput) SetInt32Data(vals []int32) error {
	if in.Datatype != TypeInt32 {
		return errors.Errorf("unable to set INT32 data on '%s' tensor '%s'", in.Datatype, in.Name)
	}
	if want := NumElements(in.Shape); int64(len(vals)) != want {
		return errors.Errorf("tensor '%s' shape %v wants %d elements, got %d", in.Name, in.Shape, want, len(vals))
	}
	raw := make([]byte, 0, len(vals)*4)
	for _, v := range vals {
		raw = binary.LittleEndian.AppendUint32(raw, uint32(v))
	}
	in.Raw = raw
	return nil
}

// InferRequestedOutput names an output the caller wants back. BinaryData asks
// the REST transport to return the tensor via the binary extension instead of
// a JSON data array; the gRPC transport ignores it.
type InferRequestedOutput struct {
	Name       string
	BinaryData bool
}

// InferRequest is one synchronous ModelInfer call.
type InferRequest struct {
	ModelName    string
	ModelVersion string
	ID           string
	Inputs       []*InferInput
	Outputs      []*InferRequestedOutput
}

// InferOutput is one named output tensor of an inference response, payload in
// the same raw little-endian layout as InferInput.
type InferOutput struct {
	Name     string
	Datatype DataType
	Shape    []int64
	Raw      []byte
}

// Int32Data decodes the raw payload as little-endian INT32 values.
func (out *InferOutput) Int32Data() ([]int32, error) {
	if out.Datatype != TypeInt32 {
		return nil, errors.Errorf("unable to read INT32 data from '%s' tensor '%s'", out.Datatype, out.Name)
	}
	if len(out.Raw)%4 != 0 {
		return nil, errors.Errorf("tensor '%s' has %d bytes, not a multiple of 4", out.Name, len(out.Raw))
	}
	vals := make([]int32, len(out.Raw)/4)
	for i := range vals {
		vals[i] = int32(binary.LittleEndian.Uint32(out.Raw[i*4:]))
	}
	return vals, nil
}

// InferResponse is the result of one ModelInfer call.
type InferResponse struct {
	ModelName    string
	ModelVersion string
	ID           string
	Outputs      []*InferOutput
}

// Output returns the named output tensor, or nil if the response has none.
func (r *InferResponse) Output(name string) *InferOutput {
	for _, out := range r.Outputs {
		if out.Name == name {
			return out
		}
	}
	return nil
}

// String renders a compact debug view of the response. Small tensors include
// their decoded values.
func (r *InferResponse) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "model=%s", r.ModelName)
	if r.ModelVersion != "" {
		fmt.Fprintf(&b, " version=%s", r.ModelVersion)
	}
	if r.ID != "" {
		fmt.Fprintf(&b, " id=%s", r.ID)
	}
	for _, out := range r.Outputs {
		fmt.Fprintf(&b, " %s<%s%v %dB>", out.Name, out.Datatype, out.Shape, len(out.Raw))
		if out.Datatype == TypeInt32 && len(out.Raw) <= 128 {
			if vals, err := out.Int32Data(); err == nil {
				fmt.Fprintf(&b, "%v", vals)
			}
		}
	}
	return b.String()
}

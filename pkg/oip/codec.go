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

import "github.com/pkg/errors"

// RawMessage is a protobuf message body that has already been encoded with
// the wire helpers in this package. It moves through gRPC untouched.
type RawMessage []byte

// RawCodec is a grpc encoding.Codec that passes RawMessage bodies straight
// through. It advertises the standard proto codec name so the peer needs no
// special configuration; install it per call with grpc.ForceCodec or per
// server with grpc.ForceServerCodec.
type RawCodec struct{}

func (RawCodec) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case RawMessage:
		return m, nil
	case *RawMessage:
		return *m, nil
	default:
		return nil, errors.Errorf("raw codec cannot marshal %T", v)
	}
}

func (RawCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(*RawMessage)
	if !ok {
		return errors.Errorf("raw codec cannot unmarshal into %T", v)
	}
	*m = data
	return nil
}

func (RawCodec) Name() string { return "proto" }

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

package soak

import "github.com/kserve/inference-soak/pkg/oip"

// The probe payload never varies: INPUT0 is an INT32 tensor of shape [1,16]
// holding 0..15, and OUTPUT0 is requested back. Identical iterations mean
// whatever memory grows belongs to the client machinery, not the payload.
const (
	probeInputName  = "INPUT0"
	probeOutputName = "OUTPUT0"
	probeDim        = 16
)

func probeShape() []int64 { return []int64{1, probeDim} }

func probeValues() []int32 {
	vals := make([]int32, probeDim)
	for i := range vals {
		vals[i] = int32(i)
	}
	return vals
}

// newProbeRequest assembles one infer request carrying the fixed payload.
func newProbeRequest(modelName, modelVersion, id string, binary bool) (*oip.InferRequest, error) {
	in := oip.NewInferInput(probeInputName, oip.TypeInt32, probeShape())
	if err := in.SetInt32Data(probeValues()); err != nil {
		return nil, err
	}
	return &oip.InferRequest{
		ModelName:    modelName,
		ModelVersion: modelVersion,
		ID:           id,
		Inputs:       []*oip.InferInput{in},
		Outputs:      []*oip.InferRequestedOutput{{Name: probeOutputName, BinaryData: binary}},
	}, nil
}

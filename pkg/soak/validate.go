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

import (
	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/kserve/inference-soak/pkg/oip"
)

// validateEcho checks one response against the tensor that was sent: the
// requested output must come back with the sent shape, INT32 datatype, exact
// byte size, and element-for-element equal contents. Every discrepancy is
// gathered, not just the first.
func validateEcho(resp *oip.InferResponse, outputName string, wantShape []int64, want []int32) error {
	out := resp.Output(outputName)
	if out == nil {
		return errors.Errorf("response carries no output '%s'", outputName)
	}
	var errs *multierror.Error
	if !cmp.Equal(out.Shape, wantShape) {
		errs = multierror.Append(errs,
			errors.Errorf("received incorrect shape %v, expected %v", out.Shape, wantShape))
	}
	if out.Datatype != oip.TypeInt32 {
		errs = multierror.Append(errs,
			errors.Errorf("received incorrect datatype %s, expected %s", out.Datatype, oip.TypeInt32))
	}
	wantBytes := len(want) * oip.TypeInt32.ElementSize()
	if len(out.Raw) != wantBytes {
		errs = multierror.Append(errs,
			errors.Errorf("received incorrect byte size %d, expected %d", len(out.Raw), wantBytes))
	}
	if got, err := out.Int32Data(); err != nil {
		errs = multierror.Append(errs, errors.Wrap(err, "unable to read output values"))
	} else if diff := cmp.Diff(want, got); diff != "" {
		errs = multierror.Append(errs,
			errors.Errorf("incorrect output values (-want +got):\n%s", diff))
	}
	return errs.ErrorOrNil()
}

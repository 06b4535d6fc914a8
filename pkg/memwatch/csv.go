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

package memwatch

import (
	"os"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
)

// WriteCSV writes the collected series to path, one row per sample, with a
// header row from the Sample csv tags.
func (w *Watcher) WriteCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "unable to create memory profile %s", path)
	}
	if err := gocsv.MarshalFile(&w.samples, f); err != nil {
		f.Close()
		return errors.Wrapf(err, "unable to write memory profile %s", path)
	}
	return errors.Wrapf(f.Close(), "unable to write memory profile %s", path)
}

// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mvm

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"github.com/gorse-io/mvfm/dataflow"
	"github.com/juju/errors"
)

// SparseVector holds the non-zero features of a sample.
type SparseVector struct {
	Indices []int64
	Values  []float64
}

func (x SparseVector) Len() int {
	return len(x.Indices)
}

// validate checks that every feature of the sample is a real feature of views.
func (x SparseVector) validate(views *Views) error {
	if len(x.Indices) != len(x.Values) {
		return errors.NotValidf("sparse vector with %d indices and %d values", len(x.Indices), len(x.Values))
	}
	for _, id := range x.Indices {
		if id < 0 || id >= views.NumFeatures() {
			return errors.NotValidf("feature id %d out of range [0, %d)", id, views.NumFeatures())
		}
	}
	return nil
}

type LabeledVector struct {
	Features SparseVector
	Label    float64
}

// LoadLibFMFile loads samples in libFM format. Non-empty lines are numbered from zero and the
// number becomes the sample id. Errors report the line of the file. It returns the samples and
// the number of real features seen.
func LoadLibFMFile(path string) ([]dataflow.Pair[int64, LabeledVector], int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, errors.Trace(err)
	}
	defer file.Close()

	var (
		samples     []dataflow.Pair[int64, LabeledVector]
		numFeatures int64
		sampleId    int64
		lineNumber  int
	)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		label, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, 0, errors.NotValidf("%s:%d: label %q", path, lineNumber, fields[0])
		}
		var x SparseVector
		for _, field := range fields[1:] {
			kv := strings.Split(field, ":")
			if len(kv) != 2 {
				return nil, 0, errors.NotValidf("%s:%d: feature %q", path, lineNumber, field)
			}
			id, err := strconv.ParseInt(kv[0], 10, 64)
			if err != nil || id < 0 {
				return nil, 0, errors.NotValidf("%s:%d: feature id %q", path, lineNumber, kv[0])
			}
			value, err := strconv.ParseFloat(kv[1], 64)
			if err != nil {
				return nil, 0, errors.NotValidf("%s:%d: feature value %q", path, lineNumber, kv[1])
			}
			x.Indices = append(x.Indices, id)
			x.Values = append(x.Values, value)
			numFeatures = max(numFeatures, id+1)
		}
		samples = append(samples, dataflow.NewPair(sampleId, LabeledVector{Features: x, Label: label}))
		sampleId++
	}
	if err = scanner.Err(); err != nil {
		return nil, 0, errors.Trace(err)
	}
	return samples, numFeatures, nil
}

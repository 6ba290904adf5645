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
	"sort"
	"strconv"
	"strings"

	"github.com/juju/errors"
	"github.com/samber/lo"
)

// Views partitions the feature space into contiguous ranges. View i holds real features
// in [boundaries[i], boundaries[i+1]) and the last view holds [boundaries[V-1], numFeatures).
// Indicator features follow the real ones: the indicator of view i is numFeatures+i.
type Views struct {
	boundaries  []int64
	numFeatures int64
}

func NewViews(boundaries []int64, numFeatures int64) (*Views, error) {
	if len(boundaries) == 0 {
		return nil, errors.NotValidf("empty view boundaries")
	}
	if boundaries[0] != 0 {
		return nil, errors.NotValidf("view boundaries %v not starting at 0", boundaries)
	}
	for i := 1; i < len(boundaries); i++ {
		if boundaries[i] <= boundaries[i-1] {
			return nil, errors.NotValidf("view boundaries %v not strictly increasing", boundaries)
		}
	}
	if numFeatures < boundaries[len(boundaries)-1] {
		return nil, errors.NotValidf("number of features %d less than the last view boundary %d",
			numFeatures, boundaries[len(boundaries)-1])
	}
	return &Views{
		boundaries:  append([]int64(nil), boundaries...),
		numFeatures: numFeatures,
	}, nil
}

// Len returns the number of views.
func (v *Views) Len() int {
	return len(v.boundaries)
}

func (v *Views) Boundaries() []int64 {
	return append([]int64(nil), v.boundaries...)
}

// NumFeatures returns the number of real features.
func (v *Views) NumFeatures() int64 {
	return v.numFeatures
}

// Dim returns the size of the feature space including indicators.
func (v *Views) Dim() int64 {
	return v.numFeatures + int64(len(v.boundaries))
}

// Indicator returns the id of the indicator feature of a view.
func (v *Views) Indicator(view int) int64 {
	return v.numFeatures + int64(view)
}

func (v *Views) IsIndicator(featureId int64) bool {
	return featureId >= v.numFeatures && featureId < v.Dim()
}

// ViewOf returns the view a feature belongs to. A real feature belongs to the view of the
// largest boundary not greater than its id.
func (v *Views) ViewOf(featureId int64) (int, error) {
	if featureId < 0 || featureId >= v.Dim() {
		return 0, errors.NotValidf("feature id %d out of range [0, %d)", featureId, v.Dim())
	}
	if featureId >= v.numFeatures {
		return int(featureId - v.numFeatures), nil
	}
	return sort.Search(len(v.boundaries), func(i int) bool {
		return v.boundaries[i] > featureId
	}) - 1, nil
}

// FormatBoundaries joins boundaries by commas.
func FormatBoundaries(boundaries []int64) string {
	return strings.Join(lo.Map(boundaries, func(b int64, _ int) string {
		return strconv.FormatInt(b, 10)
	}), ",")
}

func ParseBoundaries(s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, errors.NotValidf("empty view boundaries")
	}
	fields := strings.Split(s, ",")
	boundaries := make([]int64, len(fields))
	for i, field := range fields {
		b, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
		if err != nil {
			return nil, errors.NotValidf("view boundary %q", field)
		}
		boundaries[i] = b
	}
	return boundaries, nil
}

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
	"math"

	"github.com/juju/errors"
	"github.com/samber/lo"
	"modernc.org/sortutil"
)

type TaskType int

const (
	Regression TaskType = iota
	Classification
)

func (t TaskType) String() string {
	switch t {
	case Regression:
		return "regression"
	case Classification:
		return "classification"
	default:
		return "unknown"
	}
}

// Model is a trained multi-view factorization model. It is immutable once built.
type Model struct {
	k       int
	bias    float64
	views   *Views
	task    TaskType
	factors map[int64][]float64
}

// NewModel validates and copies the factor table. Every factor must have k entries and
// belong to the feature space of views. Features missing from the table are inactive.
func NewModel(k int, bias float64, views *Views, task TaskType, factors map[int64][]float64) (*Model, error) {
	if k <= 0 {
		return nil, errors.NotValidf("number of factors %d", k)
	}
	if views == nil {
		return nil, errors.NotValidf("nil views")
	}
	if task != Regression && task != Classification {
		return nil, errors.NotValidf("task type %d", task)
	}
	if math.IsNaN(bias) || math.IsInf(bias, 0) {
		return nil, errors.NotValidf("bias %v", bias)
	}
	m := &Model{
		k:       k,
		bias:    bias,
		views:   views,
		task:    task,
		factors: make(map[int64][]float64, len(factors)),
	}
	for id, w := range factors {
		if _, err := views.ViewOf(id); err != nil {
			return nil, errors.Trace(err)
		}
		if len(w) != k {
			return nil, errors.NotValidf("factor of feature %d has %d entries, expected %d", id, len(w), k)
		}
		m.factors[id] = append([]float64(nil), w...)
	}
	return m, nil
}

func (m *Model) K() int {
	return m.k
}

func (m *Model) Bias() float64 {
	return m.bias
}

func (m *Model) Views() *Views {
	return m.views
}

func (m *Model) Task() TaskType {
	return m.task
}

func (m *Model) IsClassification() bool {
	return m.task == Classification
}

func (m *Model) NumFactors() int {
	return len(m.factors)
}

// Factor returns the latent factor of a feature. The returned slice must not be modified.
func (m *Model) Factor(featureId int64) ([]float64, bool) {
	w, ok := m.factors[featureId]
	return w, ok
}

// FeatureIds returns ids of features in the factor table in ascending order.
func (m *Model) FeatureIds() []int64 {
	ids := lo.Keys(m.factors)
	sortutil.Int64Slice(ids).Sort()
	return ids
}

// Link maps a raw score to a prediction.
func (m *Model) Link(raw float64) float64 {
	if m.task == Classification {
		return Sigmoid(raw)
	}
	return raw
}

func Sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// PredictVector scores a single sample in memory. It agrees with ScoringPipeline.Predict.
func (m *Model) PredictVector(x SparseVector) (float64, error) {
	if err := x.validate(m.views); err != nil {
		return 0, errors.Trace(err)
	}
	intervals := make(ViewIntervals, m.views.Len())
	accumulate := func(id int64, value float64) {
		w, ok := m.factors[id]
		if !ok {
			return
		}
		view, _ := m.views.ViewOf(id)
		intervals[view] = MergeIntervals(intervals[view], FeatureInterval(w, value))
	}
	for i, id := range x.Indices {
		if x.Values[i] != 0 {
			accumulate(id, x.Values[i])
		}
	}
	for view := 0; view < m.views.Len(); view++ {
		accumulate(m.views.Indicator(view), 1)
	}
	return m.Link(m.bias + CombineIntervals(intervals)), nil
}

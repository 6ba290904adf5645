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
	"gonum.org/v1/gonum/floats"
)

// Interval is the summary of the active features of one sample inside one view. Sum holds
// the sum of w*x and SquareSum holds the sum of (w*x)^2 over latent dimensions. The zero
// Interval is the identity of MergeIntervals.
type Interval struct {
	Sum       []float64
	SquareSum []float64
}

func NewInterval(k int) Interval {
	return Interval{
		Sum:       make([]float64, k),
		SquareSum: make([]float64, k),
	}
}

// FeatureInterval summarizes a single feature with factor w and value x.
func FeatureInterval(w []float64, x float64) Interval {
	iv := NewInterval(len(w))
	iv.accumulate(w, x)
	return iv
}

func (iv Interval) IsZero() bool {
	return iv.Sum == nil
}

func (iv Interval) accumulate(w []float64, x float64) {
	floats.AddScaled(iv.Sum, x, w)
	for f := range w {
		wx := w[f] * x
		iv.SquareSum[f] += wx * wx
	}
}

// SelfInteraction returns the sum of pairwise interactions between features inside the interval.
func (iv Interval) SelfInteraction() float64 {
	if iv.IsZero() {
		return 0
	}
	return 0.5 * (floats.Dot(iv.Sum, iv.Sum) - floats.Sum(iv.SquareSum))
}

// MergeIntervals returns the summary of the union of two disjoint feature sets. Arguments are
// never modified.
func MergeIntervals(a, b Interval) Interval {
	if a.IsZero() {
		return b
	}
	if b.IsZero() {
		return a
	}
	merged := NewInterval(len(a.Sum))
	floats.AddTo(merged.Sum, a.Sum, b.Sum)
	floats.AddTo(merged.SquareSum, a.SquareSum, b.SquareSum)
	return merged
}

// ViewIntervals holds one interval per view, indexed by view.
type ViewIntervals []Interval

func MergeViewIntervals(a, b ViewIntervals) ViewIntervals {
	merged := make(ViewIntervals, max(len(a), len(b)))
	for i := range merged {
		var x, y Interval
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		merged[i] = MergeIntervals(x, y)
	}
	return merged
}

// CombineIntervals returns the sum of dot products between the intervals of each pair of
// distinct views. Views without active features contribute nothing.
func CombineIntervals(intervals ViewIntervals) float64 {
	var sum float64
	for u := 0; u < len(intervals); u++ {
		if intervals[u].IsZero() {
			continue
		}
		for v := u + 1; v < len(intervals); v++ {
			if intervals[v].IsZero() {
				continue
			}
			sum += floats.Dot(intervals[u].Sum, intervals[v].Sum)
		}
	}
	return sum
}

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
	"context"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/gorse-io/mvfm/common/log"
	"github.com/gorse-io/mvfm/dataflow"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

type sampleView struct {
	SampleId int64
	View     int
}

func sampleViewHasher(key sampleView) uint64 {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], uint64(key.SampleId))
	binary.LittleEndian.PutUint64(buf[8:], uint64(key.View))
	return xxhash.Sum64(buf[:])
}

type featureValue struct {
	SampleId int64
	Value    float64
}

// ScoringPipeline scores collections of samples against a model. The factor table is
// distributed once and cached until Close.
type ScoringPipeline struct {
	engine  *dataflow.Engine
	model   *Model
	factors *dataflow.Collection[int64, []float64]
}

func NewScoringPipeline(engine *dataflow.Engine, model *Model) *ScoringPipeline {
	pairs := lo.Map(model.FeatureIds(), func(id int64, _ int) dataflow.Pair[int64, []float64] {
		return dataflow.NewPair(id, model.factors[id])
	})
	return &ScoringPipeline{
		engine:  engine,
		model:   model,
		factors: dataflow.Parallelize(engine, "factors", pairs, dataflow.Int64Hasher).Cache(),
	}
}

func (p *ScoringPipeline) Engine() *dataflow.Engine {
	return p.engine
}

func (p *ScoringPipeline) Model() *Model {
	return p.model
}

// Predict returns one prediction per sample id. Samples sharing no feature with the factor
// table, and whose view indicators are absent from it, get no prediction.
func (p *ScoringPipeline) Predict(ctx context.Context, samples *dataflow.Collection[int64, SparseVector]) (*dataflow.Collection[int64, float64], error) {
	views := p.model.views

	// expand active features and view indicators
	features, err := dataflow.FlatMap(ctx, samples, "features",
		func(sampleId int64, x SparseVector, emit func(int64, featureValue)) error {
			if err := x.validate(views); err != nil {
				return dataflow.Permanent(errors.Annotatef(err, "sample %d", sampleId))
			}
			for i, id := range x.Indices {
				if x.Values[i] != 0 {
					emit(id, featureValue{SampleId: sampleId, Value: x.Values[i]})
				}
			}
			for view := 0; view < views.Len(); view++ {
				emit(views.Indicator(view), featureValue{SampleId: sampleId, Value: 1})
			}
			return nil
		})
	if err != nil {
		return nil, errors.Trace(err)
	}

	joined, err := dataflow.Join(ctx, features, p.factors, "weighted_features", dataflow.Int64Hasher)
	if err != nil {
		return nil, errors.Trace(err)
	}

	partials, err := dataflow.Map(ctx, joined, "feature_intervals",
		func(featureId int64, j dataflow.Joined[featureValue, []float64]) (sampleView, Interval, error) {
			view, err := views.ViewOf(featureId)
			if err != nil {
				return sampleView{}, Interval{}, dataflow.Permanent(err)
			}
			return sampleView{SampleId: j.Left.SampleId, View: view}, FeatureInterval(j.Right, j.Left.Value), nil
		})
	if err != nil {
		return nil, errors.Trace(err)
	}

	merged, err := dataflow.ReduceByKey(ctx, partials, "view_intervals", sampleViewHasher, MergeIntervals)
	if err != nil {
		return nil, errors.Trace(err)
	}

	grouped, err := dataflow.Map(ctx, merged, "sample_intervals",
		func(key sampleView, iv Interval) (int64, ViewIntervals, error) {
			intervals := make(ViewIntervals, views.Len())
			intervals[key.View] = iv
			return key.SampleId, intervals, nil
		})
	if err != nil {
		return nil, errors.Trace(err)
	}

	reduced, err := dataflow.ReduceByKey(ctx, grouped, "sample_view_intervals", dataflow.Int64Hasher, MergeViewIntervals)
	if err != nil {
		return nil, errors.Trace(err)
	}

	predictions, err := dataflow.Map(ctx, reduced, "predictions",
		func(sampleId int64, intervals ViewIntervals) (int64, float64, error) {
			return sampleId, p.model.Link(p.model.bias + CombineIntervals(intervals)), nil
		})
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Debug("score samples",
		zap.Int("n_samples", samples.Count()),
		zap.Int("n_predictions", predictions.Count()))
	return predictions, nil
}

// Close releases the cached factor table.
func (p *ScoringPipeline) Close() {
	p.factors.Unpersist()
}

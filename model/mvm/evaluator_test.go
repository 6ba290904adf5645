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
	"math"
	"testing"
	"time"

	"github.com/gorse-io/mvfm/config"
	"github.com/gorse-io/mvfm/dataflow"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRMSE(t *testing.T) {
	assert.Zero(t, RMSE(nil))
	assert.InDelta(t, math.Sqrt(5.0/2), RMSE([]ScoredLabel{{Score: 1, Label: 2}, {Score: 3, Label: 1}}), 1e-12)
}

func TestAUC(t *testing.T) {
	// perfect ranking
	assert.Equal(t, 1.0, AUC([]ScoredLabel{{0.1, 0}, {0.2, 0}, {0.8, 1}, {0.9, 1}}))
	// reversed ranking
	assert.Equal(t, 0.0, AUC([]ScoredLabel{{0.9, 0}, {0.8, 0}, {0.2, 1}, {0.1, 1}}))
	// ties count one half
	assert.Equal(t, 0.5, AUC([]ScoredLabel{{0.5, 0}, {0.5, 1}, {0.5, 0}, {0.5, 1}}))
	// 3 of 4 pairs ranked correctly
	assert.Equal(t, 0.75, AUC([]ScoredLabel{{0.1, 0}, {0.4, 1}, {0.5, 0}, {0.8, 1}}))
	// negative labels are negative
	assert.Equal(t, 1.0, AUC([]ScoredLabel{{0.1, -1}, {0.9, 1}}))
	// one class only
	assert.Zero(t, AUC([]ScoredLabel{{0.1, 1}, {0.9, 1}}))
	assert.Zero(t, AUC(nil))
	// NaN scores propagate
	assert.True(t, math.IsNaN(AUC([]ScoredLabel{{math.NaN(), 1}, {0.3, 0}})))
	assert.True(t, math.IsNaN(AUC([]ScoredLabel{{0.3, 0}, {math.NaN(), 1}, {math.NaN(), 0}})))
	assert.True(t, math.IsNaN(AUC([]ScoredLabel{{math.NaN(), 1}})))
	// infinite scores are ranked
	assert.Equal(t, 1.0, AUC([]ScoredLabel{{math.Inf(-1), 0}, {0.2, 0}, {math.Inf(1), 1}}))
}

func TestRMSENumericAnomalies(t *testing.T) {
	assert.True(t, math.IsNaN(RMSE([]ScoredLabel{{math.NaN(), 1}, {1, 1}})))
	assert.True(t, math.IsInf(RMSE([]ScoredLabel{{math.Inf(1), 1}, {1, 1}}), 1))
}

func newEvaluatorEngine() *dataflow.Engine {
	return dataflow.NewEngine(config.DataflowConfig{
		NumPartitions: 3,
		NumWorkers:    2,
		RetryInterval: time.Millisecond,
	})
}

func TestEvaluate(t *testing.T) {
	engine := newEvaluatorEngine()
	pipeline := NewScoringPipeline(engine, newExampleModel(t, Regression))
	defer pipeline.Close()
	samples := dataflow.Parallelize(engine, "labeled", []dataflow.Pair[int64, LabeledVector]{
		dataflow.NewPair(int64(0), LabeledVector{Features: SparseVector{Indices: []int64{0, 3}, Values: []float64{1, 1}}, Label: 2.5}),
		dataflow.NewPair(int64(1), LabeledVector{Features: SparseVector{Indices: []int64{1}, Values: []float64{1}}, Label: 1.5}),
	}, dataflow.Int64Hasher)
	evaluator := NewEvaluator(pipeline, config.UnjoinedDrop)
	score, err := evaluator.Evaluate(context.Background(), samples)
	assert.NoError(t, err)
	assert.Equal(t, Regression, score.Task)
	assert.Equal(t, 2, score.Count)
	assert.Zero(t, score.Dropped)
	// errors are 0 and 1
	assert.InDelta(t, math.Sqrt(0.5), score.RMSE, 1e-12)
	assert.Equal(t, score.RMSE, score.Loss())

	loss, err := evaluator.Loss(context.Background(), samples)
	assert.NoError(t, err)
	assert.InDelta(t, math.Sqrt(0.5), loss, 1e-12)
	// joined collections are released
	assert.Equal(t, 1, engine.CachedCollections())
}

func TestEvaluateClassification(t *testing.T) {
	engine := newEvaluatorEngine()
	pipeline := NewScoringPipeline(engine, newExampleModel(t, Classification))
	defer pipeline.Close()
	samples := dataflow.Parallelize(engine, "labeled", []dataflow.Pair[int64, LabeledVector]{
		dataflow.NewPair(int64(0), LabeledVector{Features: SparseVector{Indices: []int64{0, 3}, Values: []float64{1, 1}}, Label: 1}),
		dataflow.NewPair(int64(1), LabeledVector{Features: SparseVector{Indices: []int64{0, 3}, Values: []float64{1, -1}}, Label: 0}),
		dataflow.NewPair(int64(2), LabeledVector{Features: SparseVector{Indices: []int64{1}, Values: []float64{1}}, Label: 0}),
	}, dataflow.Int64Hasher)
	score, err := NewEvaluator(pipeline, "").Evaluate(context.Background(), samples)
	assert.NoError(t, err)
	assert.Equal(t, Classification, score.Task)
	assert.Equal(t, 3, score.Count)
	assert.Equal(t, 1.0, score.AUC)
	assert.Equal(t, score.AUC, score.Loss())
}

func TestEvaluateUnjoined(t *testing.T) {
	engine := newEvaluatorEngine()
	pipeline := NewScoringPipeline(engine, newExampleModel(t, Regression))
	defer pipeline.Close()
	labels := dataflow.Parallelize(engine, "labels", []dataflow.Pair[int64, float64]{
		dataflow.NewPair(int64(0), 1.0),
		dataflow.NewPair(int64(1), 2.0),
		dataflow.NewPair(int64(2), 3.0),
	}, dataflow.Int64Hasher)
	// the prediction of sample 2 is missing
	predictions := dataflow.Parallelize(engine, "predictions", []dataflow.Pair[int64, float64]{
		dataflow.NewPair(int64(0), 2.0),
		dataflow.NewPair(int64(1), 2.0),
	}, dataflow.Int64Hasher)

	// metrics are computed over joined samples only
	score, err := NewEvaluator(pipeline, config.UnjoinedDrop).EvaluatePredictions(context.Background(), labels, predictions)
	require.NoError(t, err)
	assert.Equal(t, 2, score.Count)
	assert.Equal(t, 1, score.Dropped)
	assert.InDelta(t, math.Sqrt(0.5), score.RMSE, 1e-12)

	_, err = NewEvaluator(pipeline, config.UnjoinedError).EvaluatePredictions(context.Background(), labels, predictions)
	assert.True(t, errors.Is(err, errors.NotFound), err)
	assert.Equal(t, 1, engine.CachedCollections())
}

func TestEvaluateNumericAnomalies(t *testing.T) {
	engine := newEvaluatorEngine()
	samples := dataflow.Parallelize(engine, "labeled", []dataflow.Pair[int64, LabeledVector]{
		dataflow.NewPair(int64(0), LabeledVector{Features: SparseVector{Indices: []int64{0, 3}, Values: []float64{1, 1}}, Label: 1}),
		dataflow.NewPair(int64(1), LabeledVector{Features: SparseVector{Indices: []int64{3}, Values: []float64{1}}, Label: 0}),
	}, dataflow.Int64Hasher)
	for _, task := range []TaskType{Regression, Classification} {
		pipeline := NewScoringPipeline(engine, newAnomalousModel(t, task, math.NaN()))
		score, err := NewEvaluator(pipeline, "").Evaluate(context.Background(), samples)
		require.NoError(t, err)
		assert.Equal(t, 2, score.Count)
		assert.True(t, math.IsNaN(score.RMSE))
		assert.True(t, math.IsNaN(score.AUC))
		pipeline.Close()
	}
}

func TestEvaluateDuplicatePredictions(t *testing.T) {
	engine := newEvaluatorEngine()
	pipeline := NewScoringPipeline(engine, newExampleModel(t, Regression))
	defer pipeline.Close()
	labels := dataflow.Parallelize(engine, "labels", []dataflow.Pair[int64, float64]{
		dataflow.NewPair(int64(0), 1.0),
		dataflow.NewPair(int64(1), 2.0),
		dataflow.NewPair(int64(2), 3.0),
	}, dataflow.Int64Hasher)
	// sample 0 has two predictions, sample 2 has none
	predictions := dataflow.Parallelize(engine, "predictions", []dataflow.Pair[int64, float64]{
		dataflow.NewPair(int64(0), 1.0),
		dataflow.NewPair(int64(0), 1.0),
		dataflow.NewPair(int64(1), 2.0),
	}, dataflow.Int64Hasher)
	score, err := NewEvaluator(pipeline, config.UnjoinedDrop).EvaluatePredictions(context.Background(), labels, predictions)
	require.NoError(t, err)
	assert.Equal(t, 3, score.Count)
	assert.Equal(t, 1, score.Dropped)
	assert.Zero(t, score.RMSE)

	_, err = NewEvaluator(pipeline, config.UnjoinedError).EvaluatePredictions(context.Background(), labels, predictions)
	assert.True(t, errors.Is(err, errors.NotFound), err)
}

func TestEvaluateUnjoinedSample(t *testing.T) {
	engine := newEvaluatorEngine()
	views, err := NewViews([]int64{0, 3}, 5)
	require.NoError(t, err)
	m, err := NewModel(2, 0.5, views, Regression, map[int64][]float64{0: {1, 0}, 3: {2, 0}})
	require.NoError(t, err)
	pipeline := NewScoringPipeline(engine, m)
	defer pipeline.Close()
	samples := dataflow.Parallelize(engine, "labeled", []dataflow.Pair[int64, LabeledVector]{
		dataflow.NewPair(int64(0), LabeledVector{Features: SparseVector{Indices: []int64{0, 3}, Values: []float64{1, 1}}, Label: 2.5}),
		dataflow.NewPair(int64(1), LabeledVector{Features: SparseVector{Indices: []int64{1}, Values: []float64{1}}, Label: 100}),
	}, dataflow.Int64Hasher)
	score, err := NewEvaluator(pipeline, config.UnjoinedDrop).Evaluate(context.Background(), samples)
	require.NoError(t, err)
	assert.Equal(t, 1, score.Count)
	assert.Equal(t, 1, score.Dropped)
	assert.Zero(t, score.RMSE)
}

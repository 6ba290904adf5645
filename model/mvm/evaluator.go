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
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gorse-io/mvfm/common/log"
	"github.com/gorse-io/mvfm/config"
	"github.com/gorse-io/mvfm/dataflow"
	"github.com/juju/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// ScoredLabel is a prediction paired with the true label of the same sample.
type ScoredLabel struct {
	Score float64
	Label float64
}

// Score is the result of an evaluation.
type Score struct {
	Task    TaskType
	RMSE    float64
	AUC     float64
	Count   int
	Dropped int
}

// Loss returns AUC for classification and RMSE for regression.
func (s Score) Loss() float64 {
	if s.Task == Classification {
		return s.AUC
	}
	return s.RMSE
}

func (s Score) ZapFields() []zap.Field {
	return []zap.Field{
		zap.String("task", s.Task.String()),
		zap.Float64("RMSE", s.RMSE),
		zap.Float64("AUC", s.AUC),
		zap.Int("count", s.Count),
		zap.Int("dropped", s.Dropped),
	}
}

// Evaluator computes evaluation metrics of a model on labeled samples.
type Evaluator struct {
	pipeline *ScoringPipeline
	policy   string
}

// NewEvaluator creates an evaluator. Labeled samples without a prediction are dropped
// under config.UnjoinedDrop and fail the evaluation under config.UnjoinedError.
func NewEvaluator(pipeline *ScoringPipeline, policy string) *Evaluator {
	if policy == "" {
		policy = config.UnjoinedDrop
	}
	return &Evaluator{pipeline: pipeline, policy: policy}
}

func (e *Evaluator) Evaluate(ctx context.Context, samples *dataflow.Collection[int64, LabeledVector]) (Score, error) {
	features, err := dataflow.Map(ctx, samples, "sample_features",
		func(sampleId int64, sample LabeledVector) (int64, SparseVector, error) {
			return sampleId, sample.Features, nil
		})
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	labels, err := dataflow.Map(ctx, samples, "sample_labels",
		func(sampleId int64, sample LabeledVector) (int64, float64, error) {
			return sampleId, sample.Label, nil
		})
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	predictions, err := e.pipeline.Predict(ctx, features)
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	return e.EvaluatePredictions(ctx, labels, predictions)
}

// EvaluatePredictions joins true labels with predictions by sample id and computes metrics.
func (e *Evaluator) EvaluatePredictions(ctx context.Context, labels, predictions *dataflow.Collection[int64, float64]) (Score, error) {
	joined, err := dataflow.Join(ctx, labels, predictions, "labeled_predictions", dataflow.Int64Hasher)
	if err != nil {
		return Score{}, errors.Trace(err)
	}
	joined.Cache()
	defer joined.Unpersist()

	rows := joined.Collect()
	score := Score{
		Task:  e.pipeline.model.task,
		Count: len(rows),
	}
	// a label may join several predictions of the same sample
	joinedIds := mapset.NewThreadUnsafeSet[int64]()
	for _, row := range rows {
		joinedIds.Add(row.Key)
	}
	for _, label := range labels.Collect() {
		if !joinedIds.Contains(label.Key) {
			score.Dropped++
		}
	}
	if score.Dropped > 0 {
		if e.policy == config.UnjoinedError {
			return Score{}, errors.NotFoundf("predictions of %d labeled samples", score.Dropped)
		}
		log.Logger().Warn("drop labeled samples without prediction", zap.Int("n_dropped", score.Dropped))
	}
	pairs := lo.Map(rows, func(pair dataflow.Pair[int64, dataflow.Joined[float64, float64]], _ int) ScoredLabel {
		return ScoredLabel{Score: pair.Value.Right, Label: pair.Value.Left}
	})
	score.RMSE = RMSE(pairs)
	score.AUC = AUC(pairs)
	log.Logger().Info("evaluate model", score.ZapFields()...)
	return score, nil
}

// Loss evaluates samples and returns AUC for classification and RMSE for regression.
func (e *Evaluator) Loss(ctx context.Context, samples *dataflow.Collection[int64, LabeledVector]) (float64, error) {
	score, err := e.Evaluate(ctx, samples)
	if err != nil {
		return 0, errors.Trace(err)
	}
	return score.Loss(), nil
}

// RMSE is the root of mean squared error. It is zero for no pairs.
func RMSE(pairs []ScoredLabel) float64 {
	if len(pairs) == 0 {
		return 0
	}
	var sum float64
	for _, pair := range pairs {
		d := pair.Score - pair.Label
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(pairs)))
}

// AUC is the area under the ROC curve. Labels greater than zero are positive and tied
// scores count one half. It is NaN if any score is NaN, otherwise zero if either class
// is empty.
func AUC(pairs []ScoredLabel) float64 {
	if lo.ContainsBy(pairs, func(pair ScoredLabel) bool { return math.IsNaN(pair.Score) }) {
		return math.NaN()
	}
	sorted := append([]ScoredLabel(nil), pairs...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Score < sorted[j].Score
	})
	var (
		numPositive  float64
		numNegative  float64
		correctPairs float64
	)
	for i := 0; i < len(sorted); {
		// group of tied scores
		j := i
		var groupPositive, groupNegative float64
		for ; j < len(sorted) && sorted[j].Score == sorted[i].Score; j++ {
			if sorted[j].Label > 0 {
				groupPositive++
			} else {
				groupNegative++
			}
		}
		correctPairs += groupPositive*numNegative + 0.5*groupPositive*groupNegative
		numPositive += groupPositive
		numNegative += groupNegative
		i = j
	}
	if numPositive == 0 || numNegative == 0 {
		return 0
	}
	return correctPairs / (numPositive * numNegative)
}

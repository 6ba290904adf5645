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

package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gorse-io/mvfm/common/log"
	"github.com/gorse-io/mvfm/config"
	"github.com/gorse-io/mvfm/dataflow"
	"github.com/gorse-io/mvfm/model/mvm"
	"github.com/juju/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"modernc.org/sortutil"
)

var predictCommand = &cobra.Command{
	Use:   "predict <model> <samples>",
	Short: "Score samples in libFM format.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		j, err := loadJob(ctx, cmd, args[0])
		if err != nil {
			return errors.Trace(err)
		}
		defer j.close()
		labeled, err := j.loadSamples(args[1])
		if err != nil {
			return errors.Trace(err)
		}
		samples, err := dataflow.Map(ctx, labeled, "sample_features",
			func(sampleId int64, sample mvm.LabeledVector) (int64, mvm.SparseVector, error) {
				return sampleId, sample.Features, nil
			})
		if err != nil {
			return errors.Trace(err)
		}
		pipeline := mvm.NewScoringPipeline(j.engine, j.model)
		defer pipeline.Close()
		predictions, err := pipeline.Predict(ctx, samples)
		if err != nil {
			return errors.Trace(err)
		}

		// write predictions ordered by sample id
		var out io.Writer = os.Stdout
		if outputPath, _ := cmd.Flags().GetString("output"); outputPath != "" {
			file, err := os.Create(outputPath)
			if err != nil {
				return errors.Trace(err)
			}
			defer file.Close()
			out = file
		}
		result := predictions.CollectMap()
		ids := lo.Keys(result)
		sortutil.Int64Slice(ids).Sort()
		bar := progressbar.Default(int64(len(ids)), "Writing predictions")
		writer := csv.NewWriter(out)
		if err = writer.Write([]string{"sample_id", "prediction"}); err != nil {
			return errors.Trace(err)
		}
		for _, id := range ids {
			if err = writer.Write([]string{
				strconv.FormatInt(id, 10),
				strconv.FormatFloat(result[id], 'g', -1, 64),
			}); err != nil {
				return errors.Trace(err)
			}
			_ = bar.Add(1)
		}
		writer.Flush()
		if err = writer.Error(); err != nil {
			return errors.Trace(err)
		}
		_ = bar.Finish()
		log.Logger().Info("predict samples",
			zap.Int("n_samples", samples.Count()),
			zap.Int("n_predictions", len(ids)))
		return nil
	},
}

var evaluateCommand = &cobra.Command{
	Use:   "evaluate <model> <samples>",
	Short: "Evaluate a model on labeled samples in libFM format.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		j, err := loadJob(ctx, cmd, args[0])
		if err != nil {
			return errors.Trace(err)
		}
		defer j.close()
		samples, err := j.loadSamples(args[1])
		if err != nil {
			return errors.Trace(err)
		}
		policy := j.config.Evaluation.UnjoinedPolicy
		if cmd.Flags().Changed("unjoined-policy") {
			policy, _ = cmd.Flags().GetString("unjoined-policy")
		}
		if policy != config.UnjoinedDrop && policy != config.UnjoinedError {
			return errors.NotValidf("unjoined policy %q", policy)
		}
		pipeline := mvm.NewScoringPipeline(j.engine, j.model)
		defer pipeline.Close()
		score, err := mvm.NewEvaluator(pipeline, policy).Evaluate(ctx, samples)
		if err != nil {
			return errors.Trace(err)
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header([]string{"Task", "RMSE", "AUC", "Count", "Dropped"})
		if err = table.Append([]string{
			score.Task.String(),
			fmt.Sprintf("%.6f", score.RMSE),
			fmt.Sprintf("%.6f", score.AUC),
			strconv.Itoa(score.Count),
			strconv.Itoa(score.Dropped),
		}); err != nil {
			return errors.Trace(err)
		}
		return errors.Trace(table.Render())
	},
}

var inspectCommand = &cobra.Command{
	Use:   "inspect <model>",
	Short: "Show a summary of a saved model.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()
		j, err := loadJob(ctx, cmd, args[0])
		if err != nil {
			return errors.Trace(err)
		}
		defer j.close()
		m := j.model
		views := m.Views()
		fmt.Printf("Task:\t\t %s\n", m.Task())
		fmt.Printf("Bias:\t\t %g\n", m.Bias())
		fmt.Printf("Factors:\t %d\n", m.K())
		fmt.Printf("Features:\t %d\n", views.NumFeatures())

		// active factors per view
		numFactors := make([]int, views.Len())
		hasIndicator := make([]bool, views.Len())
		for _, id := range m.FeatureIds() {
			view, err := views.ViewOf(id)
			if err != nil {
				return errors.Trace(err)
			}
			if views.IsIndicator(id) {
				hasIndicator[view] = true
			} else {
				numFactors[view]++
			}
		}
		boundaries := views.Boundaries()
		table := tablewriter.NewWriter(os.Stdout)
		table.Header([]string{"View", "Features", "Factors", "Indicator"})
		for i := range boundaries {
			end := views.NumFeatures()
			if i+1 < len(boundaries) {
				end = boundaries[i+1]
			}
			if err = table.Append([]string{
				strconv.Itoa(i),
				fmt.Sprintf("[%d, %d)", boundaries[i], end),
				strconv.Itoa(numFactors[i]),
				strconv.FormatBool(hasIndicator[i]),
			}); err != nil {
				return errors.Trace(err)
			}
		}
		if err = table.Render(); err != nil {
			return errors.Trace(err)
		}

		objects, err := j.store.List(ctx, strings.TrimSuffix(args[0], "/")+"/")
		if err != nil {
			return errors.Trace(err)
		}
		fmt.Println("Objects:")
		for _, name := range objects {
			fmt.Printf("\t %s\n", name)
		}
		return nil
	},
}

func init() {
	predictCommand.Flags().StringP("output", "o", "", "output file of predictions (default stdout)")
	evaluateCommand.Flags().String("unjoined-policy", config.UnjoinedDrop, "treatment of labeled samples without prediction (drop, error)")
}

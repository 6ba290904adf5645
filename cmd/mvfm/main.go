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
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/gorse-io/mvfm/cmd/version"
	"github.com/gorse-io/mvfm/common/log"
	"github.com/gorse-io/mvfm/config"
	"github.com/gorse-io/mvfm/dataflow"
	"github.com/gorse-io/mvfm/model/mvm"
	"github.com/gorse-io/mvfm/storage/blob"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "mvfm",
	Short: "Score and evaluate multi-view factorization models.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
	},
	Run: func(cmd *cobra.Command, args []string) {
		if showVersion, _ := cmd.Flags().GetBool("version"); showVersion {
			fmt.Println(version.BuildInfo())
			return
		}
		_ = cmd.Help()
	},
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.Flags().BoolP("version", "v", false, "mvfm version")
	rootCommand.AddCommand(predictCommand, evaluateCommand, inspectCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}

// job holds everything a subcommand needs to run against a saved model.
type job struct {
	config         *config.Config
	store          blob.Store
	engine         *dataflow.Engine
	model          *mvm.Model
	tracerProvider *sdktrace.TracerProvider
}

func loadJob(ctx context.Context, cmd *cobra.Command, modelPath string) (*job, error) {
	configPath, _ := cmd.Flags().GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	tracerProvider, err := conf.Tracing.NewTracerProvider(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if tracerProvider != nil {
		otel.SetTracerProvider(tracerProvider)
	}
	store, err := blob.NewStore(conf.Storage)
	if err != nil {
		return nil, errors.Trace(err)
	}
	model, err := mvm.Load(ctx, store, modelPath)
	if err != nil {
		return nil, errors.Trace(err)
	}
	j := &job{
		config:         conf,
		store:          store,
		engine:         dataflow.NewEngine(conf.Dataflow),
		model:          model,
		tracerProvider: tracerProvider,
	}
	log.Logger().Info("start job",
		zap.String("engine", j.engine.Id()),
		zap.String("model", modelPath),
		zap.Int("n_partitions", j.engine.NumPartitions()),
		zap.Int("n_workers", j.engine.NumWorkers()))
	return j, nil
}

// close flushes pending spans.
func (j *job) close() {
	if j.tracerProvider != nil {
		if err := j.tracerProvider.Shutdown(context.Background()); err != nil {
			log.Logger().Warn("failed to shutdown tracer provider", zap.Error(err))
		}
	}
}

// loadSamples loads labeled samples in libFM format into a collection.
func (j *job) loadSamples(path string) (*dataflow.Collection[int64, mvm.LabeledVector], error) {
	samples, numFeatures, err := mvm.LoadLibFMFile(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.Logger().Info("load samples",
		zap.String("path", path),
		zap.Int("n_samples", len(samples)),
		zap.Int64("n_features", numFeatures))
	return dataflow.Chunks(j.engine, "samples", samples), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

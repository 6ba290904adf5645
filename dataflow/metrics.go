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

package dataflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const LabelStage = "stage"

var (
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mvfm",
		Subsystem: "dataflow",
		Name:      "tasks_total",
	}, []string{LabelStage})
	TaskRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "mvfm",
		Subsystem: "dataflow",
		Name:      "task_retries_total",
	}, []string{LabelStage})
	StageSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "mvfm",
		Subsystem: "dataflow",
		Name:      "stage_seconds",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{LabelStage})
	CachedCollections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mvfm",
		Subsystem: "dataflow",
		Name:      "cached_collections",
	})
	CachedRows = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "mvfm",
		Subsystem: "dataflow",
		Name:      "cached_rows",
	})
)

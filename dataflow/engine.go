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
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/gorse-io/mvfm/common/log"
	"github.com/gorse-io/mvfm/common/parallel"
	"github.com/gorse-io/mvfm/config"
	"github.com/juju/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/gorse-io/mvfm/dataflow")

// Engine executes the stages of keyed collections. Every stage runs one task per
// partition on a bounded number of workers. A failed task is executed again from its
// inputs until it succeeds, fails permanently or runs out of retries.
type Engine struct {
	id            string
	numPartitions int
	numWorkers    int
	maxRetries    int
	retryInterval time.Duration

	nextId atomic.Uint64
	mu     sync.Mutex
	cached map[uint64]cacheEntry
}

type cacheEntry struct {
	name string
	rows int
}

func NewEngine(cfg config.DataflowConfig) *Engine {
	e := &Engine{
		id:            uuid.New().String(),
		numPartitions: max(cfg.NumPartitions, 1),
		numWorkers:    max(cfg.NumWorkers, 1),
		maxRetries:    max(cfg.MaxRetries, 0),
		retryInterval: cfg.RetryInterval,
		cached:        make(map[uint64]cacheEntry),
	}
	if e.retryInterval <= 0 {
		e.retryInterval = time.Millisecond
	}
	return e
}

// Id identifies the engine in logs and traces.
func (e *Engine) Id() string {
	return e.id
}

func (e *Engine) NumPartitions() int {
	return e.numPartitions
}

func (e *Engine) NumWorkers() int {
	return e.numWorkers
}

// CachedCollections returns the number of collections cached and not yet released.
func (e *Engine) CachedCollections() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.cached)
}

// CachedRows returns the number of rows held by cached collections.
func (e *Engine) CachedRows() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	var rows int
	for _, entry := range e.cached {
		rows += entry.rows
	}
	return rows
}

func (e *Engine) newId() uint64 {
	return e.nextId.Add(1)
}

func (e *Engine) pin(id uint64, name string, rows int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exist := e.cached[id]; !exist {
		CachedCollections.Inc()
		CachedRows.Add(float64(rows))
	}
	e.cached[id] = cacheEntry{name: name, rows: rows}
}

func (e *Engine) unpin(id uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, exist := e.cached[id]
	if !exist {
		return false
	}
	delete(e.cached, id)
	CachedCollections.Dec()
	CachedRows.Sub(float64(entry.rows))
	return true
}

// Permanent marks an error as deterministic so that the failed task is not executed again.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// runStage runs task for every partition in [0, nTasks). task must overwrite whatever it
// produced in a previous attempt.
func (e *Engine) runStage(ctx context.Context, kind, name string, nTasks int, task func(partition int) error) error {
	ctx, span := tracer.Start(ctx, kind)
	defer span.End()
	span.SetAttributes(
		attribute.String("engine", e.id),
		attribute.String("collection", name),
		attribute.Int("partitions", nTasks))

	start := time.Now()
	err := parallel.Parallel(ctx, nTasks, e.numWorkers, func(_, partition int) error {
		attempt := 0
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = e.retryInterval
		_, err := backoff.Retry(ctx, func() (struct{}, error) {
			attempt++
			TasksTotal.WithLabelValues(kind).Inc()
			if attempt > 1 {
				TaskRetriesTotal.WithLabelValues(kind).Inc()
			}
			err := task(partition)
			if err != nil && attempt <= e.maxRetries {
				log.Logger().Warn("partition task failed",
					zap.String("engine", e.id),
					zap.String("stage", kind),
					zap.String("collection", name),
					zap.Int("partition", partition),
					zap.Int("attempt", attempt),
					zap.Error(err))
			}
			return struct{}{}, err
		}, backoff.WithBackOff(policy), backoff.WithMaxTries(uint(e.maxRetries+1)))
		return err
	})
	StageSeconds.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return errors.Annotatef(err, "stage %s of %s", kind, name)
	}
	log.Logger().Debug("complete stage",
		zap.String("stage", kind),
		zap.String("collection", name),
		zap.Int("partitions", nTasks),
		zap.Duration("duration", time.Since(start)))
	return nil
}

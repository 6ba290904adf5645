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

	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"
)

const (
	stageMap     = "map"
	stageShuffle = "shuffle"
	stageJoin    = "join"
	stageCombine = "combine"
	stageReduce  = "reduce"
)

// Map transforms every record. Partitioning is preserved.
func Map[K1 comparable, V1 any, K2 comparable, V2 any](ctx context.Context, in *Collection[K1, V1], name string,
	fn func(K1, V1) (K2, V2, error)) (*Collection[K2, V2], error) {
	return FlatMap(ctx, in, name, func(key K1, value V1, emit func(K2, V2)) error {
		k, v, err := fn(key, value)
		if err != nil {
			return err
		}
		emit(k, v)
		return nil
	})
}

// FlatMap transforms every record into zero or more records. Partitioning is preserved.
func FlatMap[K1 comparable, V1 any, K2 comparable, V2 any](ctx context.Context, in *Collection[K1, V1], name string,
	fn func(K1, V1, func(K2, V2)) error) (*Collection[K2, V2], error) {
	if err := in.checkAlive(); err != nil {
		return nil, errors.Trace(err)
	}
	e := in.engine
	out := make([][]Pair[K2, V2], len(in.partitions))
	err := e.runStage(ctx, stageMap, name, len(in.partitions), func(i int) error {
		var result []Pair[K2, V2]
		emit := func(key K2, value V2) {
			result = append(result, Pair[K2, V2]{Key: key, Value: value})
		}
		for _, pair := range in.partitions[i] {
			if err := fn(pair.Key, pair.Value, emit); err != nil {
				return err
			}
		}
		out[i] = result
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return newCollection(e, name, out), nil
}

// Shuffle moves every record to the partition chosen by the hash of its key.
func Shuffle[K comparable, V any](ctx context.Context, in *Collection[K, V], name string, hash Hasher[K]) (*Collection[K, V], error) {
	if err := in.checkAlive(); err != nil {
		return nil, errors.Trace(err)
	}
	out, err := shuffle(ctx, in.engine, name, in.partitions, hash)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return newCollection(in.engine, name, out), nil
}

func shuffle[K comparable, V any](ctx context.Context, e *Engine, name string, partitions [][]Pair[K, V], hash Hasher[K]) ([][]Pair[K, V], error) {
	n := e.numPartitions
	// write: split every input partition into buckets
	buckets := make([][][]Pair[K, V], len(partitions))
	err := e.runStage(ctx, stageShuffle, name, len(partitions), func(i int) error {
		local := make([][]Pair[K, V], n)
		for _, pair := range partitions[i] {
			j := hash(pair.Key) % uint64(n)
			local[j] = append(local[j], pair)
		}
		buckets[i] = local
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	// read: concatenate buckets of the same output partition
	out := make([][]Pair[K, V], n)
	err = e.runStage(ctx, stageShuffle, name, n, func(j int) error {
		var size int
		for i := range buckets {
			size += len(buckets[i][j])
		}
		merged := make([]Pair[K, V], 0, size)
		for i := range buckets {
			merged = append(merged, buckets[i][j]...)
		}
		out[j] = merged
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return out, nil
}

// Join is the inner equi-join of two collections. Every pair of matching records produces
// one output record, records without a match on the other side are dropped.
func Join[K comparable, V, W any](ctx context.Context, left *Collection[K, V], right *Collection[K, W], name string,
	hash Hasher[K]) (*Collection[K, Joined[V, W]], error) {
	if err := left.checkAlive(); err != nil {
		return nil, errors.Trace(err)
	}
	if err := right.checkAlive(); err != nil {
		return nil, errors.Trace(err)
	}
	if left.engine != right.engine {
		return nil, errors.NotValidf("join of collections from different engines")
	}
	e := left.engine

	// shuffle both sides
	var (
		leftPartitions  [][]Pair[K, V]
		rightPartitions [][]Pair[K, W]
	)
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() (err error) {
		leftPartitions, err = shuffle(groupCtx, e, left.name, left.partitions, hash)
		return err
	})
	group.Go(func() (err error) {
		rightPartitions, err = shuffle(groupCtx, e, right.name, right.partitions, hash)
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, errors.Trace(err)
	}

	// build on the right side, probe with the left side
	out := make([][]Pair[K, Joined[V, W]], e.numPartitions)
	err := e.runStage(ctx, stageJoin, name, e.numPartitions, func(i int) error {
		table := make(map[K][]W, len(rightPartitions[i]))
		for _, pair := range rightPartitions[i] {
			table[pair.Key] = append(table[pair.Key], pair.Value)
		}
		var result []Pair[K, Joined[V, W]]
		for _, pair := range leftPartitions[i] {
			for _, value := range table[pair.Key] {
				result = append(result, Pair[K, Joined[V, W]]{
					Key:   pair.Key,
					Value: Joined[V, W]{Left: pair.Value, Right: value},
				})
			}
		}
		out[i] = result
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return newCollection(e, name, out), nil
}

// ReduceByKey combines all values of the same key into one. Values are combined inside
// every partition first, then shuffled and combined again, so combine must be associative
// and commutative. Neither the grouping nor the order of combination is specified. Values
// may be shared between stages, so combine must not modify its arguments.
func ReduceByKey[K comparable, V any](ctx context.Context, in *Collection[K, V], name string, hash Hasher[K],
	combine func(V, V) V) (*Collection[K, V], error) {
	if err := in.checkAlive(); err != nil {
		return nil, errors.Trace(err)
	}
	e := in.engine

	// map-side combine
	combined := make([][]Pair[K, V], len(in.partitions))
	err := e.runStage(ctx, stageCombine, name, len(in.partitions), func(i int) error {
		combined[i] = combineByKey(in.partitions[i], combine)
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	shuffled, err := shuffle(ctx, e, name, combined, hash)
	if err != nil {
		return nil, errors.Trace(err)
	}

	// reduce-side combine
	out := make([][]Pair[K, V], len(shuffled))
	err = e.runStage(ctx, stageReduce, name, len(shuffled), func(i int) error {
		out[i] = combineByKey(shuffled[i], combine)
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	return newCollection(e, name, out), nil
}

// combineByKey keeps the order in which keys are first seen.
func combineByKey[K comparable, V any](pairs []Pair[K, V], combine func(V, V) V) []Pair[K, V] {
	index := make(map[K]int, len(pairs))
	var result []Pair[K, V]
	for _, pair := range pairs {
		if i, exist := index[pair.Key]; exist {
			result[i].Value = combine(result[i].Value, pair.Value)
		} else {
			index[pair.Key] = len(result)
			result = append(result, pair)
		}
	}
	return result
}

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
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/gorse-io/mvfm/common/parallel"
	"github.com/juju/errors"
)

// Pair is a keyed record.
type Pair[K comparable, V any] struct {
	Key   K
	Value V
}

func NewPair[K comparable, V any](key K, value V) Pair[K, V] {
	return Pair[K, V]{Key: key, Value: value}
}

// Joined is one match of an inner equi-join.
type Joined[V, W any] struct {
	Left  V
	Right W
}

// Hasher maps a key to the partition it is shuffled to.
type Hasher[K comparable] func(K) uint64

func Int64Hasher(key int64) uint64 {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(key))
	return xxhash.Sum64(buf[:])
}

// Collection is a partitioned collection of keyed records. Partitions are materialized
// by the stage producing them and are never modified afterwards, so a collection may be
// shared by concurrent stages.
type Collection[K comparable, V any] struct {
	engine     *Engine
	id         uint64
	name       string
	partitions [][]Pair[K, V]
	released   bool
}

// Parallelize distributes records to partitions by the hash of their keys.
func Parallelize[K comparable, V any](e *Engine, name string, pairs []Pair[K, V], hash Hasher[K]) *Collection[K, V] {
	partitions := make([][]Pair[K, V], e.numPartitions)
	for _, pair := range pairs {
		i := hash(pair.Key) % uint64(e.numPartitions)
		partitions[i] = append(partitions[i], pair)
	}
	return newCollection(e, name, partitions)
}

// Chunks splits records into contiguous partitions and keeps their order. Records of
// the same key may live in different partitions.
func Chunks[K comparable, V any](e *Engine, name string, pairs []Pair[K, V]) *Collection[K, V] {
	partitions := parallel.Split(pairs, e.numPartitions)
	if partitions == nil {
		partitions = make([][]Pair[K, V], e.numPartitions)
	}
	return newCollection(e, name, partitions)
}

// FromPartitions keeps the partitioning chosen by the caller. Records of the same key
// may live in different partitions.
func FromPartitions[K comparable, V any](e *Engine, name string, partitions [][]Pair[K, V]) *Collection[K, V] {
	return newCollection(e, name, append([][]Pair[K, V](nil), partitions...))
}

func newCollection[K comparable, V any](e *Engine, name string, partitions [][]Pair[K, V]) *Collection[K, V] {
	return &Collection[K, V]{
		engine:     e,
		id:         e.newId(),
		name:       name,
		partitions: partitions,
	}
}

func (c *Collection[K, V]) Name() string {
	return c.name
}

func (c *Collection[K, V]) NumPartitions() int {
	return len(c.partitions)
}

// Partition returns records of the i-th partition. The returned slice must not be modified.
func (c *Collection[K, V]) Partition(i int) []Pair[K, V] {
	return c.partitions[i]
}

// Count returns the number of records.
func (c *Collection[K, V]) Count() int {
	var n int
	for _, partition := range c.partitions {
		n += len(partition)
	}
	return n
}

// Collect returns all records, partition after partition.
func (c *Collection[K, V]) Collect() []Pair[K, V] {
	result := make([]Pair[K, V], 0, c.Count())
	for _, partition := range c.partitions {
		result = append(result, partition...)
	}
	return result
}

// CollectMap returns records as a map. Later records overwrite earlier ones of the same key.
func (c *Collection[K, V]) CollectMap() map[K]V {
	result := make(map[K]V, c.Count())
	for _, partition := range c.partitions {
		for _, pair := range partition {
			result[pair.Key] = pair.Value
		}
	}
	return result
}

// Cache registers the collection in the engine until Unpersist is called.
func (c *Collection[K, V]) Cache() *Collection[K, V] {
	c.engine.pin(c.id, c.name, c.Count())
	return c
}

// Unpersist releases a collection. It is safe to call more than once. A released
// collection can not be used as the input of another stage.
func (c *Collection[K, V]) Unpersist() {
	c.engine.unpin(c.id)
	c.partitions = nil
	c.released = true
}

func (c *Collection[K, V]) checkAlive() error {
	if c.released {
		return errors.NotValidf("use of released collection %s", c.name)
	}
	return nil
}

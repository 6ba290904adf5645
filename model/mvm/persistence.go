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
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/gorse-io/mvfm/common/log"
	"github.com/gorse-io/mvfm/storage/blob"
	"github.com/juju/errors"
	"github.com/parquet-go/parquet-go"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	ClassName     = "mvfm.MultiViewModel"
	FormatVersion = "1.0"

	metadataFile = "metadata.json"
	dataFile     = "data/part-00000.parquet"
)

// supportedFormats lists (class, version) pairs Load accepts.
var supportedFormats = []lo.Tuple2[string, string]{
	{A: ClassName, B: FormatVersion},
}

type metadata struct {
	Class          string  `json:"class"`
	Version        string  `json:"version"`
	Timestamp      int64   `json:"timestamp"`
	Bias           float64 `json:"bias"`
	K              int     `json:"k"`
	Views          string  `json:"views"`
	Classification bool    `json:"classification"`
	NumFeatures    *int64  `json:"numFeatures,omitempty"`
}

type factorRow struct {
	FeatureId int64     `parquet:"featureId"`
	Factors   []float64 `parquet:"factors,list"`
}

// Save writes a model under path. An existing model is replaced only if overwrite is set.
// Metadata is written after the factor table, so a model without metadata is incomplete.
// Objects of the replaced model are removed only after the new model is committed, and a
// failed Save leaves the existing model in place. A model without factors can not be saved.
func Save(ctx context.Context, store blob.Store, path string, m *Model, overwrite bool) error {
	if m.NumFactors() == 0 {
		return errors.NotValidf("model without factors")
	}
	dir := strings.TrimSuffix(path, "/") + "/"
	existing, err := store.List(ctx, dir)
	if err != nil {
		return errors.Trace(err)
	}
	if len(existing) > 0 && !overwrite {
		return errors.AlreadyExistsf("model at %s", path)
	}
	// the replaced factor table is restored if metadata can not be written
	var previous []byte
	if lo.Contains(existing, dir+dataFile) {
		if previous, err = readAll(ctx, store, dir+dataFile); err != nil {
			return errors.Trace(err)
		}
	}

	// factor table
	rows := lo.Map(m.FeatureIds(), func(id int64, _ int) factorRow {
		return factorRow{FeatureId: id, Factors: m.factors[id]}
	})
	err = writeObject(ctx, store, dir+dataFile, func(w io.Writer) error {
		writer := parquet.NewGenericWriter[factorRow](w)
		if _, err := writer.Write(rows); err != nil {
			return err
		}
		return writer.Close()
	})
	if err != nil {
		return errors.Trace(err)
	}

	// metadata
	numFeatures := m.views.NumFeatures()
	data, err := json.Marshal(metadata{
		Class:          ClassName,
		Version:        FormatVersion,
		Timestamp:      time.Now().UnixMilli(),
		Bias:           m.bias,
		K:              m.k,
		Views:          FormatBoundaries(m.views.boundaries),
		Classification: m.IsClassification(),
		NumFeatures:    &numFeatures,
	})
	if err != nil {
		return errors.Trace(err)
	}
	err = writeObject(ctx, store, dir+metadataFile, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
	if err != nil {
		rollbackFactorTable(ctx, store, dir+dataFile, previous)
		return errors.Trace(err)
	}

	// stale objects of the replaced model
	for _, name := range existing {
		if name == dir+dataFile || name == dir+metadataFile {
			continue
		}
		if err = store.Remove(ctx, name); err != nil && !errors.Is(err, errors.NotFound) {
			return errors.Trace(err)
		}
	}
	log.Logger().Info("save model",
		zap.String("path", path),
		zap.Int("n_factors", len(rows)),
		zap.Int("k", m.k),
		zap.Bool("overwrite", len(existing) > 0))
	return nil
}

func rollbackFactorTable(ctx context.Context, store blob.Store, name string, previous []byte) {
	var err error
	if previous == nil {
		err = store.Remove(ctx, name)
	} else {
		err = writeObject(ctx, store, name, func(w io.Writer) error {
			_, err := w.Write(previous)
			return err
		})
	}
	if err != nil {
		log.Logger().Error("failed to roll back factor table", zap.String("name", name), zap.Error(err))
	}
}

// writeObject commits the object if write succeeds and discards it otherwise.
func writeObject(ctx context.Context, store blob.Store, name string, write func(w io.Writer) error) error {
	w, err := store.Create(ctx, name)
	if err != nil {
		return errors.Trace(err)
	}
	if err = write(w); err != nil {
		w.Abort(err)
		return errors.Annotatef(err, "write %s", name)
	}
	return errors.Trace(w.Close())
}

// Load reads a model saved by Save. The whole model is validated before it is returned.
func Load(ctx context.Context, store blob.Store, path string) (*Model, error) {
	dir := strings.TrimSuffix(path, "/") + "/"

	// metadata
	data, err := readAll(ctx, store, dir+metadataFile)
	if err != nil {
		return nil, errors.Trace(err)
	}
	var meta metadata
	if err = json.Unmarshal(data, &meta); err != nil {
		return nil, errors.NotValidf("metadata of %s: %v", path, err)
	}
	if !lo.Contains(supportedFormats, lo.T2(meta.Class, meta.Version)) {
		return nil, errors.NotSupportedf("model format (class %q, version %q) of %s, supported formats are %v",
			meta.Class, meta.Version, path, supportedFormats)
	}
	if meta.K <= 0 {
		return nil, errors.NotValidf("number of factors %d of %s", meta.K, path)
	}
	boundaries, err := ParseBoundaries(meta.Views)
	if err != nil {
		return nil, errors.Annotatef(err, "metadata of %s", path)
	}

	// factor table
	data, err = readAll(ctx, store, dir+dataFile)
	if err != nil {
		return nil, errors.Trace(err)
	}
	file, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.NotValidf("factor table of %s: %v", path, err)
	}
	fields := file.Schema().Fields()
	if len(fields) != 2 {
		return nil, errors.NotValidf("factor table of %s with %d columns, expected (featureId, factors)", path, len(fields))
	}
	if fields[0].Name() != "featureId" || fields[1].Name() != "factors" {
		return nil, errors.NotValidf("factor table of %s with columns (%s, %s), expected (featureId, factors)",
			path, fields[0].Name(), fields[1].Name())
	}
	if file.NumRows() == 0 {
		return nil, errors.NotValidf("empty factor table of %s", path)
	}
	rows, err := parquet.Read[factorRow](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.NotValidf("factor table of %s: %v", path, err)
	}
	factors := make(map[int64][]float64, len(rows))
	var maxId int64 = -1
	for _, row := range rows {
		if _, exist := factors[row.FeatureId]; exist {
			return nil, errors.NotValidf("duplicate factor of feature %d in %s", row.FeatureId, path)
		}
		if len(row.Factors) != meta.K {
			return nil, errors.NotValidf("factor of feature %d in %s has %d entries, expected %d",
				row.FeatureId, path, len(row.Factors), meta.K)
		}
		factors[row.FeatureId] = row.Factors
		maxId = max(maxId, row.FeatureId)
	}

	var numFeatures int64
	if meta.NumFeatures != nil {
		numFeatures = *meta.NumFeatures
	} else {
		// indicators occupy the largest ids
		numFeatures = max(maxId+1-int64(len(boundaries)), boundaries[len(boundaries)-1])
	}
	views, err := NewViews(boundaries, numFeatures)
	if err != nil {
		return nil, errors.Annotatef(err, "metadata of %s", path)
	}
	task := Regression
	if meta.Classification {
		task = Classification
	}
	m, err := NewModel(meta.K, meta.Bias, views, task, factors)
	if err != nil {
		return nil, errors.Annotatef(err, "model at %s", path)
	}
	log.Logger().Info("load model",
		zap.String("path", path),
		zap.Int("n_factors", len(factors)),
		zap.Int("k", meta.K),
		zap.Int("n_views", views.Len()),
		zap.Time("saved_at", time.UnixMilli(meta.Timestamp)))
	return m, nil
}

func readAll(ctx context.Context, store blob.Store, name string) ([]byte, error) {
	r, err := store.Open(ctx, name)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Annotatef(err, "read %s", name)
	}
	return data, nil
}

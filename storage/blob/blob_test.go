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

package blob

import (
	"bytes"
	"context"
	"io"
	"path"
	"testing"

	"github.com/gorse-io/mvfm/config"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, store Store) {
	ctx := context.Background()

	// create files
	files := []string{"model/metadata.json", "model/data/part-00000.parquet", "model2/metadata.json"}
	for _, name := range files {
		w, err := store.Create(ctx, name)
		require.NoError(t, err)
		_, err = w.Write([]byte(name))
		assert.NoError(t, err)
		assert.NoError(t, w.Close())
	}

	// list files
	names, err := store.List(ctx, "model/")
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"model/metadata.json", "model/data/part-00000.parquet"}, names)
	names, err = store.List(ctx, "")
	assert.NoError(t, err)
	assert.ElementsMatch(t, files, names)

	// read files
	for _, name := range files {
		r, err := store.Open(ctx, name)
		require.NoError(t, err)
		data, err := io.ReadAll(r)
		assert.NoError(t, err)
		assert.Equal(t, name, string(data))
		assert.NoError(t, r.Close())
	}
	_, err = store.Open(ctx, "model/missing.json")
	assert.True(t, errors.Is(err, errors.NotFound), err)

	// aborted writes are discarded
	for _, name := range []string{"model/metadata.json", "model/aborted.json"} {
		w, err := store.Create(ctx, name)
		require.NoError(t, err)
		_, err = w.Write([]byte("partial"))
		assert.NoError(t, err)
		w.Abort(errors.New("disk full"))
		assert.NoError(t, w.Close())
	}
	r, err := store.Open(ctx, "model/metadata.json")
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Equal(t, "model/metadata.json", string(data))
	assert.NoError(t, r.Close())
	_, err = store.Open(ctx, "model/aborted.json")
	assert.True(t, errors.Is(err, errors.NotFound), err)
	names, err = store.List(ctx, "model/")
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"model/metadata.json", "model/data/part-00000.parquet"}, names)

	// remove files
	for _, name := range files {
		assert.NoError(t, store.Remove(ctx, name))
	}
	names, err = store.List(ctx, "")
	assert.NoError(t, err)
	assert.Empty(t, names)
}

func TestNewStore(t *testing.T) {
	store, err := NewStore(config.StorageConfig{Type: config.StoragePOSIX, Dir: t.TempDir()})
	assert.NoError(t, err)
	assert.IsType(t, &POSIX{}, store)
	_, err = NewStore(config.StorageConfig{Type: "hdfs"})
	assert.True(t, errors.Is(err, errors.NotSupported))
	_, err = NewStore(config.StorageConfig{Type: config.StorageAzure})
	assert.True(t, errors.Is(err, errors.NotValid))
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "blob/model/metadata.json", objectKey("blob", "model/metadata.json"))
	assert.Equal(t, "blob/model/", objectKey("blob", "model/"))
	assert.Equal(t, "blob/", objectKey("blob", ""))
	assert.Equal(t, "model/", objectKey("", "model/"))
	assert.Equal(t, "", objectKey("", ""))
	assert.Equal(t, "model/metadata.json", objectName("blob", "blob/model/metadata.json"))
	assert.Equal(t, "model/metadata.json", objectName("blob/", "blob/model/metadata.json"))
	assert.Equal(t, "model/metadata.json", objectName("", "model/metadata.json"))
}

func TestPipeWriter(t *testing.T) {
	var buf bytes.Buffer
	w := newPipeWriter(func(r io.Reader) error {
		_, err := io.Copy(&buf, r)
		return err
	})
	_, err := w.Write([]byte("hello"))
	assert.NoError(t, err)
	assert.NoError(t, w.Close())
	assert.NoError(t, w.Close())
	assert.Equal(t, "hello", buf.String())

	// upload fails before reading
	w = newPipeWriter(func(r io.Reader) error {
		return errors.New("access denied")
	})
	_, err = w.Write([]byte("hello"))
	assert.ErrorContains(t, err, "access denied")
	assert.ErrorContains(t, w.Close(), "access denied")

	// abort fails the upload with the cause
	var uploadErr error
	w = newPipeWriter(func(r io.Reader) error {
		_, uploadErr = io.Copy(io.Discard, r)
		return uploadErr
	})
	_, err = w.Write([]byte("hello"))
	assert.NoError(t, err)
	w.Abort(errors.New("disk full"))
	assert.ErrorContains(t, uploadErr, "disk full")
	assert.NoError(t, w.Close())
}

func TestPOSIX(t *testing.T) {
	testStore(t, NewPOSIX(path.Join(t.TempDir(), "blob")))
}

func TestPOSIXListMissingDir(t *testing.T) {
	names, err := NewPOSIX(path.Join(t.TempDir(), "missing")).List(context.Background(), "")
	assert.NoError(t, err)
	assert.Empty(t, names)
}

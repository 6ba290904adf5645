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
	"context"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/gorse-io/mvfm/config"
	"github.com/juju/errors"
)

// Store is a flat namespace of objects addressed by slash-separated names.
type Store interface {
	// Open returns a reader of an object. It fails with errors.NotFound if the object is absent.
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Create returns a writer of an object. The object is committed on Close, which
	// returns the error of the commit, and discarded on Abort.
	Create(ctx context.Context, name string) (Writer, error)
	// List returns names of objects starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Remove deletes an object.
	Remove(ctx context.Context, name string) error
}

// Writer writes an object. Only the first call of Close or Abort takes effect.
type Writer interface {
	io.WriteCloser
	// Abort discards written bytes. The previous version of the object, if any, is kept.
	Abort(cause error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch cfg.Type {
	case config.StoragePOSIX:
		return NewPOSIX(cfg.Dir), nil
	case config.StorageS3:
		return NewS3(cfg.S3)
	case config.StorageGCS:
		return NewGCS(cfg.GCS)
	case config.StorageAzure:
		return NewAzureBlob(cfg.Azure)
	default:
		return nil, errors.NotSupportedf("storage type %q", cfg.Type)
	}
}

var errAborted = errors.New("upload aborted")

// objectKey joins the store prefix and an object name. A trailing slash of name is kept.
func objectKey(prefix, name string) string {
	key := path.Join(prefix, name)
	if key == "." {
		key = ""
	}
	if (strings.HasSuffix(name, "/") || name == "") && key != "" && !strings.HasSuffix(key, "/") {
		key += "/"
	}
	return key
}

// objectName strips the store prefix from a key.
func objectName(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return strings.TrimPrefix(strings.TrimPrefix(key, strings.TrimSuffix(prefix, "/")), "/")
}

// pipeWriter streams written bytes to an upload running in the background.
type pipeWriter struct {
	*io.PipeWriter
	done     chan error
	once     sync.Once
	closeErr error
}

func newPipeWriter(upload func(r io.Reader) error) *pipeWriter {
	pr, pw := io.Pipe()
	w := &pipeWriter{PipeWriter: pw, done: make(chan error, 1)}
	go func() {
		err := upload(pr)
		// unblock pending writes if the upload stopped early
		_ = pr.CloseWithError(err)
		w.done <- err
	}()
	return w
}

// Abort fails the upload by closing the pipe with cause instead of EOF.
func (w *pipeWriter) Abort(cause error) {
	if cause == nil {
		cause = errAborted
	}
	w.once.Do(func() {
		_ = w.PipeWriter.CloseWithError(cause)
		<-w.done
	})
}

func (w *pipeWriter) Close() error {
	w.once.Do(func() {
		if err := w.PipeWriter.Close(); err != nil {
			w.closeErr = errors.Trace(err)
			return
		}
		w.closeErr = errors.Trace(<-w.done)
	})
	return w.closeErr
}

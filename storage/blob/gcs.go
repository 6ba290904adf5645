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
	"os"

	"cloud.google.com/go/storage"
	"github.com/gorse-io/mvfm/config"
	"github.com/juju/errors"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCS(cfg config.GCSConfig) (*GCS, error) {
	var opts []option.ClientOption
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = os.Getenv("GCS_EMULATOR_ENDPOINT")
	}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint), option.WithoutAuthentication())
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return NewGCSWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

func NewGCSWithClient(client *storage.Client, bucket, prefix string) *GCS {
	return &GCS{client: client, bucket: bucket, prefix: prefix}
}

func (g *GCS) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	r, err := g.client.Bucket(g.bucket).Object(objectKey(g.prefix, name)).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, errors.NotFoundf("object %s", name)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return r, nil
}

func (g *GCS) Create(ctx context.Context, name string) (Writer, error) {
	ctx, cancel := context.WithCancel(ctx)
	return &gcsWriter{
		Writer: g.client.Bucket(g.bucket).Object(objectKey(g.prefix, name)).NewWriter(ctx),
		cancel: cancel,
	}, nil
}

type gcsWriter struct {
	*storage.Writer
	cancel context.CancelFunc
	closed bool
}

// Abort cancels the writer context. The upload is never finished since the writer is not
// closed, so GCS keeps the previous object.
func (w *gcsWriter) Abort(error) {
	if w.closed {
		return
	}
	w.closed = true
	w.cancel()
}

func (w *gcsWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	defer w.cancel()
	return errors.Annotatef(w.Writer.Close(), "upload %s to GCS", w.Name)
}

func (g *GCS) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{
		Prefix: objectKey(g.prefix, prefix),
	})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, errors.Trace(err)
		}
		names = append(names, objectName(g.prefix, attrs.Name))
	}
	return names, nil
}

func (g *GCS) Remove(ctx context.Context, name string) error {
	err := g.client.Bucket(g.bucket).Object(objectKey(g.prefix, name)).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return errors.NotFoundf("object %s", name)
	}
	return errors.Trace(err)
}

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
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gorse-io/mvfm/common/log"
	"github.com/juju/errors"
	"go.uber.org/zap"
)

const tempPrefix = ".tmp-"

// POSIX stores objects as files under a directory.
type POSIX struct {
	dir string
}

func NewPOSIX(dir string) *POSIX {
	return &POSIX{dir: dir}
}

func (p *POSIX) Open(_ context.Context, name string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(p.dir, filepath.FromSlash(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.NotFoundf("object %s", name)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	return file, nil
}

// Create writes to a temporary file which is renamed to the object on Close.
func (p *POSIX) Create(_ context.Context, name string) (Writer, error) {
	fullPath := filepath.Join(p.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(fullPath), os.ModePerm); err != nil {
		return nil, errors.Trace(err)
	}
	file, err := os.CreateTemp(filepath.Dir(fullPath), tempPrefix+"*")
	if err != nil {
		return nil, errors.Trace(err)
	}
	return &posixWriter{File: file, path: fullPath}, nil
}

type posixWriter struct {
	*os.File
	path   string
	closed bool
}

// Abort removes the temporary file, the object is left untouched.
func (w *posixWriter) Abort(error) {
	if w.closed {
		return
	}
	w.closed = true
	_ = w.File.Close()
	_ = os.Remove(w.File.Name())
}

func (w *posixWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.File.Close(); err != nil {
		_ = os.Remove(w.File.Name())
		return errors.Trace(err)
	}
	if err := os.Rename(w.File.Name(), w.path); err != nil {
		_ = os.Remove(w.File.Name())
		return errors.Trace(err)
	}
	log.Logger().Debug("create file", zap.String("path", w.path))
	return nil
}

func (p *POSIX) List(_ context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(p.dir, func(fullPath string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(p.dir, fullPath)
		if err != nil {
			return err
		}
		if name := filepath.ToSlash(rel); strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	sort.Strings(names)
	return names, nil
}

func (p *POSIX) Remove(_ context.Context, name string) error {
	err := os.Remove(filepath.Join(p.dir, filepath.FromSlash(name)))
	if errors.Is(err, fs.ErrNotExist) {
		return errors.NotFoundf("object %s", name)
	}
	return errors.Trace(err)
}

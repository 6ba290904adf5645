// Copyright 2020 gorse Project Authors
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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfig(t *testing.T) {
	config, err := LoadConfig("config.toml")
	assert.NoError(t, err)

	// [dataflow]
	assert.Equal(t, 16, config.Dataflow.NumPartitions)
	assert.Equal(t, 4, config.Dataflow.NumWorkers)
	assert.Equal(t, 3, config.Dataflow.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, config.Dataflow.RetryInterval)
	// [storage]
	assert.Equal(t, StoragePOSIX, config.Storage.Type)
	assert.Equal(t, "models", config.Storage.Dir)
	assert.Equal(t, "localhost:9000", config.Storage.S3.Endpoint)
	assert.Equal(t, "mvfm", config.Storage.S3.Bucket)
	assert.Equal(t, "models", config.Storage.S3.Prefix)
	assert.False(t, config.Storage.S3.UseSSL)
	assert.Equal(t, "mvfm", config.Storage.GCS.Bucket)
	assert.Equal(t, "mvfm", config.Storage.Azure.Container)
	// [evaluation]
	assert.Equal(t, UnjoinedDrop, config.Evaluation.UnjoinedPolicy)
	// [tracing]
	assert.False(t, config.Tracing.EnableTracing)
	assert.Equal(t, "otlp", config.Tracing.Exporter)
	assert.Equal(t, "always", config.Tracing.Sampler)
	assert.Equal(t, 1.0, config.Tracing.Ratio)
}

func TestLoadDefaultConfig(t *testing.T) {
	config, err := LoadConfig("")
	assert.NoError(t, err)
	assert.Equal(t, GetDefaultConfig(), config)
}

func TestBindEnv(t *testing.T) {
	t.Setenv("MVFM_NUM_PARTITIONS", "7")
	t.Setenv("MVFM_STORAGE_TYPE", "gcs")
	t.Setenv("GCS_BUCKET", "bucket-from-env")
	t.Setenv("MVFM_UNJOINED_POLICY", "error")
	t.Setenv("MVFM_ENABLE_TRACING", "true")
	t.Setenv("MVFM_TRACING_EXPORTER", "zipkin")
	config, err := LoadConfig("config.toml")
	assert.NoError(t, err)
	assert.Equal(t, 7, config.Dataflow.NumPartitions)
	assert.Equal(t, StorageGCS, config.Storage.Type)
	assert.Equal(t, "bucket-from-env", config.Storage.GCS.Bucket)
	assert.Equal(t, UnjoinedError, config.Evaluation.UnjoinedPolicy)
	assert.True(t, config.Tracing.EnableTracing)
	assert.Equal(t, "zipkin", config.Tracing.Exporter)
}

func TestValidate(t *testing.T) {
	config := GetDefaultConfig()
	assert.NoError(t, config.Validate())

	config.Dataflow.NumPartitions = 0
	config.Storage.Type = "hdfs"
	config.Evaluation.UnjoinedPolicy = "ignore"
	config.Tracing.Ratio = 2
	err := config.Validate()
	assert.True(t, errors.Is(err, errors.NotValid))
	assert.Contains(t, err.Error(), "NumPartitions")
	assert.Contains(t, err.Error(), "Type")
	assert.Contains(t, err.Error(), "UnjoinedPolicy")
	assert.Contains(t, err.Error(), "Ratio")

	config = GetDefaultConfig()
	config.Storage.Dir = ""
	assert.ErrorContains(t, config.Validate(), "Dir")
}

func TestLoadInvalidConfig(t *testing.T) {
	data, err := os.ReadFile("config.toml")
	assert.NoError(t, err)
	text := strings.Replace(string(data), "num_workers = 4", "num_workers = -1", 1)
	path := filepath.Join(t.TempDir(), "config.toml")
	assert.NoError(t, os.WriteFile(path, []byte(text), 0644))
	_, err = LoadConfig(path)
	assert.ErrorContains(t, err, "NumWorkers")

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

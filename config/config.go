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
	"runtime"
	"strings"
	"time"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/go-viper/mapstructure/v2"
	"github.com/juju/errors"
	"github.com/spf13/viper"
)

const (
	StoragePOSIX = "posix"
	StorageS3    = "s3"
	StorageGCS   = "gcs"
	StorageAzure = "azure"

	UnjoinedDrop  = "drop"
	UnjoinedError = "error"
)

// Config is the configuration for scoring and evaluation jobs.
type Config struct {
	Dataflow   DataflowConfig   `mapstructure:"dataflow"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Evaluation EvaluationConfig `mapstructure:"evaluation"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// DataflowConfig is the configuration of the partitioned execution engine.
type DataflowConfig struct {
	NumPartitions int           `mapstructure:"num_partitions" validate:"gt=0"`
	NumWorkers    int           `mapstructure:"num_workers" validate:"gt=0"`
	MaxRetries    int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryInterval time.Duration `mapstructure:"retry_interval" validate:"gte=0"`
}

// StorageConfig selects the object store that holds saved models.
type StorageConfig struct {
	Type  string          `mapstructure:"type" validate:"oneof=posix s3 gcs azure"`
	Dir   string          `mapstructure:"dir" validate:"required_if=Type posix"`
	S3    S3Config        `mapstructure:"s3"`
	GCS   GCSConfig       `mapstructure:"gcs"`
	Azure AzureBlobConfig `mapstructure:"azure"`
}

type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
	UseSSL          bool   `mapstructure:"use_ssl"`
}

type GCSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	CredentialsFile string `mapstructure:"credentials_file"`
	Bucket          string `mapstructure:"bucket"`
	Prefix          string `mapstructure:"prefix"`
}

type AzureBlobConfig struct {
	ConnectionString string `mapstructure:"connection_string"`
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	Endpoint         string `mapstructure:"endpoint"`
	Container        string `mapstructure:"container"`
	Prefix           string `mapstructure:"prefix"`
}

// EvaluationConfig controls how labeled samples without a prediction are treated.
type EvaluationConfig struct {
	UnjoinedPolicy string `mapstructure:"unjoined_policy" validate:"oneof=drop error"`
}

// TracingConfig controls export of dataflow stage spans.
type TracingConfig struct {
	EnableTracing     bool    `mapstructure:"enable_tracing"`
	Exporter          string  `mapstructure:"exporter" validate:"oneof=otlp otlphttp zipkin"`
	CollectorEndpoint string  `mapstructure:"collector_endpoint"`
	Sampler           string  `mapstructure:"sampler" validate:"oneof=always never ratio"`
	Ratio             float64 `mapstructure:"ratio" validate:"gte=0,lte=1"`
}

func GetDefaultConfig() *Config {
	return &Config{
		Dataflow: DataflowConfig{
			NumPartitions: 16,
			NumWorkers:    runtime.NumCPU(),
			MaxRetries:    3,
			RetryInterval: 100 * time.Millisecond,
		},
		Storage: StorageConfig{
			Type: StoragePOSIX,
			Dir:  "models",
		},
		Evaluation: EvaluationConfig{
			UnjoinedPolicy: UnjoinedDrop,
		},
		Tracing: TracingConfig{
			Exporter: "otlp",
			Sampler:  "always",
			Ratio:    1,
		},
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [dataflow]
	v.SetDefault("dataflow.num_partitions", defaultConfig.Dataflow.NumPartitions)
	v.SetDefault("dataflow.num_workers", defaultConfig.Dataflow.NumWorkers)
	v.SetDefault("dataflow.max_retries", defaultConfig.Dataflow.MaxRetries)
	v.SetDefault("dataflow.retry_interval", defaultConfig.Dataflow.RetryInterval)
	// [storage]
	v.SetDefault("storage.type", defaultConfig.Storage.Type)
	v.SetDefault("storage.dir", defaultConfig.Storage.Dir)
	// [evaluation]
	v.SetDefault("evaluation.unjoined_policy", defaultConfig.Evaluation.UnjoinedPolicy)
	// [tracing]
	v.SetDefault("tracing.exporter", defaultConfig.Tracing.Exporter)
	v.SetDefault("tracing.sampler", defaultConfig.Tracing.Sampler)
	v.SetDefault("tracing.ratio", defaultConfig.Tracing.Ratio)
}

type configBinding struct {
	key string
	env string
}

var bindings = []configBinding{
	{"dataflow.num_partitions", "MVFM_NUM_PARTITIONS"},
	{"dataflow.num_workers", "MVFM_NUM_WORKERS"},
	{"dataflow.max_retries", "MVFM_MAX_RETRIES"},
	{"storage.type", "MVFM_STORAGE_TYPE"},
	{"storage.dir", "MVFM_STORAGE_DIR"},
	{"storage.s3.endpoint", "S3_ENDPOINT"},
	{"storage.s3.access_key_id", "S3_ACCESS_KEY_ID"},
	{"storage.s3.secret_access_key", "S3_SECRET_ACCESS_KEY"},
	{"storage.s3.bucket", "S3_BUCKET"},
	{"storage.gcs.credentials_file", "GCS_CREDENTIALS_FILE"},
	{"storage.gcs.bucket", "GCS_BUCKET"},
	{"storage.azure.connection_string", "AZURE_STORAGE_CONNECTION_STRING"},
	{"storage.azure.container", "AZURE_STORAGE_CONTAINER"},
	{"evaluation.unjoined_policy", "MVFM_UNJOINED_POLICY"},
	{"tracing.enable_tracing", "MVFM_ENABLE_TRACING"},
	{"tracing.exporter", "MVFM_TRACING_EXPORTER"},
	{"tracing.collector_endpoint", "MVFM_TRACING_COLLECTOR_ENDPOINT"},
}

// LoadConfig loads configuration from a TOML file. An empty path loads defaults and
// environment variables only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	for _, binding := range bindings {
		if err := v.BindEnv(binding.key, binding.env); err != nil {
			return nil, errors.Trace(err)
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Trace(err)
		}
	}
	var conf Config
	if err := v.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate checks every field against its constraints and reports all violations at once.
func (config *Config) Validate() error {
	validate := validator.New()
	english := en.New()
	uni := ut.New(english, english)
	trans, _ := uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return errors.Trace(err)
	}
	err := validate.Struct(config)
	if err == nil {
		return nil
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return errors.Trace(err)
	}
	var messages []string
	for _, e := range validationErrors {
		messages = append(messages, e.Translate(trans))
	}
	return errors.NotValidf("config: %s", strings.Join(messages, "; "))
}

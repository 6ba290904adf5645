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

package config

import (
	"context"

	"github.com/juju/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceName = "mvfm"

// NewTracerProvider creates a tracer provider exporting spans to the configured collector.
// It returns nil if tracing is disabled.
func (config *TracingConfig) NewTracerProvider(ctx context.Context) (*sdktrace.TracerProvider, error) {
	if !config.EnableTracing {
		return nil, nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch config.Exporter {
	case "otlp":
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(config.CollectorEndpoint),
			otlptracegrpc.WithInsecure())
	case "otlphttp":
		exporter, err = otlptracehttp.New(ctx,
			otlptracehttp.WithEndpoint(config.CollectorEndpoint),
			otlptracehttp.WithInsecure())
	case "zipkin":
		exporter, err = zipkin.New(config.CollectorEndpoint)
	default:
		return nil, errors.NotSupportedf("tracing exporter %q", config.Exporter)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}

	sampler, err := config.newSampler()
	if err != nil {
		return nil, errors.Trace(err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", serviceName))),
	), nil
}

func (config *TracingConfig) newSampler() (sdktrace.Sampler, error) {
	switch config.Sampler {
	case "always":
		return sdktrace.AlwaysSample(), nil
	case "never":
		return sdktrace.NeverSample(), nil
	case "ratio":
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(config.Ratio)), nil
	default:
		return nil, errors.NotSupportedf("tracing sampler %q", config.Sampler)
	}
}

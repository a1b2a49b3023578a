// Copyright 2024 Google, LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package telemetry_test

import (
	"context"
	"testing"

	"github.com/jaycherian/gcp-go-long-video/internal/cloud"
	"github.com/jaycherian/gcp-go-long-video/internal/core/cor"
	"github.com/jaycherian/gcp-go-long-video/internal/telemetry"
	"github.com/zeebo/assert"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewResourceNamesTheService(t *testing.T) {
	config := cloud.NewConfig()
	config.Application.Name = "long-video"
	config.Application.Version = "1.2.3"

	res, err := telemetry.NewResource(context.Background(), config)
	assert.NoError(t, err)

	name, ok := res.Set().Value(attribute.Key("service.name"))
	assert.True(t, ok)
	assert.Equal(t, "long-video", name.AsString())
	version, ok := res.Set().Value(attribute.Key("service.version"))
	assert.True(t, ok)
	assert.Equal(t, "1.2.3", version.AsString())
}

func TestRuntimeMetricsUsePipelineMeter(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	assert.NoError(t, telemetry.RegisterRuntimeMetrics(provider, 4))

	var rm metricdata.ResourceMetrics
	assert.NoError(t, reader.Collect(context.Background(), &rm))
	assert.Equal(t, 1, len(rm.ScopeMetrics))
	scope := rm.ScopeMetrics[0]
	assert.Equal(t, cor.MeterName, scope.Scope.Name)

	values := map[string]int64{}
	for _, m := range scope.Metrics {
		gauge, ok := m.Data.(metricdata.Gauge[int64])
		assert.True(t, ok)
		assert.Equal(t, 1, len(gauge.DataPoints))
		values[m.Name] = gauge.DataPoints[0].Value
	}
	assert.Equal(t, int64(4), values["pipeline.workers"])
	assert.True(t, values["process.goroutines"] > 0)
}

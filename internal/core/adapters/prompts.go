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

// Package adapters holds the integrations with the services that do the
// actual work: transcription, boundary detection, segment analysis,
// rendering, YouTube publishing and metadata suggestion. Each long-running
// integration implements jobs.Adapter so the workflows can drive it through
// the job poller.
package adapters

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/jaycherian/gcp-go-long-video/internal/cloud"
	"github.com/jaycherian/gcp-go-long-video/internal/core/cor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/genai"
)

var promptFuncs = template.FuncMap{
	"join": strings.Join,
}

// ParsePrompt parses a prompt template from the configuration.
func ParsePrompt(name, text string) (*template.Template, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("prompt template %s is empty", name)
	}
	return template.New(name).Funcs(promptFuncs).Parse(text)
}

func renderPrompt(t *template.Template, params map[string]interface{}) (string, error) {
	var buffer bytes.Buffer
	if err := t.Execute(&buffer, params); err != nil {
		return "", fmt.Errorf("failed to execute prompt template %s: %w", t.Name(), err)
	}
	return buffer.String(), nil
}

// geminiClient pairs a model with the token counters its calls record.
type geminiClient struct {
	model         cloud.ContentGenerator
	inputTokens   metric.Int64Counter
	outputTokens  metric.Int64Counter
	retryAttempts metric.Int64Counter
}

func newGeminiClient(name string, model cloud.ContentGenerator) *geminiClient {
	meter := otel.Meter(cor.MeterName)
	g := &geminiClient{model: model}
	var err error
	if g.inputTokens, err = meter.Int64Counter(fmt.Sprintf("%s.gemini.token.input", name)); err != nil {
		slog.Warn("error creating token counter", "adapter", name, "error", err)
	}
	if g.outputTokens, err = meter.Int64Counter(fmt.Sprintf("%s.gemini.token.output", name)); err != nil {
		slog.Warn("error creating token counter", "adapter", name, "error", err)
	}
	if g.retryAttempts, err = meter.Int64Counter(fmt.Sprintf("%s.gemini.token.retry", name)); err != nil {
		slog.Warn("error creating retry counter", "adapter", name, "error", err)
	}
	return g
}

func (g *geminiClient) generate(ctx context.Context, content []*genai.Content) (string, error) {
	return cloud.GenerateMultiModalResponse(ctx, g.inputTokens, g.outputTokens, g.retryAttempts, 0, g.model, content)
}

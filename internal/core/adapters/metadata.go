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

package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"text/template"

	"github.com/jaycherian/gcp-go-long-video/internal/cloud"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
)

const (
	MetadataScriptChars = 3000
	// Scripts longer than this also send their ending.
	MetadataLongScript = 6000
)

// LoadTranscript reads and decodes a stored transcript.
func LoadTranscript(ctx context.Context, store cloud.ObjectStore, bucket, key string) (*model.Transcript, error) {
	data, err := store.Read(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("reading transcript: %w", err)
	}
	var transcript model.Transcript
	if err := json.Unmarshal(data, &transcript); err != nil {
		return nil, fmt.Errorf("decoding transcript %s: %w", key, err)
	}
	return &transcript, nil
}

// MetadataSuggester proposes a YouTube title, description, tags and playlist
// for a presenter's video. It always returns usable metadata.
type MetadataSuggester struct {
	gemini *geminiClient
	prompt *template.Template
}

func NewMetadataSuggester(model cloud.ContentGenerator, prompt *template.Template) *MetadataSuggester {
	return &MetadataSuggester{gemini: newGeminiClient("metadata-suggester", model), prompt: prompt}
}

func (m *MetadataSuggester) Suggest(ctx context.Context, edit *model.VideoEdit, presenter int, script string) *model.VideoMetadata {
	presenterName := edit.PresenterName(presenter)
	fallback := model.FallbackMetadata(presenterName, edit.VideoName)

	out, err := m.generate(ctx, edit, presenterName, script)
	if err != nil {
		slog.WarnContext(ctx, "metadata suggestion unavailable; using defaults", "videoId", edit.ID, "presenter", presenter, "error", err)
		return fallback
	}
	out.Title = model.TruncateTitle(out.Title)
	if out.Title == "" {
		out.Title = fallback.Title
	}
	if strings.TrimSpace(out.Description) == "" {
		out.Description = fallback.Description
	}
	if len(out.Tags) == 0 {
		out.Tags = fallback.Tags
	}
	if strings.TrimSpace(out.PlaylistName) == "" {
		out.PlaylistName = fallback.PlaylistName
	}
	return out
}

func (m *MetadataSuggester) generate(ctx context.Context, edit *model.VideoEdit, presenterName, script string) (*model.VideoMetadata, error) {
	if m.gemini.model == nil || m.prompt == nil {
		return nil, fmt.Errorf("no model configured")
	}
	runes := []rune(script)
	start, end := truncateRunes(script, MetadataScriptChars), ""
	if len(runes) > MetadataLongScript {
		end = string(runes[len(runes)-MetadataScriptChars:])
	}
	example, _ := json.Marshal(model.GetExampleMetadata())
	prompt, err := renderPrompt(m.prompt, map[string]interface{}{
		"VideoName":     strings.TrimSuffix(edit.VideoName, path.Ext(edit.VideoName)),
		"PresenterName": presenterName,
		"ScriptStart":   start,
		"ScriptEnd":     end,
		"ExampleJSON":   string(example),
	})
	if err != nil {
		return nil, err
	}
	out, err := m.gemini.generate(ctx, cloud.NewTextPart(prompt))
	if err != nil {
		return nil, err
	}
	body, err := cloud.ExtractJSON(out)
	if err != nil {
		return nil, err
	}
	var meta model.VideoMetadata
	if err := json.Unmarshal([]byte(body), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &meta, nil
}

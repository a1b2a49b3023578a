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

package test

import (
	"context"
	"errors"
	"sync"
	"time"

	"google.golang.org/genai"
)

// ScriptedModel is a cloud.ContentGenerator that replies with canned text.
// Replies are used in order and the last one repeats. With Err set every
// call fails. Delay holds every reply back, like a slow model.
type ScriptedModel struct {
	mu      sync.Mutex
	Replies []string
	Err     error
	Delay   time.Duration
	prompts []string
}

func NewScriptedModel(replies ...string) *ScriptedModel {
	return &ScriptedModel{Replies: replies}
}

// NewFailingModel returns a model whose every call fails.
func NewFailingModel() *ScriptedModel {
	return &ScriptedModel{Err: errors.New("model unavailable")}
}

func (m *ScriptedModel) GenerateContent(ctx context.Context, content []*genai.Content) (*genai.GenerateContentResponse, error) {
	m.mu.Lock()
	delay := m.Delay
	m.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	prompt := ""
	for _, c := range content {
		for _, p := range c.Parts {
			prompt += p.Text
		}
	}
	m.prompts = append(m.prompts, prompt)
	if m.Err != nil {
		return nil, m.Err
	}
	if len(m.Replies) == 0 {
		return nil, errors.New("no scripted reply")
	}
	i := len(m.prompts) - 1
	if i >= len(m.Replies) {
		i = len(m.Replies) - 1
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: genai.NewContentFromText(m.Replies[i], genai.RoleModel)}},
	}, nil
}

// Prompts returns the text of every prompt received so far.
func (m *ScriptedModel) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

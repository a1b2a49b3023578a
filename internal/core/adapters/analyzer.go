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
	"text/template"

	"github.com/jaycherian/gcp-go-long-video/internal/cloud"
	"github.com/jaycherian/gcp-go-long-video/internal/core/jobs"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
)

const (
	MaxScriptChars      = 8000
	MaxPromptSegments   = 50
	MaxPromptBoundaries = 20
	FallbackConfidence  = 0.5
)

type AnalysisRequest struct {
	VideoID       string
	Bucket        string
	TranscriptKey string
	Segments      []*model.Segment
	Boundaries    []model.Boundary
}

// AnalysisResult holds one refined segment per input segment, in input order.
type AnalysisResult struct {
	Segments []*model.Segment
	// Fallback is set when the model could not be used and the detector's
	// segments were kept as they are.
	Fallback bool
	Reason   string
}

// AnalyzedSegment is one entry of the model's response. Pointer fields tell a
// missing value apart from a zero one.
type AnalyzedSegment struct {
	ID              string   `json:"id"`
	StartTime       *float64 `json:"startTime"`
	EndTime         *float64 `json:"endTime"`
	SpeakerLabel    string   `json:"speakerLabel"`
	SegmentType     string   `json:"segmentType"`
	IncludeInOutput *bool    `json:"includeInOutput"`
	AIConfidence    *float64 `json:"aiConfidence"`
}

type analysisResponse struct {
	Segments []AnalyzedSegment `json:"segments"`
}

// SegmentAnalyzer asks Gemini to classify the detected segments. It never
// fails because of the model: when the call or the response is unusable it
// returns the input with a neutral confidence.
type SegmentAnalyzer struct {
	gemini *geminiClient
	store  cloud.ObjectStore
	prompt *template.Template
	jobs   *jobs.LocalJobs[*AnalysisResult]
}

func NewSegmentAnalyzer(model cloud.ContentGenerator, store cloud.ObjectStore, prompt *template.Template) *SegmentAnalyzer {
	return &SegmentAnalyzer{
		gemini: newGeminiClient("segment-analyzer", model),
		store:  store,
		prompt: prompt,
		jobs:   jobs.NewLocalJobs[*AnalysisResult](),
	}
}

func (a *SegmentAnalyzer) Name() string { return "segment-analyzer" }

func (a *SegmentAnalyzer) Submit(ctx context.Context, req AnalysisRequest) (string, error) {
	return a.jobs.Run(ctx, func(ctx context.Context) (*AnalysisResult, error) {
		return a.Analyze(ctx, req), nil
	}), nil
}

func (a *SegmentAnalyzer) PollOrAwait(_ context.Context, jobID string) (jobs.JobStatus, error) {
	return a.jobs.Status(jobID)
}

func (a *SegmentAnalyzer) MapResult(_ context.Context, jobID string) (*AnalysisResult, error) {
	return a.jobs.Take(jobID)
}

func (a *SegmentAnalyzer) Forget(jobID string) {
	a.jobs.Forget(jobID)
}

// Analyze runs the classification and merges it onto req.Segments.
func (a *SegmentAnalyzer) Analyze(ctx context.Context, req AnalysisRequest) *AnalysisResult {
	refined, err := a.classify(ctx, req)
	if err != nil {
		slog.WarnContext(ctx, "segment analysis unavailable; keeping detected segments", "videoId", req.VideoID, "error", err)
		return &AnalysisResult{Segments: FallbackAnalysis(req.Segments), Fallback: true, Reason: err.Error()}
	}
	return &AnalysisResult{Segments: MergeAnalysis(req.Segments, refined)}
}

func (a *SegmentAnalyzer) classify(ctx context.Context, req AnalysisRequest) ([]AnalyzedSegment, error) {
	if len(req.Segments) == 0 {
		return nil, nil
	}
	script := ""
	if req.TranscriptKey != "" {
		transcript, err := LoadTranscript(ctx, a.store, req.Bucket, req.TranscriptKey)
		if err != nil {
			return nil, err
		}
		script = truncateRunes(transcript.Script(), MaxScriptChars)
	}

	segments := req.Segments
	if len(segments) > MaxPromptSegments {
		segments = segments[:MaxPromptSegments]
	}
	promptSegments := make([]model.ExampleAnalyzedSegment, 0, len(segments))
	for _, s := range segments {
		promptSegments = append(promptSegments, model.ExampleAnalyzedSegment{
			ID:              s.ID,
			StartTime:       s.StartTime,
			EndTime:         s.EndTime,
			SpeakerLabel:    s.SpeakerLabel,
			SegmentType:     s.SegmentType,
			IncludeInOutput: s.IncludeInOutput,
		})
	}
	boundaries := req.Boundaries
	if len(boundaries) > MaxPromptBoundaries {
		boundaries = boundaries[:MaxPromptBoundaries]
	}
	segmentsJSON, _ := json.MarshalIndent(promptSegments, "", "  ")
	boundariesJSON, _ := json.MarshalIndent(boundaries, "", "  ")
	exampleJSON, _ := json.Marshal(model.GetExampleSegmentAnalysis())

	prompt, err := renderPrompt(a.prompt, map[string]interface{}{
		"Script":         script,
		"SegmentsJSON":   string(segmentsJSON),
		"BoundariesJSON": string(boundariesJSON),
		"ExampleJSON":    string(exampleJSON),
	})
	if err != nil {
		return nil, err
	}
	out, err := a.gemini.generate(ctx, cloud.NewTextPart(prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	body, err := cloud.ExtractJSON(out)
	if err != nil {
		return nil, err
	}
	var resp analysisResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, fmt.Errorf("failed to parse analysis: %w", err)
	}
	if len(resp.Segments) == 0 {
		return nil, fmt.Errorf("analysis returned no segments")
	}
	return resp.Segments, nil
}

// MergeAnalysis applies refinements by id. Unknown ids are ignored, an
// invalid type or time range keeps the detected value and confidence is
// clamped to [0,1]. The result has exactly one entry per input segment.
func MergeAnalysis(detected []*model.Segment, refined []AnalyzedSegment) []*model.Segment {
	byID := make(map[string]AnalyzedSegment, len(refined))
	for _, r := range refined {
		byID[r.ID] = r
	}
	out := make([]*model.Segment, 0, len(detected))
	for _, d := range detected {
		s := d.Clone()
		r, ok := byID[s.ID]
		if !ok {
			out = append(out, s)
			continue
		}
		if r.StartTime != nil && r.EndTime != nil && *r.StartTime >= 0 && *r.StartTime < *r.EndTime {
			s.StartTime, s.EndTime = round3(*r.StartTime), round3(*r.EndTime)
		}
		if r.SpeakerLabel != "" {
			s.SpeakerLabel = r.SpeakerLabel
		}
		if t := model.SegmentType(r.SegmentType); t.Valid() {
			s.SegmentType = t
		}
		if r.IncludeInOutput != nil {
			s.IncludeInOutput = *r.IncludeInOutput
		}
		if r.AIConfidence != nil {
			s.AIConfidence = model.Confidence(*r.AIConfidence)
		}
		out = append(out, s)
	}
	return out
}

// FallbackAnalysis keeps every detected segment in the output with a neutral
// confidence.
func FallbackAnalysis(detected []*model.Segment) []*model.Segment {
	out := make([]*model.Segment, 0, len(detected))
	for _, d := range detected {
		s := d.Clone()
		s.IncludeInOutput = true
		s.AIConfidence = model.Confidence(FallbackConfidence)
		if !s.SegmentType.Valid() {
			if t := model.SegmentType(s.SpeakerLabel); t.Valid() {
				s.SegmentType = t
			} else {
				s.SegmentType = model.SegmentUnknown
			}
		}
		out = append(out, s)
	}
	return out
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

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

// This file provides hardcoded example instances that are embedded into prompts
// as few-shot examples, so that the model answers with JSON in the exact shape
// the adapters parse.
package model

// ExampleAnalyzedSegment is the shape of one refined segment in an analysis
// response.
type ExampleAnalyzedSegment struct {
	ID              string      `json:"id"`
	StartTime       float64     `json:"startTime"`
	EndTime         float64     `json:"endTime"`
	SpeakerLabel    string      `json:"speakerLabel"`
	SegmentType     SegmentType `json:"segmentType"`
	IncludeInOutput bool        `json:"includeInOutput"`
	AIConfidence    float64     `json:"aiConfidence"`
}

// GetExampleSegmentAnalysis returns a sample analysis response.
func GetExampleSegmentAnalysis() map[string][]ExampleAnalyzedSegment {
	return map[string][]ExampleAnalyzedSegment{
		"segments": {
			{ID: "7f1c0d2e-0000-4000-8000-000000000001", StartTime: 0, EndTime: 42.5, SpeakerLabel: "presenter1", SegmentType: SegmentIntro, IncludeInOutput: true, AIConfidence: 0.86},
			{ID: "7f1c0d2e-0000-4000-8000-000000000002", StartTime: 45.1, EndTime: 1260.0, SpeakerLabel: "presenter1", SegmentType: SegmentPresenter1, IncludeInOutput: true, AIConfidence: 0.94},
			{ID: "7f1c0d2e-0000-4000-8000-000000000003", StartTime: 1263.2, EndTime: 2410.8, SpeakerLabel: "presenter2", SegmentType: SegmentPresenter2, IncludeInOutput: true, AIConfidence: 0.91},
			{ID: "7f1c0d2e-0000-4000-8000-000000000004", StartTime: 2414.0, EndTime: 2702.3, SpeakerLabel: "unknown", SegmentType: SegmentQA, IncludeInOutput: false, AIConfidence: 0.72},
		},
	}
}

// GetExampleMetadata returns a sample metadata suggestion.
func GetExampleMetadata() *VideoMetadata {
	return &VideoMetadata{
		Title:        "Jane Kim - Scaling Event-Driven Pipelines on Cloud Run",
		Description:  "Jane Kim walks through how to design event-driven media pipelines, covering triggers, retries and observability.\n\nTopics:\n- Storage notifications\n- Idempotent processing\n- Tracing long-running jobs",
		Tags:         []string{"cloud run", "event driven", "pipelines", "pubsub", "observability", "webinar"},
		PlaylistName: "Cloud Architecture Talks",
	}
}

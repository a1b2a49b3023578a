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
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-long-video/internal/cloud"
	"github.com/jaycherian/gcp-go-long-video/internal/core/jobs"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
)

const (
	SilenceGapSeconds         = 3.0
	MergeGapSeconds           = 3.0
	MinSpanSeconds            = 5.0
	silenceTolerance          = 0.5
	SilenceConfidence         = 0.9
	SpeakerOnlyConfidence     = 0.7
	DetectedSegmentConfidence = 0.8
)

// BoundaryRequest names the transcript a detection runs on.
type BoundaryRequest struct {
	VideoID       string
	Bucket        string
	TranscriptKey string
	OwnerID       string
	Timestamp     time.Time
}

// BoundaryDetector turns a diarized transcript into presenter segments. It
// runs in-process, so Submit completes the work and the first poll reports
// COMPLETED.
type BoundaryDetector struct {
	store cloud.ObjectStore
	jobs  *jobs.LocalJobs[*model.BoundaryResult]
}

func NewBoundaryDetector(store cloud.ObjectStore) *BoundaryDetector {
	return &BoundaryDetector{store: store, jobs: jobs.NewLocalJobs[*model.BoundaryResult]()}
}

func (d *BoundaryDetector) Name() string { return "boundary-detector" }

func (d *BoundaryDetector) Submit(ctx context.Context, req BoundaryRequest) (string, error) {
	return d.jobs.Run(ctx, func(ctx context.Context) (*model.BoundaryResult, error) {
		transcript, err := LoadTranscript(ctx, d.store, req.Bucket, req.TranscriptKey)
		if err != nil {
			return nil, fmt.Errorf("video %s: %w", req.VideoID, err)
		}
		res := DetectBoundaries(req.VideoID, transcript)
		if !req.Timestamp.IsZero() {
			for _, s := range res.Segments {
				s.CreatedAt = req.Timestamp.UTC()
				s.UpdatedAt = s.CreatedAt
			}
		}
		return res, nil
	}), nil
}

func (d *BoundaryDetector) PollOrAwait(_ context.Context, jobID string) (jobs.JobStatus, error) {
	return d.jobs.Status(jobID)
}

func (d *BoundaryDetector) FailureReason(_ context.Context, jobID string) string {
	if _, err := d.jobs.Take(jobID); err != nil {
		return err.Error()
	}
	return ""
}

func (d *BoundaryDetector) MapResult(_ context.Context, jobID string) (*model.BoundaryResult, error) {
	return d.jobs.Take(jobID)
}

func (d *BoundaryDetector) Forget(jobID string) {
	d.jobs.Forget(jobID)
}

type timeGap struct {
	start, end float64
}

type speakerSpan struct {
	speaker    string
	start, end float64
}

// DetectBoundaries combines silence gaps and speaker diarization:
//
//  1. Silence gaps of at least SilenceGapSeconds between timed items.
//  2. One span per speaker turn, in order of start time; turns with
//     start >= end are dropped.
//  3. Consecutive spans of the same speaker at most MergeGapSeconds apart are merged.
//  4. Spans shorter than MinSpanSeconds are absorbed by the span before them.
//  5. A boundary sits in the middle of every gap between spans of different
//     speakers, with higher confidence when a silence gap covers it.
func DetectBoundaries(videoID string, t *model.Transcript) *model.BoundaryResult {
	items := sortedItems(t.Items)
	gaps := silenceGaps(items)
	spans := mergeSpans(speakerSpans(t.SpeakerTurns, items))

	boundaries := make([]model.Boundary, 0)
	for i := 0; i+1 < len(spans); i++ {
		curr, next := spans[i], spans[i+1]
		if curr.speaker == next.speaker {
			continue
		}
		gapStart, gapEnd := curr.end, next.start
		silent := false
		for _, g := range gaps {
			if g.start <= gapStart+silenceTolerance && g.end >= gapEnd-silenceTolerance {
				silent = true
				break
			}
		}
		confidence := SpeakerOnlyConfidence
		if silent {
			confidence = SilenceConfidence
		}
		boundaries = append(boundaries, model.Boundary{
			Time:        (gapStart + gapEnd) / 2,
			FromSpeaker: curr.speaker,
			ToSpeaker:   next.speaker,
			GapDuration: gapEnd - gapStart,
			HasSilence:  silent,
			Confidence:  confidence,
		})
	}

	speakerMap := presenterMap(spans)
	now := time.Now().UTC()
	segments := make([]*model.Segment, 0, len(spans))
	for _, span := range spans {
		label, ok := speakerMap[span.speaker]
		if !ok {
			label = string(model.SegmentUnknown)
		}
		segments = append(segments, &model.Segment{
			ID:              uuid.NewString(),
			VideoEditID:     videoID,
			StartTime:       round3(span.start),
			EndTime:         round3(span.end),
			SpeakerLabel:    label,
			SegmentType:     model.SegmentType(label),
			IncludeInOutput: true,
			AIConfidence:    model.Confidence(DetectedSegmentConfidence),
			Version:         1,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}
	return &model.BoundaryResult{Segments: segments, Boundaries: boundaries, SpeakerMap: speakerMap}
}

// sortedItems orders items by start time. Model output does not guarantee it.
func sortedItems(in []model.TranscriptItem) []model.TranscriptItem {
	items := append([]model.TranscriptItem(nil), in...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].Start < items[j].Start })
	return items
}

func silenceGaps(items []model.TranscriptItem) []timeGap {
	var gaps []timeGap
	prevEnd := 0.0
	for _, item := range items {
		if item.Start-prevEnd >= SilenceGapSeconds {
			gaps = append(gaps, timeGap{start: prevEnd, end: item.Start})
		}
		prevEnd = math.Max(prevEnd, item.End)
	}
	return gaps
}

// speakerSpans uses the diarized turns, or groups consecutive items of the
// same speaker when a transcript carries no turns. Spans come back sorted by
// start time.
func speakerSpans(turns []model.SpeakerTurn, items []model.TranscriptItem) []speakerSpan {
	var spans []speakerSpan
	add := func(speaker string, start, end float64) {
		if start >= end {
			return
		}
		if speaker == "" {
			speaker = string(model.SegmentUnknown)
		}
		spans = append(spans, speakerSpan{speaker: speaker, start: start, end: end})
	}
	if len(turns) > 0 {
		for _, turn := range turns {
			add(turn.Speaker, turn.Start, turn.End)
		}
		sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
		return spans
	}

	var cur *speakerSpan
	for _, item := range items {
		if item.Speaker == "" {
			continue
		}
		if cur != nil && cur.speaker == item.Speaker {
			cur.end = math.Max(cur.end, item.End)
			continue
		}
		if cur != nil {
			add(cur.speaker, cur.start, cur.end)
		}
		cur = &speakerSpan{speaker: item.Speaker, start: item.Start, end: item.End}
	}
	if cur != nil {
		add(cur.speaker, cur.start, cur.end)
	}
	return spans
}

func mergeSpans(spans []speakerSpan) []speakerSpan {
	if len(spans) == 0 {
		return nil
	}
	merged := []speakerSpan{spans[0]}
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.speaker == last.speaker && s.start-last.end <= MergeGapSeconds {
			last.end = math.Max(last.end, s.end)
			continue
		}
		merged = append(merged, s)
	}

	final := []speakerSpan{merged[0]}
	for _, s := range merged[1:] {
		if s.end-s.start < MinSpanSeconds {
			final[len(final)-1].end = math.Max(final[len(final)-1].end, s.end)
			continue
		}
		final = append(final, s)
	}
	return final
}

// presenterMap assigns presenter1 and presenter2 to the first two speakers in
// order of appearance.
func presenterMap(spans []speakerSpan) map[string]string {
	m := make(map[string]string)
	n := 0
	for _, s := range spans {
		if _, ok := m[s.speaker]; ok || n == 2 {
			continue
		}
		if s.speaker == string(model.SegmentUnknown) {
			continue
		}
		n++
		m[s.speaker] = model.PresenterLabel(n)
	}
	return m
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

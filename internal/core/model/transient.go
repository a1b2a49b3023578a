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

// These objects are used in memory by the workflows and adapters but are not
// persisted as records of their own.
package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// RawUpload identifies a newly uploaded source video.
type RawUpload struct {
	VideoID  string `json:"videoId"`
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	MIMEType string `json:"mimeType,omitempty"`
}

// MediaURI is the gs:// location of the upload.
func (r *RawUpload) MediaURI() string {
	return fmt.Sprintf("gs://%s/%s", r.Bucket, r.Key)
}

// TranscriptItem is a single timed word or phrase with its speaker.
type TranscriptItem struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Content string  `json:"content"`
	Speaker string  `json:"speaker,omitempty"`
}

// SpeakerTurn is a continuous stretch of speech by one diarized speaker.
type SpeakerTurn struct {
	Speaker string  `json:"speaker"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Text    string  `json:"text,omitempty"`
}

// Transcript is the diarized transcription of a source video.
type Transcript struct {
	JobName      string           `json:"jobName"`
	LanguageCode string           `json:"languageCode"`
	Text         string           `json:"text"`
	Items        []TranscriptItem `json:"items"`
	SpeakerTurns []SpeakerTurn    `json:"speakerTurns"`
}

// Script returns the transcript text, rebuilding it from the speaker turns when
// the flat text is missing.
func (t *Transcript) Script() string {
	if strings.TrimSpace(t.Text) != "" {
		return t.Text
	}
	parts := make([]string, 0, len(t.SpeakerTurns))
	for _, turn := range t.SpeakerTurns {
		if turn.Text != "" {
			parts = append(parts, turn.Text)
		}
	}
	return strings.Join(parts, " ")
}

// WebVTT renders the speaker turns as a WebVTT subtitle document.
func (t *Transcript) WebVTT() string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	n := 0
	for _, turn := range t.SpeakerTurns {
		if strings.TrimSpace(turn.Text) == "" || turn.End <= turn.Start {
			continue
		}
		n++
		fmt.Fprintf(&b, "%d\n%s --> %s\n<v %s>%s\n\n", n, vttTime(turn.Start), vttTime(turn.End), turn.Speaker, strings.TrimSpace(turn.Text))
	}
	return b.String()
}

func vttTime(sec float64) string {
	d := time.Duration(math.Round(sec*float64(time.Second/time.Millisecond)) * float64(time.Millisecond))
	h := int(d / time.Hour)
	d -= time.Duration(h) * time.Hour
	m := int(d / time.Minute)
	d -= time.Duration(m) * time.Minute
	s := int(d / time.Second)
	d -= time.Duration(s) * time.Second
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, int(d/time.Millisecond))
}

// Boundary is a point where the active speaker changes.
type Boundary struct {
	Time        float64 `json:"time"`
	FromSpeaker string  `json:"fromSpeaker"`
	ToSpeaker   string  `json:"toSpeaker"`
	GapDuration float64 `json:"gapDuration"`
	HasSilence  bool    `json:"hasSilence"`
	Confidence  float64 `json:"confidence"`
}

// BoundaryResult is the output of boundary detection.
type BoundaryResult struct {
	Segments   []*Segment        `json:"segments"`
	Boundaries []Boundary        `json:"boundaries"`
	SpeakerMap map[string]string `json:"speakerMap"`
}

// TimeRange is a [Start, End) range of seconds in the source video.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Clip is a TimeRange expressed as frame timecodes.
type Clip struct {
	StartTimecode string `json:"startTimecode"`
	EndTimecode   string `json:"endTimecode"`
}

// DefaultFrameRate used for timecodes and encoding.
const DefaultFrameRate = 25

// Timecode formats seconds as HH:MM:SS:FF at the given frame rate.
func Timecode(seconds float64, fps int) string {
	if fps <= 0 {
		fps = DefaultFrameRate
	}
	if seconds < 0 {
		seconds = 0
	}
	totalFrames := int(math.Round(seconds * float64(fps)))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	return fmt.Sprintf("%02d:%02d:%02d:%02d", totalSeconds/3600, (totalSeconds%3600)/60, totalSeconds%60, frames)
}

// VideoMetadata is the publishing metadata suggested for a rendered output.
type VideoMetadata struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Tags         []string `json:"tags"`
	PlaylistName string   `json:"playlistName"`
}

// MaxTitleLength is the longest title the video platform accepts.
const MaxTitleLength = 100

// FallbackMetadata is the deterministic suggestion used when generation fails.
func FallbackMetadata(presenterName, videoName string) *VideoMetadata {
	base := videoName
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return &VideoMetadata{
		Title:        TruncateTitle(fmt.Sprintf("%s - %s", presenterName, base)),
		Description:  fmt.Sprintf("Presentation by %s", presenterName),
		Tags:         []string{"presentation", "webinar", "seminar"},
		PlaylistName: "Presentations",
	}
}

// TruncateTitle shortens a title to MaxTitleLength runes.
func TruncateTitle(title string) string {
	r := []rune(strings.TrimSpace(title))
	if len(r) > MaxTitleLength {
		return string(r[:MaxTitleLength])
	}
	return string(r)
}

// EventKind distinguishes stage transitions from upload status changes.
type EventKind string

const (
	EventStage  EventKind = "stage"
	EventUpload EventKind = "upload"
)

// StageChangeEvent is published after every persisted stage or upload status
// change. Seq increases monotonically per bus.
type StageChangeEvent struct {
	VideoID         string       `json:"videoId"`
	Stage           int          `json:"stage"`
	Kind            EventKind    `json:"kind,omitempty"`
	Seq             uint64       `json:"seq"`
	PresenterNumber int          `json:"presenterNumber,omitempty"`
	UploadStatus    UploadStatus `json:"uploadStatus,omitempty"`
	Cause           string       `json:"cause,omitempty"`
	Timestamp       time.Time    `json:"timestamp"`
}

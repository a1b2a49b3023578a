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
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"text/template"

	"github.com/jaycherian/gcp-go-long-video/internal/cloud"
	"github.com/jaycherian/gcp-go-long-video/internal/core/jobs"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
)

const (
	JobNameSuffix         = "_longvideo"
	TranscriptFileName    = "LongVideoTranscript.json"
	SubtitleFileName      = "LongVideoTranscript.vtt"
	DefaultVideoMIMEType  = "video/mp4"
	transcriptContentType = "application/json"
	subtitleContentType   = "text/vtt"
)

// ErrEmptyTranscript is returned when the model produced no speech at all.
var ErrEmptyTranscript = errors.New("transcript has no text and no speaker turns")

// TranscriptionJobName is the job name of a video's transcription.
func TranscriptionJobName(videoID string) string {
	return videoID + JobNameSuffix
}

// TranscriptKey is the object key of a video's transcript.
func TranscriptKey(prefix, videoID string) string {
	return path.Join(prefix, videoID, TranscriptFileName)
}

// SubtitleKey is the object key of a video's WebVTT subtitles.
func SubtitleKey(prefix, videoID string) string {
	return path.Join(prefix, videoID, SubtitleFileName)
}

type TranscriptionRequest struct {
	VideoID         string
	JobName         string
	MediaURI        string
	MIMEType        string
	LanguageOptions []string
	MaxSpeakers     int
}

type TranscriptionResult struct {
	TranscriptURI string
	TranscriptKey string
	SubtitleKey   string
}

// Transcriber produces a diarized transcript of a raw upload with Gemini and
// writes it next to the video. Jobs run in the background and are keyed by
// job name, so submitting the same video twice does not start a second call.
type Transcriber struct {
	gemini *geminiClient
	store  cloud.ObjectStore
	prompt *template.Template
	bucket string
	prefix string
	jobs   *jobs.LocalJobs[*TranscriptionResult]
}

func NewTranscriber(model cloud.ContentGenerator, store cloud.ObjectStore, prompt *template.Template, storage cloud.Storage) *Transcriber {
	return &Transcriber{
		gemini: newGeminiClient("transcriber", model),
		store:  store,
		prompt: prompt,
		bucket: storage.MediaBucket,
		prefix: storage.Prefix(),
		jobs:   jobs.NewLocalJobs[*TranscriptionResult](),
	}
}

func (t *Transcriber) Name() string { return "transcriber" }

func (t *Transcriber) Submit(ctx context.Context, req TranscriptionRequest) (string, error) {
	if req.VideoID == "" || req.MediaURI == "" {
		return "", fmt.Errorf("transcription request needs a video id and a media uri")
	}
	jobName := req.JobName
	if jobName == "" {
		jobName = TranscriptionJobName(req.VideoID)
	}
	if len(req.LanguageOptions) == 0 {
		req.LanguageOptions = cloud.DefaultLanguageOptions
	}
	if req.MaxSpeakers <= 0 {
		req.MaxSpeakers = cloud.DefaultMaxSpeakers
	}
	if req.MIMEType == "" {
		req.MIMEType = DefaultVideoMIMEType
	}
	// The job outlives the poll that started it, so a redelivered trigger can
	// pick it up again.
	t.jobs.Start(context.WithoutCancel(ctx), jobName, func(ctx context.Context) (*TranscriptionResult, error) {
		return t.transcribe(ctx, jobName, req)
	})
	return jobName, nil
}

func (t *Transcriber) transcribe(ctx context.Context, jobName string, req TranscriptionRequest) (*TranscriptionResult, error) {
	prompt, err := renderPrompt(t.prompt, map[string]interface{}{
		"LanguageOptions": req.LanguageOptions,
		"MaxSpeakers":     req.MaxSpeakers,
		"VideoID":         req.VideoID,
	})
	if err != nil {
		return nil, err
	}
	out, err := t.gemini.generate(ctx, cloud.NewMediaContent(req.MediaURI, req.MIMEType, prompt))
	if err != nil {
		return nil, fmt.Errorf("gemini transcription failed: %w", err)
	}
	transcript, err := parseTranscript(out)
	if err != nil {
		return nil, err
	}
	transcript.JobName = jobName

	data, err := json.Marshal(transcript)
	if err != nil {
		return nil, err
	}
	res := &TranscriptionResult{
		TranscriptKey: TranscriptKey(t.prefix, req.VideoID),
		SubtitleKey:   SubtitleKey(t.prefix, req.VideoID),
	}
	res.TranscriptURI = cloud.StorageLocation(t.bucket, res.TranscriptKey)
	if err := t.store.Write(ctx, t.bucket, res.SubtitleKey, subtitleContentType, []byte(transcript.WebVTT())); err != nil {
		return nil, fmt.Errorf("writing subtitles: %w", err)
	}
	// The transcript goes last: its presence marks the job as done.
	if err := t.store.Write(ctx, t.bucket, res.TranscriptKey, transcriptContentType, data); err != nil {
		return nil, fmt.Errorf("writing transcript: %w", err)
	}
	slog.InfoContext(ctx, "transcription finished", "videoId", req.VideoID, "turns", len(transcript.SpeakerTurns), "items", len(transcript.Items))
	return res, nil
}

func parseTranscript(out string) (*model.Transcript, error) {
	body, err := cloud.ExtractJSON(out)
	if err != nil {
		return nil, err
	}
	var transcript model.Transcript
	if err := json.Unmarshal([]byte(body), &transcript); err != nil {
		return nil, fmt.Errorf("failed to parse transcript: %w", err)
	}
	if strings.TrimSpace(transcript.Text) == "" && len(transcript.SpeakerTurns) == 0 && len(transcript.Items) == 0 {
		return nil, ErrEmptyTranscript
	}
	return &transcript, nil
}

func (t *Transcriber) videoID(jobName string) string {
	return strings.TrimSuffix(jobName, JobNameSuffix)
}

// PollOrAwait reports the job status. A job this process does not know, for
// example one started before a restart, counts as completed when its
// transcript exists and as not found otherwise.
func (t *Transcriber) PollOrAwait(ctx context.Context, jobID string) (jobs.JobStatus, error) {
	status, err := t.jobs.Status(jobID)
	if err == nil {
		return status, nil
	}
	if !errors.Is(err, jobs.ErrJobNotFound) {
		return "", err
	}
	exists, existsErr := t.store.Exists(ctx, t.bucket, TranscriptKey(t.prefix, t.videoID(jobID)))
	if existsErr != nil {
		return "", existsErr
	}
	if exists {
		return jobs.StatusCompleted, nil
	}
	return "", err
}

func (t *Transcriber) FailureReason(_ context.Context, jobID string) string {
	if _, err := t.jobs.Take(jobID); err != nil {
		return err.Error()
	}
	return ""
}

func (t *Transcriber) MapResult(_ context.Context, jobID string) (*TranscriptionResult, error) {
	res, err := t.jobs.Take(jobID)
	if errors.Is(err, jobs.ErrJobNotFound) {
		key := TranscriptKey(t.prefix, t.videoID(jobID))
		return &TranscriptionResult{
			TranscriptURI: cloud.StorageLocation(t.bucket, key),
			TranscriptKey: key,
			SubtitleKey:   SubtitleKey(t.prefix, t.videoID(jobID)),
		}, nil
	}
	return res, err
}

// Cancel stops a running transcription.
func (t *Transcriber) Cancel(jobID string) {
	t.jobs.Cancel(jobID)
}

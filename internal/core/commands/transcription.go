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

package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jaycherian/gcp-go-long-video/internal/cloud"
	"github.com/jaycherian/gcp-go-long-video/internal/core/adapters"
	"github.com/jaycherian/gcp-go-long-video/internal/core/cor"
	"github.com/jaycherian/gcp-go-long-video/internal/core/jobs"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
	"github.com/jaycherian/gcp-go-long-video/internal/core/services"
)

// TranscriptionSettings are the request options passed to the transcriber.
// There is no timeout: a transcription may poll for as long as the caller's
// context lives.
type TranscriptionSettings struct {
	LanguageOptions []string
	MaxSpeakers     int
	Storage         cloud.Storage
}

// Transcription runs the transcription job through the poller. The job id and
// the poll count are written to the edit after every attempt, and a run that
// finds them there resumes polling instead of submitting again.
type Transcription struct {
	cor.BaseCommand
	stages      services.StageStore
	machine     StageAdvancer
	transcriber jobs.Adapter[adapters.TranscriptionRequest, *adapters.TranscriptionResult]
	poller      *jobs.Poller
	settings    TranscriptionSettings
}

func NewTranscription(
	name string,
	stages services.StageStore,
	machine StageAdvancer,
	transcriber jobs.Adapter[adapters.TranscriptionRequest, *adapters.TranscriptionResult],
	poller *jobs.Poller,
	settings TranscriptionSettings,
) *Transcription {
	return &Transcription{
		BaseCommand: *cor.NewBaseCommandWithParams(name, ParamVideoEdit, ParamVideoEdit),
		stages:      stages,
		machine:     machine,
		transcriber: transcriber,
		poller:      poller,
		settings:    settings,
	}
}

func (c *Transcription) Execute(context cor.Context) {
	ctx := context.GetContext()
	edit := videoEdit(context)

	if edit.Stage.AtLeast(model.StageTranscribed) {
		context.Add(ParamTranscriptURI, c.transcriptURI(edit))
		c.Succeed(context, edit)
		return
	}

	req := adapters.TranscriptionRequest{
		VideoID:         edit.ID,
		JobName:         adapters.TranscriptionJobName(edit.ID),
		MediaURI:        cloud.StorageLocation(edit.RawBucket, edit.RawKey),
		MIMEType:        adapters.DefaultVideoMIMEType,
		LanguageOptions: c.settings.LanguageOptions,
		MaxSpeakers:     c.settings.MaxSpeakers,
	}
	if upload := rawUpload(context); upload != nil && upload.MIMEType != "" {
		req.MIMEType = upload.MIMEType
	}

	opts := jobs.InvokeOptions{OnCheckpoint: c.checkpoint(edit.ID)}
	if edit.TranscriptionJobID != "" {
		slog.InfoContext(ctx, "resuming transcription", "videoId", edit.ID, "jobId", edit.TranscriptionJobID, "attempts", edit.PollAttempts)
		opts.Resume = &jobs.Checkpoint{JobID: edit.TranscriptionJobID, Attempts: edit.PollAttempts}
	}

	res, err := jobs.Invoke(ctx, c.poller, c.transcriber, req, opts)
	var failed *jobs.JobFailedError
	switch {
	case errors.As(err, &failed):
		updated, ferr := c.machine.Fail(ctx, edit.ID, "transcription failed", failed)
		if ferr != nil {
			c.Fail(context, ferr)
			return
		}
		c.GetErrorCounter().Add(ctx, 1)
		context.Add(ParamVideoEdit, updated)
		context.Halt("transcription failed")
		return
	case err != nil:
		if rerr := c.machine.RecordError(ctx, edit.ID, err); rerr != nil {
			slog.WarnContext(ctx, "could not record transcription error", "videoId", edit.ID, "error", rerr)
		}
		c.Fail(context, fmt.Errorf("transcribing %s: %w", edit.ID, err))
		return
	}

	updated, err := c.stages.Update(ctx, edit.ID, func(e *model.VideoEdit) error {
		e.TranscriptURI = res.TranscriptURI
		e.LastError = ""
		return nil
	})
	if err != nil {
		c.Fail(context, err)
		return
	}
	context.Add(ParamTranscriptURI, res.TranscriptURI)
	c.Succeed(context, updated)
}

func (c *Transcription) checkpoint(id string) func(ctx context.Context, cp jobs.Checkpoint) error {
	return func(ctx context.Context, cp jobs.Checkpoint) error {
		_, err := c.stages.Update(ctx, id, func(e *model.VideoEdit) error {
			e.TranscriptionJobID = cp.JobID
			e.PollAttempts = cp.Attempts
			return nil
		})
		return err
	}
}

// transcriptURI prefers the recorded transcript location over the derived one.
func (c *Transcription) transcriptURI(edit *model.VideoEdit) string {
	if edit.TranscriptURI != "" {
		return edit.TranscriptURI
	}
	return cloud.StorageLocation(c.settings.Storage.MediaBucket, adapters.TranscriptKey(c.settings.Storage.Prefix(), edit.ID))
}

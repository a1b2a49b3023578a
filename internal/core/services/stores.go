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

// Package services holds the persistent stores of the pipeline. Every store
// exposes an atomic single-record read-modify-write (Update) built on an
// optimistic version column, which is what the stage machine and the upload
// workflow use to make their transitions race-free.
package services

import (
	"context"
	"time"

	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
)

// MaxUpdateRetries bounds how often Update re-reads after losing a race.
const MaxUpdateRetries = 5

// StageStore persists VideoEdit records.
type StageStore interface {
	Create(ctx context.Context, edit *model.VideoEdit) error
	Get(ctx context.Context, id string) (*model.VideoEdit, error)
	// Update applies mutate to the current record and writes it only if no one
	// else wrote in between. An error from mutate aborts without writing.
	Update(ctx context.Context, id string, mutate func(*model.VideoEdit) error) (*model.VideoEdit, error)
	// ListStalledTranscriptions returns UPLOADED edits that have a persisted
	// transcription job and have not been touched since olderThan.
	ListStalledTranscriptions(ctx context.Context, olderThan time.Time) ([]*model.VideoEdit, error)
	CountByStage(ctx context.Context) (map[model.Stage]int, error)
}

// SegmentStore persists the Segments of a VideoEdit.
type SegmentStore interface {
	// ReplaceForVideo writes the detector output for a video in one
	// transaction, replacing any rows left by an interrupted earlier run.
	ReplaceForVideo(ctx context.Context, videoID string, segments []*model.Segment) error
	Get(ctx context.Context, id string) (*model.Segment, error)
	ListByVideo(ctx context.Context, videoID string) ([]*model.Segment, error)
	// ListForRender returns the included segments labelled for the presenter,
	// ordered by start time.
	ListForRender(ctx context.Context, videoID string, presenter int) ([]*model.Segment, error)
	Update(ctx context.Context, id string, mutate func(*model.Segment) error) (*model.Segment, error)
	// ApplyAnalysis copies the classification of refined segments onto the
	// stored ones with the same id. Unknown ids are ignored, so the number of
	// records never changes. It returns how many records were updated.
	ApplyAnalysis(ctx context.Context, videoID string, refined []*model.Segment) (int, error)
}

// RenderOutputStore persists one RenderOutput per (video, presenter).
type RenderOutputStore interface {
	// Upsert creates the output or resets the existing one for the same video
	// and presenter, keeping its id. It fails with ErrUploadInProgress while
	// the existing output is uploading.
	Upsert(ctx context.Context, out *model.RenderOutput) (*model.RenderOutput, error)
	Get(ctx context.Context, id string) (*model.RenderOutput, error)
	GetByPresenter(ctx context.Context, videoID string, presenter int) (*model.RenderOutput, error)
	ListByVideo(ctx context.Context, videoID string) ([]*model.RenderOutput, error)
	Update(ctx context.Context, id string, mutate func(*model.RenderOutput) error) (*model.RenderOutput, error)
}

// CredentialStore persists the single YouTube credential.
type CredentialStore interface {
	Get(ctx context.Context) (*model.YouTubeCredential, error)
	Put(ctx context.Context, cred *model.YouTubeCredential) (*model.YouTubeCredential, error)
	// CompareAndSwap writes cred only if the stored version still equals
	// expectedVersion, otherwise it returns ErrVersionConflict.
	CompareAndSwap(ctx context.Context, expectedVersion int64, cred *model.YouTubeCredential) (*model.YouTubeCredential, error)
}

// Stores groups the store implementations handed to the workflows.
type Stores struct {
	Stages      StageStore
	Segments    SegmentStore
	Outputs     RenderOutputStore
	Credentials CredentialStore
}

// UploadMetadata is what BeginUpload records on the output.
type UploadMetadata struct {
	Title        string
	Description  string
	Tags         []string
	PlaylistName string
}

// BeginUpload moves an output to uploading in one conditional write. It fails
// with ErrUploadInProgress when an upload is already running and with
// ErrInvalidTransition when the output has not been rendered. An upload that
// started more than abandonAfter before startedAt is taken to belong to a
// process that died and may be replaced; zero never replaces one.
func BeginUpload(ctx context.Context, outputs RenderOutputStore, id string, meta UploadMetadata, startedAt time.Time, abandonAfter time.Duration) (*model.RenderOutput, error) {
	return outputs.Update(ctx, id, func(o *model.RenderOutput) error {
		if !o.UploadStatus.CanBegin() && !abandoned(o, startedAt, abandonAfter) {
			return model.ErrUploadInProgress
		}
		if o.RenderStatus != model.RenderStatusRendered || o.StorageLocation == "" {
			return model.ErrInvalidTransition
		}
		o.Title = meta.Title
		o.Description = meta.Description
		o.Tags = append([]string(nil), meta.Tags...)
		o.PlaylistName = meta.PlaylistName
		o.UploadStatus = model.UploadUploading
		o.UploadError = ""
		o.YouTubeVideoID = ""
		t := startedAt.UTC()
		o.UploadStartedAt = &t
		return nil
	})
}

func abandoned(o *model.RenderOutput, now time.Time, after time.Duration) bool {
	return after > 0 && o.UploadStartedAt != nil && now.Sub(*o.UploadStartedAt) > after
}

// copyClassification copies the analyzer-owned fields of src onto dst.
func copyClassification(dst, src *model.Segment) {
	dst.StartTime = src.StartTime
	dst.EndTime = src.EndTime
	dst.SpeakerLabel = src.SpeakerLabel
	dst.SegmentType = src.SegmentType
	dst.IncludeInOutput = src.IncludeInOutput
	if src.AIConfidence != nil {
		v := *src.AIConfidence
		dst.AIConfidence = &v
	}
}

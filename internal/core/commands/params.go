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

// Package commands holds the cor.Command steps that make up the long-video
// workflows. Steps share state through well-known context keys and look at
// the persisted stage before doing any work, so a chain that is run again for
// the same video resumes where the last run stopped.
package commands

import (
	"context"

	"github.com/jaycherian/gcp-go-long-video/internal/core/cor"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
)

// Context keys shared by the steps.
const (
	ParamRawUpload     = "__raw_upload__"
	ParamVideoEdit     = "__video_edit__"
	ParamTranscriptURI = "__transcript_uri__"
	ParamBoundaries    = "__boundaries__"
	ParamRenderJob     = "__render_job__"
	ParamRenderOutput  = "__render_output__"
	ParamRenderResult  = "__render_result__"
)

// StageAdvancer is the stage machine as seen by the steps.
type StageAdvancer interface {
	// Advance moves the edit to the target stage. A target at or below the
	// current stage is a no-op and reports changed == false.
	Advance(ctx context.Context, id string, to model.Stage) (edit *model.VideoEdit, changed bool, err error)
	// Fail moves the edit to FAILED with a cause.
	Fail(ctx context.Context, id, cause string, err error) (*model.VideoEdit, error)
	// RecordError keeps err as the edit's last error without moving the stage.
	RecordError(ctx context.Context, id string, err error) error
}

// RenderJob is the input of the presenter render chain.
type RenderJob struct {
	VideoID         string
	PresenterNumber int
	Segments        []*model.Segment
}

func videoEdit(ctx cor.Context) *model.VideoEdit {
	edit, _ := ctx.Get(ParamVideoEdit).(*model.VideoEdit)
	return edit
}

func rawUpload(ctx cor.Context) *model.RawUpload {
	upload, _ := ctx.Get(ParamRawUpload).(*model.RawUpload)
	return upload
}

func renderJob(ctx cor.Context) *RenderJob {
	job, _ := ctx.Get(ParamRenderJob).(*RenderJob)
	return job
}

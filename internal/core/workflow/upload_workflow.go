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

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-long-video/internal/core/adapters"
	"github.com/jaycherian/gcp-go-long-video/internal/core/events"
	"github.com/jaycherian/gcp-go-long-video/internal/core/jobs"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
	"github.com/jaycherian/gcp-go-long-video/internal/core/services"
)

// UploadWorkflow publishes a rendered output. Starting an upload is one
// conditional write, so two concurrent requests for the same output cannot
// both start one.
type UploadWorkflow struct {
	stages    services.StageStore
	outputs   services.RenderOutputStore
	uploader  jobs.Adapter[adapters.UploadRequest, string]
	poller    *jobs.Poller
	publisher events.Publisher
	timeout   time.Duration
	now       func() time.Time
	acquire   func(context.Context) (func(), error)
}

func NewUploadWorkflow(deps *Dependencies) *UploadWorkflow {
	return &UploadWorkflow{
		stages:    deps.Stores.Stages,
		outputs:   deps.Stores.Outputs,
		uploader:  deps.Uploader,
		poller:    deps.Poller,
		publisher: deps.Bus,
		timeout:   deps.Config.Pipeline.UploadTimeout(),
		now:       deps.now,
		acquire:   deps.acquire,
	}
}

// Start moves the output to uploading and runs the upload in the background.
// It fails with ErrUploadInProgress while another upload of the output runs.
func (w *UploadWorkflow) Start(ctx context.Context, outputID string, meta services.UploadMetadata) (*jobs.Task, error) {
	out, err := services.BeginUpload(ctx, w.outputs, outputID, meta, w.now(), w.timeout)
	if err != nil {
		return nil, err
	}
	w.publish(ctx, out)

	return jobs.Go(ctx, "upload/"+out.ID, func(ctx context.Context) error {
		release, err := w.acquire(ctx)
		if err != nil {
			return w.finish(ctx, out, "", err)
		}
		defer release()
		videoID, err := w.upload(ctx, out)
		return w.finish(ctx, out, videoID, err)
	}), nil
}

func (w *UploadWorkflow) upload(ctx context.Context, out *model.RenderOutput) (string, error) {
	bucket, key, err := services.ParseStorageLocation(out.StorageLocation)
	if err != nil {
		return "", err
	}
	return jobs.Invoke(ctx, w.poller, w.uploader, adapters.UploadRequest{
		OutputID:     out.ID,
		Title:        out.Title,
		Description:  out.Description,
		Tags:         out.Tags,
		PlaylistName: out.PlaylistName,
		Bucket:       bucket,
		ObjectKey:    key,
	}, jobs.InvokeOptions{Timeout: w.timeout})
}

func (w *UploadWorkflow) finish(ctx context.Context, out *model.RenderOutput, videoID string, uploadErr error) error {
	status := model.UploadCompleted
	switch {
	case uploadErr == nil:
	case errors.Is(uploadErr, context.Canceled) || ctx.Err() != nil:
		status = model.UploadCancelled
	default:
		status = model.UploadFailed
	}

	ctx = context.WithoutCancel(ctx)
	updated, err := w.outputs.Update(ctx, out.ID, func(o *model.RenderOutput) error {
		if o.UploadStatus != model.UploadUploading {
			return fmt.Errorf("%w: output %s is %q", model.ErrInvalidTransition, o.ID, o.UploadStatus)
		}
		o.UploadStatus = status
		o.YouTubeVideoID = videoID
		o.UploadError = ""
		if uploadErr != nil {
			o.UploadError = uploadErr.Error()
		}
		return nil
	})
	if err != nil {
		slog.ErrorContext(ctx, "could not record upload result", "outputId", out.ID, "status", status, "error", err)
		return errors.Join(uploadErr, err)
	}
	if uploadErr != nil {
		slog.WarnContext(ctx, "upload did not complete", "outputId", out.ID, "status", status, "error", uploadErr)
	} else {
		slog.InfoContext(ctx, "upload completed", "outputId", out.ID, "youtubeVideoId", videoID)
	}
	w.publish(ctx, updated)
	return uploadErr
}

func (w *UploadWorkflow) publish(ctx context.Context, out *model.RenderOutput) {
	if w.publisher == nil {
		return
	}
	evt := model.StageChangeEvent{
		VideoID:         out.VideoEditID,
		Kind:            model.EventUpload,
		PresenterNumber: out.PresenterNumber,
		UploadStatus:    out.UploadStatus,
		Cause:           out.UploadError,
	}
	if edit, err := w.stages.Get(ctx, out.VideoEditID); err == nil {
		evt.Stage = int(edit.Stage)
	}
	w.publisher.Publish(ctx, evt)
}

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
	"fmt"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-long-video/internal/core/adapters"
	"github.com/jaycherian/gcp-go-long-video/internal/core/cor"
	"github.com/jaycherian/gcp-go-long-video/internal/core/jobs"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
	"github.com/jaycherian/gcp-go-long-video/internal/core/services"
)

// PrepareRenderOutput creates the presenter's output, or resets the existing
// one, with the rendering status.
type PrepareRenderOutput struct {
	cor.BaseCommand
	outputs services.RenderOutputStore
}

func NewPrepareRenderOutput(name string, outputs services.RenderOutputStore) *PrepareRenderOutput {
	return &PrepareRenderOutput{
		BaseCommand: *cor.NewBaseCommandWithParams(name, ParamRenderJob, ParamRenderOutput),
		outputs:     outputs,
	}
}

func (c *PrepareRenderOutput) Execute(context cor.Context) {
	job := renderJob(context)
	out, err := c.outputs.Upsert(context.GetContext(), &model.RenderOutput{
		VideoEditID:     job.VideoID,
		PresenterNumber: job.PresenterNumber,
		RenderStatus:    model.RenderStatusRendering,
	})
	if err != nil {
		c.Fail(context, err)
		return
	}
	c.Succeed(context, out)
}

// RenderPresenter cuts the presenter's segments into one video. A failure
// marks the output failed and is recorded on the edit; the stage stays.
type RenderPresenter struct {
	cor.BaseCommand
	outputs  services.RenderOutputStore
	machine  StageAdvancer
	renderer jobs.Adapter[adapters.RenderRequest, *adapters.RenderResult]
	poller   *jobs.Poller
	timeout  time.Duration
}

func NewRenderPresenter(
	name string,
	outputs services.RenderOutputStore,
	machine StageAdvancer,
	renderer jobs.Adapter[adapters.RenderRequest, *adapters.RenderResult],
	poller *jobs.Poller,
	timeout time.Duration,
) *RenderPresenter {
	return &RenderPresenter{
		BaseCommand: *cor.NewBaseCommandWithParams(name, ParamRenderJob, ParamRenderResult),
		outputs:     outputs,
		machine:     machine,
		renderer:    renderer,
		poller:      poller,
		timeout:     timeout,
	}
}

func (c *RenderPresenter) Execute(context cor.Context) {
	ctx := context.GetContext()
	job := renderJob(context)
	edit := videoEdit(context)
	out, _ := context.Get(ParamRenderOutput).(*model.RenderOutput)
	if edit == nil || out == nil {
		c.Fail(context, fmt.Errorf("render of video %s presenter %d started without its edit or output", job.VideoID, job.PresenterNumber))
		return
	}

	ranges := make([]model.TimeRange, 0, len(job.Segments))
	for _, s := range job.Segments {
		ranges = append(ranges, model.TimeRange{Start: s.StartTime, End: s.EndTime})
	}
	res, err := jobs.Invoke(ctx, c.poller, c.renderer, adapters.RenderRequest{
		VideoID:         edit.ID,
		PresenterNumber: job.PresenterNumber,
		Title:           edit.PresenterName(job.PresenterNumber),
		Description:     edit.VideoName,
		Bucket:          edit.RawBucket,
		SourceKey:       edit.RawKey,
		Segments:        ranges,
	}, jobs.InvokeOptions{Timeout: c.timeout})
	if err != nil {
		if _, uerr := c.outputs.Update(ctx, out.ID, func(o *model.RenderOutput) error {
			o.RenderStatus = model.RenderStatusFailed
			o.RenderError = err.Error()
			return nil
		}); uerr != nil {
			slog.WarnContext(ctx, "could not mark output failed", "outputId", out.ID, "error", uerr)
		}
		if rerr := c.machine.RecordError(ctx, edit.ID, err); rerr != nil {
			slog.WarnContext(ctx, "could not record render error", "videoId", edit.ID, "error", rerr)
		}
		c.Fail(context, fmt.Errorf("rendering presenter %d of %s: %w", job.PresenterNumber, edit.ID, err))
		return
	}
	slog.InfoContext(ctx, "presenter rendered", "videoId", edit.ID, "presenter", job.PresenterNumber, "clips", len(res.Clips), "duration", res.Duration)
	c.Succeed(context, res)
}

// RecordRenderLocation stores where the rendered video was written.
type RecordRenderLocation struct {
	cor.BaseCommand
	outputs services.RenderOutputStore
}

func NewRecordRenderLocation(name string, outputs services.RenderOutputStore) *RecordRenderLocation {
	return &RecordRenderLocation{
		BaseCommand: *cor.NewBaseCommandWithParams(name, ParamRenderResult, ParamRenderOutput),
		outputs:     outputs,
	}
}

func (c *RecordRenderLocation) Execute(context cor.Context) {
	res, _ := context.Get(ParamRenderResult).(*adapters.RenderResult)
	out, _ := context.Get(ParamRenderOutput).(*model.RenderOutput)
	if res == nil || out == nil {
		c.Fail(context, fmt.Errorf("render result or output missing"))
		return
	}
	updated, err := c.outputs.Update(context.GetContext(), out.ID, func(o *model.RenderOutput) error {
		o.StorageLocation = res.StorageLocation
		o.RenderStatus = model.RenderStatusRendered
		o.RenderError = ""
		return nil
	})
	if err != nil {
		c.Fail(context, err)
		return
	}
	c.Succeed(context, updated)
}

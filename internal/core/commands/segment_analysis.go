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

// SegmentAnalysis classifies the detected segments and copies the result onto
// the stored ones. The number of stored segments never changes here.
type SegmentAnalysis struct {
	cor.BaseCommand
	segments services.SegmentStore
	machine  StageAdvancer
	analyzer jobs.Adapter[adapters.AnalysisRequest, *adapters.AnalysisResult]
	poller   *jobs.Poller
	timeout  time.Duration
}

func NewSegmentAnalysis(
	name string,
	segments services.SegmentStore,
	machine StageAdvancer,
	analyzer jobs.Adapter[adapters.AnalysisRequest, *adapters.AnalysisResult],
	poller *jobs.Poller,
	timeout time.Duration,
) *SegmentAnalysis {
	return &SegmentAnalysis{
		BaseCommand: *cor.NewBaseCommandWithParams(name, ParamVideoEdit, ParamVideoEdit),
		segments:    segments,
		machine:     machine,
		analyzer:    analyzer,
		poller:      poller,
		timeout:     timeout,
	}
}

func (c *SegmentAnalysis) Execute(context cor.Context) {
	ctx := context.GetContext()
	edit := videoEdit(context)
	if edit.Stage.AtLeast(model.StageAnalyzed) {
		c.Succeed(context, edit)
		return
	}

	detected, _ := context.Get(ParamBoundaries).(*model.BoundaryResult)
	if detected == nil {
		c.Fail(context, fmt.Errorf("video %s: boundary detection result missing", edit.ID))
		return
	}
	req := adapters.AnalysisRequest{
		VideoID:    edit.ID,
		Segments:   detected.Segments,
		Boundaries: detected.Boundaries,
	}
	if transcriptURI, ok := context.Get(ParamTranscriptURI).(string); ok {
		req.Bucket, req.TranscriptKey, _ = services.ParseStorageLocation(transcriptURI)
	}

	res, err := jobs.Invoke(ctx, c.poller, c.analyzer, req, jobs.InvokeOptions{Timeout: c.timeout})
	var updated int
	if err == nil {
		updated, err = c.segments.ApplyAnalysis(ctx, edit.ID, res.Segments)
	}
	if err != nil {
		if rerr := c.machine.RecordError(ctx, edit.ID, err); rerr != nil {
			slog.WarnContext(ctx, "could not record analysis error", "videoId", edit.ID, "error", rerr)
		}
		c.Fail(context, fmt.Errorf("analyzing segments of %s: %w", edit.ID, err))
		return
	}
	if res.Fallback {
		slog.WarnContext(ctx, "segment analysis fell back to detected segments", "videoId", edit.ID, "reason", res.Reason)
	}
	slog.InfoContext(ctx, "segments analyzed", "videoId", edit.ID, "updated", updated)
	c.Succeed(context, edit)
}

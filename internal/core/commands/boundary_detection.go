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

// BoundaryDetection splits the transcript into presenter segments and stores
// them, replacing whatever an interrupted earlier run left behind.
type BoundaryDetection struct {
	cor.BaseCommand
	segments services.SegmentStore
	machine  StageAdvancer
	detector jobs.Adapter[adapters.BoundaryRequest, *model.BoundaryResult]
	poller   *jobs.Poller
	timeout  time.Duration
}

func NewBoundaryDetection(
	name string,
	segments services.SegmentStore,
	machine StageAdvancer,
	detector jobs.Adapter[adapters.BoundaryRequest, *model.BoundaryResult],
	poller *jobs.Poller,
	timeout time.Duration,
) *BoundaryDetection {
	return &BoundaryDetection{
		BaseCommand: *cor.NewBaseCommandWithParams(name, ParamVideoEdit, ParamVideoEdit),
		segments:    segments,
		machine:     machine,
		detector:    detector,
		poller:      poller,
		timeout:     timeout,
	}
}

func (c *BoundaryDetection) Execute(context cor.Context) {
	ctx := context.GetContext()
	edit := videoEdit(context)
	if edit.Stage.AtLeast(model.StageAnalyzed) {
		c.Succeed(context, edit)
		return
	}

	transcriptURI, _ := context.Get(ParamTranscriptURI).(string)
	bucket, key, err := services.ParseStorageLocation(transcriptURI)
	if err != nil {
		c.Fail(context, fmt.Errorf("video %s has no usable transcript location: %w", edit.ID, err))
		return
	}

	res, err := jobs.Invoke(ctx, c.poller, c.detector, adapters.BoundaryRequest{
		VideoID:       edit.ID,
		Bucket:        bucket,
		TranscriptKey: key,
		OwnerID:       edit.OwnerID,
	}, jobs.InvokeOptions{Timeout: c.timeout})
	if err == nil {
		err = c.segments.ReplaceForVideo(ctx, edit.ID, res.Segments)
	}
	if err != nil {
		if rerr := c.machine.RecordError(ctx, edit.ID, err); rerr != nil {
			slog.WarnContext(ctx, "could not record boundary detection error", "videoId", edit.ID, "error", rerr)
		}
		c.Fail(context, fmt.Errorf("detecting boundaries of %s: %w", edit.ID, err))
		return
	}

	slog.InfoContext(ctx, "boundaries detected", "videoId", edit.ID, "segments", len(res.Segments), "boundaries", len(res.Boundaries))
	context.Add(ParamBoundaries, res)
	c.Succeed(context, edit)
}

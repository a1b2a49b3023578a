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

	"github.com/jaycherian/gcp-go-long-video/internal/core/cor"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
	"github.com/jaycherian/gcp-go-long-video/internal/core/services"
)

// VideoEditLoader loads the edit the upload belongs to and records where its
// raw video lives. A FAILED edit halts the chain.
type VideoEditLoader struct {
	cor.BaseCommand
	stages services.StageStore
}

func NewVideoEditLoader(name string, stages services.StageStore) *VideoEditLoader {
	return &VideoEditLoader{
		BaseCommand: *cor.NewBaseCommandWithParams(name, ParamRawUpload, ParamVideoEdit),
		stages:      stages,
	}
}

func (c *VideoEditLoader) Execute(context cor.Context) {
	ctx := context.GetContext()
	upload := rawUpload(context)

	edit, err := c.stages.Get(ctx, upload.VideoID)
	if err != nil {
		c.Fail(context, fmt.Errorf("loading video edit for %s: %w", upload.Key, err))
		return
	}
	if edit.Stage == model.StageFailed {
		slog.InfoContext(ctx, "video edit already failed; ignoring upload", "videoId", edit.ID, "cause", edit.FailureCause)
		context.Halt("video edit failed")
		return
	}
	if edit.Stage == model.StageUploaded && (edit.RawBucket != upload.Bucket || edit.RawKey != upload.Key) {
		edit, err = c.stages.Update(ctx, edit.ID, func(e *model.VideoEdit) error {
			e.RawBucket = upload.Bucket
			e.RawKey = upload.Key
			return nil
		})
		if err != nil {
			c.Fail(context, err)
			return
		}
	}
	c.Succeed(context, edit)
}

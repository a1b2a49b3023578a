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

	"github.com/h2non/filetype"
	"github.com/jaycherian/gcp-go-long-video/internal/cloud"
	"github.com/jaycherian/gcp-go-long-video/internal/core/cor"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
)

// sniffLength is how many bytes filetype needs to match every known type.
const sniffLength = 261

// MediaTypeCheck sniffs the head of the raw object and fails the edit when it
// is not a video. The detected MIME type replaces the one in the notification.
type MediaTypeCheck struct {
	cor.BaseCommand
	store   cloud.ObjectStore
	machine StageAdvancer
}

func NewMediaTypeCheck(name string, store cloud.ObjectStore, machine StageAdvancer) *MediaTypeCheck {
	return &MediaTypeCheck{
		BaseCommand: *cor.NewBaseCommandWithParams(name, ParamVideoEdit, ParamVideoEdit),
		store:       store,
		machine:     machine,
	}
}

func (c *MediaTypeCheck) Execute(context cor.Context) {
	ctx := context.GetContext()
	edit := videoEdit(context)
	if edit.Stage.AtLeast(model.StageTranscribed) {
		c.Succeed(context, edit)
		return
	}

	header, err := c.store.ReadHeader(ctx, edit.RawBucket, edit.RawKey, sniffLength)
	if err != nil {
		c.Fail(context, fmt.Errorf("reading header of %s: %w", cloud.StorageLocation(edit.RawBucket, edit.RawKey), err))
		return
	}
	kind, _ := filetype.Match(header)
	if kind == filetype.Unknown || kind.MIME.Type != "video" {
		detected := "unknown"
		if kind != filetype.Unknown {
			detected = kind.MIME.Value
		}
		cause := fmt.Errorf("%w: %s", model.ErrUnsupportedMedia, detected)
		failed, ferr := c.machine.Fail(ctx, edit.ID, model.ErrUnsupportedMedia.Error(), cause)
		if ferr != nil {
			slog.ErrorContext(ctx, "could not mark video edit failed", "videoId", edit.ID, "error", ferr)
		} else {
			context.Add(ParamVideoEdit, failed)
		}
		c.Fail(context, cause)
		return
	}

	if upload := rawUpload(context); upload != nil {
		upload.MIMEType = kind.MIME.Value
	}
	c.Succeed(context, edit)
}

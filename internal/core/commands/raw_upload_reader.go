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

	"github.com/jaycherian/gcp-go-long-video/internal/cloud"
	"github.com/jaycherian/gcp-go-long-video/internal/core/cor"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
)

// RawUploadReader turns the trigger into a RawUpload. The trigger is either a
// GCS notification (string or []byte) or an already parsed *model.RawUpload,
// which is what the recovery sweeper hands in.
type RawUploadReader struct {
	cor.BaseCommand
	suffix string
}

func NewRawUploadReader(name, suffix string) *RawUploadReader {
	return &RawUploadReader{BaseCommand: *cor.NewBaseCommandWithParams(name, cor.CtxIn, ParamRawUpload), suffix: suffix}
}

func (c *RawUploadReader) Execute(context cor.Context) {
	var (
		upload *model.RawUpload
		err    error
	)
	switch in := context.Get(c.GetInputParam()).(type) {
	case string:
		upload, err = cloud.ParseRawUpload([]byte(in), c.suffix)
	case []byte:
		upload, err = cloud.ParseRawUpload(in, c.suffix)
	case *model.RawUpload:
		upload = in
	default:
		err = fmt.Errorf("%w: unexpected trigger type %T", model.ErrInvalidTrigger, in)
	}
	if err != nil {
		c.Fail(context, err)
		return
	}
	c.Succeed(context, upload)
}

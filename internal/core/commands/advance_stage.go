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
	"log/slog"

	"github.com/jaycherian/gcp-go-long-video/internal/core/cor"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
)

// AdvanceStage moves the edit in the context to a target stage. Reaching a
// stage the edit has already passed is not an error.
type AdvanceStage struct {
	cor.BaseCommand
	machine StageAdvancer
	target  model.Stage
}

func NewAdvanceStage(name string, machine StageAdvancer, target model.Stage) *AdvanceStage {
	return &AdvanceStage{
		BaseCommand: *cor.NewBaseCommandWithParams(name, ParamVideoEdit, ParamVideoEdit),
		machine:     machine,
		target:      target,
	}
}

func (c *AdvanceStage) Execute(context cor.Context) {
	ctx := context.GetContext()
	edit := videoEdit(context)

	updated, changed, err := c.machine.Advance(ctx, edit.ID, c.target)
	if err != nil {
		c.Fail(context, err)
		return
	}
	if changed {
		slog.InfoContext(ctx, "stage advanced", "videoId", edit.ID, "stage", updated.Stage.String())
	}
	c.Succeed(context, updated)
}

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
	"fmt"

	"github.com/jaycherian/gcp-go-long-video/internal/core/commands"
	"github.com/jaycherian/gcp-go-long-video/internal/core/cor"
	"github.com/jaycherian/gcp-go-long-video/internal/core/jobs"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
)

// PresenterRenderWorkflow renders one presenter's output. Each presenter runs
// its own chain, so two presenters of the same edit render concurrently; the
// edit's stage follows whichever presenter gets there first and never moves
// back.
type PresenterRenderWorkflow struct {
	cor.BaseCommand
	deps  *Dependencies
	chain cor.Chain
}

func NewPresenterRenderWorkflow(deps *Dependencies, machine commands.StageAdvancer) *PresenterRenderWorkflow {
	w := &PresenterRenderWorkflow{
		BaseCommand: *cor.NewBaseCommandWithParams("presenter-render", commands.ParamRenderJob, ""),
		deps:        deps,
	}
	w.initializeChain(machine)
	return w
}

func (w *PresenterRenderWorkflow) Execute(context cor.Context) {
	w.chain.Execute(context)
}

func (w *PresenterRenderWorkflow) initializeChain(machine commands.StageAdvancer) {
	d := w.deps
	out := cor.NewBaseChain(w.GetName())

	out.AddCommand(commands.NewPrepareRenderOutput("prepare-render-output", d.Stores.Outputs))
	out.AddCommand(commands.NewAdvanceStage("advance-rendering", machine, model.StageRendering))
	out.AddCommand(commands.NewRenderPresenter("render-presenter", d.Stores.Outputs, machine, d.Renderer, d.Poller, d.Config.Pipeline.RenderTimeout()))
	out.AddCommand(commands.NewRecordRenderLocation("record-render-location", d.Stores.Outputs))
	out.AddCommand(commands.NewAdvanceStage("advance-complete", machine, model.StageComplete))

	w.chain = out
}

// Start runs the chain in the background. The returned task reports the
// chain's errors.
func (w *PresenterRenderWorkflow) Start(ctx context.Context, edit *model.VideoEdit, job *commands.RenderJob) *jobs.Task {
	id := fmt.Sprintf("render/%s/%d", edit.ID, job.PresenterNumber)
	return jobs.Go(ctx, id, func(ctx context.Context) error {
		release, err := w.deps.acquire(ctx)
		if err != nil {
			return err
		}
		defer release()

		chainCtx := cor.NewBaseContext()
		chainCtx.SetContext(ctx)
		defer chainCtx.Close()
		chainCtx.Add(commands.ParamVideoEdit, edit)
		chainCtx.Add(commands.ParamRenderJob, job)

		w.Execute(chainCtx)
		return chainCtx.Err()
	})
}

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
	"github.com/jaycherian/gcp-go-long-video/internal/core/commands"
	"github.com/jaycherian/gcp-go-long-video/internal/core/cor"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
)

// LongVideoProcessWorkflow takes a raw upload from its trigger to ANALYZED:
// transcription, boundary detection and segment analysis, with a stage
// advance after each milestone. The input is a GCS notification or a
// *model.RawUpload.
type LongVideoProcessWorkflow struct {
	cor.BaseCommand
	deps  *Dependencies
	chain cor.Chain
}

func NewLongVideoProcessWorkflow(deps *Dependencies, machine commands.StageAdvancer) *LongVideoProcessWorkflow {
	w := &LongVideoProcessWorkflow{
		BaseCommand: *cor.NewBaseCommand("long-video-process"),
		deps:        deps,
	}
	w.initializeChain(machine)
	return w
}

func (w *LongVideoProcessWorkflow) Execute(context cor.Context) {
	w.chain.Execute(context)
}

func (w *LongVideoProcessWorkflow) initializeChain(machine commands.StageAdvancer) {
	d := w.deps
	pipeline := d.Config.Pipeline
	out := cor.NewBaseChain(w.GetName())

	out.AddCommand(commands.NewRawUploadReader("raw-upload-reader", d.Config.Storage.RawSuffix()))
	out.AddCommand(commands.NewVideoEditLoader("video-edit-loader", d.Stores.Stages))
	out.AddCommand(commands.NewMediaTypeCheck("media-type-check", d.Objects, machine))
	out.AddCommand(commands.NewTranscription("transcription", d.Stores.Stages, machine, d.Transcriber, d.Poller,
		commands.TranscriptionSettings{
			LanguageOptions: pipeline.Languages(),
			MaxSpeakers:     pipeline.Speakers(),
			Storage:         d.Config.Storage,
		}))
	out.AddCommand(commands.NewAdvanceStage("advance-transcribed", machine, model.StageTranscribed))
	out.AddCommand(commands.NewBoundaryDetection("boundary-detection", d.Stores.Segments, machine, d.Detector, d.Poller, pipeline.AdapterTimeout()))
	out.AddCommand(commands.NewSegmentAnalysis("segment-analysis", d.Stores.Segments, machine, d.Analyzer, d.Poller, pipeline.AdapterTimeout()))
	out.AddCommand(commands.NewAdvanceStage("advance-analyzed", machine, model.StageAnalyzed))

	w.chain = out
}

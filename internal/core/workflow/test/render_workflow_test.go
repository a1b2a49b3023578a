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

package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
	"github.com/jaycherian/gcp-go-long-video/internal/core/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfirmRequiresAnalyzed(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	edit, _ := h.uploadedEdit(t)

	_, err := h.orch.ConfirmSegments(ctx, edit.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, err = h.orch.ConfirmSegments(ctx, "no-such-video")
	assert.True(t, model.IsNotFound(err))
}

func TestConfirmIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	edit := h.analyzedEdit(t)
	sub, err := h.orch.Subscribe(ctx, edit.ID)
	require.NoError(t, err)
	defer sub.Close()

	first, err := h.orch.ConfirmSegments(ctx, edit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageUserConfirmed, first.Stage)
	second, err := h.orch.ConfirmSegments(ctx, edit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageUserConfirmed, second.Stage)

	assert.Equal(t, []int{3}, stagesOf(drain(sub)))
}

func TestCurationBeforeConfirm(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	edit := h.analyzedEdit(t)
	segments, err := h.orch.ListSegments(ctx, edit.ID)
	require.NoError(t, err)

	exclude := false
	updated, err := h.orch.UpdateSegment(ctx, segments[0].ID, workflow.SegmentPatch{IncludeInOutput: &exclude})
	require.NoError(t, err)
	assert.False(t, updated.IncludeInOutput)

	start, end := 50.0, 10.0
	_, err = h.orch.UpdateSegment(ctx, segments[1].ID, workflow.SegmentPatch{StartTime: &start, EndTime: &end})
	assert.ErrorIs(t, err, model.ErrInvalidSegment)

	_, err = h.orch.UpdateSegment(ctx, "no-such-segment", workflow.SegmentPatch{IncludeInOutput: &exclude})
	assert.True(t, model.IsNotFound(err))
}

func TestGenerateOutputValidation(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	analyzed := h.analyzedEdit(t)

	_, err := h.orch.GenerateOutput(ctx, "no-such-video", 1)
	assert.True(t, model.IsNotFound(err))

	_, err = h.orch.GenerateOutput(ctx, analyzed.ID, 1)
	assert.ErrorIs(t, err, model.ErrNotConfirmed)

	confirmed := h.confirmedEdit(t)
	_, err = h.orch.GenerateOutput(ctx, confirmed.ID, 3)
	assert.ErrorIs(t, err, model.ErrInvalidPresenter)

	segments, err := h.orch.ListSegments(ctx, confirmed.ID)
	require.NoError(t, err)
	exclude := false
	for _, s := range segments {
		if s.SpeakerLabel == model.PresenterLabel(2) {
			_, err := h.orch.UpdateSegment(ctx, s.ID, workflow.SegmentPatch{IncludeInOutput: &exclude})
			require.NoError(t, err)
		}
	}
	_, err = h.orch.GenerateOutput(ctx, confirmed.ID, 2)
	assert.ErrorIs(t, err, model.ErrNoSegments)
	assert.Zero(t, h.ffmpeg.callCount())
}

func TestRenderCompletesEdit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	edit := h.confirmedEdit(t)
	sub, err := h.orch.Subscribe(ctx, edit.ID)
	require.NoError(t, err)
	defer sub.Close()

	task, err := h.orch.GenerateOutput(ctx, edit.ID, 1)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))

	got, err := h.orch.GetVideoEdit(ctx, edit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageComplete, got.Stage)
	assert.Equal(t, []int{4, 5}, stagesOf(drain(sub)))

	outputs, err := h.orch.ListOutputs(ctx, edit.ID)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	out := outputs[0]
	assert.Equal(t, 1, out.PresenterNumber)
	assert.Equal(t, model.RenderStatusRendered, out.RenderStatus)
	assert.NotEmpty(t, out.StorageLocation)
	assert.Empty(t, out.UploadStatus)

	// The second presenter renders without moving the edit again.
	task, err = h.orch.GenerateOutput(ctx, edit.ID, 2)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))
	assert.Empty(t, stagesOf(drain(sub)))

	outputs, err = h.orch.ListOutputs(ctx, edit.ID)
	require.NoError(t, err)
	assert.Len(t, outputs, 2)
}

func TestConcurrentRendersKeepOutputsIndependent(t *testing.T) {
	for _, order := range [][2]int{{1, 2}, {2, 1}} {
		first, second := order[0], order[1]
		t.Run(fmt.Sprintf("presenter%d_first", first), func(t *testing.T) {
			ctx := context.Background()
			h := newHarness(t)
			edit := h.confirmedEdit(t)
			sub, err := h.orch.Subscribe(ctx, edit.ID)
			require.NoError(t, err)
			defer sub.Close()

			release := h.ffmpeg.hold(model.PresenterLabel(second))
			firstTask, err := h.orch.GenerateOutput(ctx, edit.ID, first)
			require.NoError(t, err)
			secondTask, err := h.orch.GenerateOutput(ctx, edit.ID, second)
			require.NoError(t, err)

			require.NoError(t, waitTask(t, firstTask))
			before, err := h.stores.Outputs.GetByPresenter(ctx, edit.ID, first)
			require.NoError(t, err)
			require.Equal(t, model.RenderStatusRendered, before.RenderStatus)

			release()
			require.NoError(t, waitTask(t, secondTask))

			after, err := h.stores.Outputs.GetByPresenter(ctx, edit.ID, first)
			require.NoError(t, err)
			assert.Equal(t, before.Version, after.Version)
			assert.Equal(t, before.StorageLocation, after.StorageLocation)
			assert.Equal(t, before.UploadStatus, after.UploadStatus)
			assert.Equal(t, before.RenderStatus, after.RenderStatus)

			other, err := h.stores.Outputs.GetByPresenter(ctx, edit.ID, second)
			require.NoError(t, err)
			assert.NotEqual(t, after.ID, other.ID)
			assert.NotEqual(t, after.StorageLocation, other.StorageLocation)
			assert.Equal(t, model.RenderStatusRendered, other.RenderStatus)

			got, err := h.orch.GetVideoEdit(ctx, edit.ID)
			require.NoError(t, err)
			assert.Equal(t, model.StageComplete, got.Stage)
			assert.Equal(t, []int{4, 5}, stagesOf(drain(sub)))
		})
	}
}

func TestRenderFailureKeepsStage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	edit := h.confirmedEdit(t)
	h.ffmpeg.fail(errors.New("ffmpeg exited with status 1"))

	task, err := h.orch.GenerateOutput(ctx, edit.ID, 1)
	require.NoError(t, err)
	assert.Error(t, waitTask(t, task))

	got, err := h.orch.GetVideoEdit(ctx, edit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageRendering, got.Stage)
	assert.NotEmpty(t, got.LastError)

	outputs, err := h.orch.ListOutputs(ctx, edit.ID)
	require.NoError(t, err)
	require.Len(t, outputs, 1)
	assert.Equal(t, model.RenderStatusFailed, outputs[0].RenderStatus)
	assert.NotEmpty(t, outputs[0].RenderError)

	// A retry after fixing the cause reuses the output.
	h.ffmpeg.fail(nil)
	task, err = h.orch.GenerateOutput(ctx, edit.ID, 1)
	require.NoError(t, err)
	require.NoError(t, waitTask(t, task))

	retried, err := h.orch.ListOutputs(ctx, edit.ID)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	assert.Equal(t, outputs[0].ID, retried[0].ID)
	assert.Equal(t, model.RenderStatusRendered, retried[0].RenderStatus)
	assert.Empty(t, retried[0].RenderError)

	got, err = h.orch.GetVideoEdit(ctx, edit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StageComplete, got.Stage)
	assert.Empty(t, got.LastError)
}

func TestSuggestMetadataFallsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	edit := h.confirmedEdit(t)

	meta, err := h.orch.SuggestMetadata(ctx, edit.ID, 2)
	require.NoError(t, err)
	assert.Contains(t, meta.Title, "Grace")
	assert.NotEmpty(t, meta.Tags)

	_, err = h.orch.SuggestMetadata(ctx, edit.ID, 0)
	assert.ErrorIs(t, err, model.ErrInvalidPresenter)
}

func TestStatsCountsStages(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.uploadedEdit(t)
	h.analyzedEdit(t)
	h.confirmedEdit(t)

	stats, err := h.orch.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Stages[model.StageUploaded.String()])
	assert.Equal(t, 1, stats.Stages[model.StageAnalyzed.String()])
	assert.Equal(t, 1, stats.Stages[model.StageUserConfirmed.String()])
	assert.Equal(t, 0, stats.Stages[model.StageFailed.String()])
}

func TestSubscribeUnknownVideo(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.Subscribe(context.Background(), "no-such-video")
	assert.True(t, model.IsNotFound(err))
}

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

// Package workflow sequences the long-video pipeline. The StageMachine owns
// every stage write, the workflows are cor chains of the steps in the
// commands package, and the Orchestrator is the facade the API and the
// trigger listener call.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/jaycherian/gcp-go-long-video/internal/core/commands"
	"github.com/jaycherian/gcp-go-long-video/internal/core/events"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
	"github.com/jaycherian/gcp-go-long-video/internal/core/services"
)

// errUnchanged aborts an Update whose transition is a no-op.
var errUnchanged = errors.New("stage unchanged")

// stageLockStripes is the number of mutexes a StageMachine spreads videos over.
const stageLockStripes = 64

// StageMachine validates stage transitions against the transition table,
// persists them with a conditional write, and publishes one event for every
// transition that was actually written.
//
// A stage write and its event are made under a per-video lock, so events
// for one video are published in the order their writes landed.
type StageMachine struct {
	stages    services.StageStore
	publisher events.Publisher
	locks     [stageLockStripes]sync.Mutex
}

var _ commands.StageAdvancer = (*StageMachine)(nil)

func NewStageMachine(stages services.StageStore, publisher events.Publisher) *StageMachine {
	return &StageMachine{stages: stages, publisher: publisher}
}

// Advance moves the edit forward to the target stage. Asking for the current
// stage, or for one the edit has already passed, returns the edit unchanged.
func (m *StageMachine) Advance(ctx context.Context, id string, to model.Stage) (*model.VideoEdit, bool, error) {
	if !to.Valid() || to == model.StageFailed {
		return nil, false, fmt.Errorf("%w: cannot advance to %s", model.ErrInvalidStage, to)
	}
	unlock := m.lock(id)
	defer unlock()

	var current *model.VideoEdit
	edit, err := m.stages.Update(ctx, id, func(e *model.VideoEdit) error {
		if e.Stage == to || (e.Stage != model.StageFailed && e.Stage > to) {
			current = e.Clone()
			return errUnchanged
		}
		if !e.Stage.CanAdvanceTo(to) {
			return fmt.Errorf("%w: %s to %s for video %s", model.ErrInvalidTransition, e.Stage, to, id)
		}
		e.Stage = to
		e.LastError = ""
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return current, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	m.publish(ctx, edit, "")
	return edit, true, nil
}

// Fail moves the edit to FAILED. Failing an edit that already failed is a no-op.
func (m *StageMachine) Fail(ctx context.Context, id, cause string, err error) (*model.VideoEdit, error) {
	stageErr := &model.StageError{VideoID: id, Cause: cause, Err: err}
	unlock := m.lock(id)
	defer unlock()

	var current *model.VideoEdit
	edit, uerr := m.stages.Update(ctx, id, func(e *model.VideoEdit) error {
		if e.Stage == model.StageFailed {
			current = e.Clone()
			return errUnchanged
		}
		if !e.Stage.CanAdvanceTo(model.StageFailed) {
			return fmt.Errorf("%w: %s to %s for video %s", model.ErrInvalidTransition, e.Stage, model.StageFailed, id)
		}
		stageErr.Stage = e.Stage
		e.Stage = model.StageFailed
		e.FailureCause = cause
		e.LastError = stageErr.Error()
		return nil
	})
	if errors.Is(uerr, errUnchanged) {
		return current, nil
	}
	if uerr != nil {
		return nil, uerr
	}
	slog.WarnContext(ctx, "video edit failed", "videoId", id, "cause", cause, "error", err)
	m.publish(ctx, edit, cause)
	return edit, nil
}

// RecordError keeps err on the edit without touching the stage.
func (m *StageMachine) RecordError(ctx context.Context, id string, err error) error {
	if err == nil {
		return nil
	}
	_, uerr := m.stages.Update(ctx, id, func(e *model.VideoEdit) error {
		e.LastError = err.Error()
		return nil
	})
	return uerr
}

func (m *StageMachine) lock(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	mu := &m.locks[h.Sum32()%stageLockStripes]
	mu.Lock()
	return mu.Unlock
}

func (m *StageMachine) publish(ctx context.Context, edit *model.VideoEdit, cause string) {
	if m.publisher == nil {
		return
	}
	m.publisher.Publish(ctx, model.StageChangeEvent{
		VideoID: edit.ID,
		Stage:   int(edit.Stage),
		Kind:    model.EventStage,
		Cause:   cause,
	})
}

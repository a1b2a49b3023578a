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

// Package model defines the core data structures for the long-video pipeline.
// This file holds the processing stage of a VideoEdit and the transition table
// that governs how a stage may move.
package model

import "fmt"

// Stage is the processing stage of a VideoEdit. The numeric values are part of
// the external contract: clients and the persisted records both use them.
type Stage int

const (
	StageFailed        Stage = -1
	StageUploaded      Stage = 0
	StageTranscribed   Stage = 1
	StageAnalyzed      Stage = 2
	StageUserConfirmed Stage = 3
	StageRendering     Stage = 4
	StageComplete      Stage = 5
)

// AllStages lists every valid stage, in pipeline order with FAILED last.
var AllStages = []Stage{
	StageUploaded,
	StageTranscribed,
	StageAnalyzed,
	StageUserConfirmed,
	StageRendering,
	StageComplete,
	StageFailed,
}

func (s Stage) String() string {
	switch s {
	case StageFailed:
		return "FAILED"
	case StageUploaded:
		return "UPLOADED"
	case StageTranscribed:
		return "TRANSCRIBED"
	case StageAnalyzed:
		return "ANALYZED"
	case StageUserConfirmed:
		return "USER_CONFIRMED"
	case StageRendering:
		return "RENDERING"
	case StageComplete:
		return "COMPLETE"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Valid reports whether s is one of the defined stages.
func (s Stage) Valid() bool {
	return s >= StageFailed && s <= StageComplete
}

// IsTerminal reports whether no further transition can leave s.
func (s Stage) IsTerminal() bool {
	return s == StageFailed || s == StageComplete
}

// AtLeast reports whether s has reached other in pipeline order. FAILED never
// counts as having reached anything.
func (s Stage) AtLeast(other Stage) bool {
	if s == StageFailed {
		return false
	}
	return s >= other
}

// CanAdvanceTo is the complete transition table. Forward moves are one step at
// a time; FAILED is reachable from every in-progress stage and from nowhere else.
func (s Stage) CanAdvanceTo(next Stage) bool {
	switch s {
	case StageUploaded:
		return next == StageTranscribed || next == StageFailed
	case StageTranscribed:
		return next == StageAnalyzed || next == StageFailed
	case StageAnalyzed:
		return next == StageUserConfirmed || next == StageFailed
	case StageUserConfirmed:
		return next == StageRendering || next == StageFailed
	case StageRendering:
		return next == StageComplete || next == StageFailed
	case StageComplete, StageFailed:
		return false
	default:
		return false
	}
}

// ParseStage converts a persisted integer into a Stage.
func ParseStage(v int) (Stage, error) {
	s := Stage(v)
	if !s.Valid() {
		return 0, fmt.Errorf("%w: unknown stage %d", ErrInvalidStage, v)
	}
	return s, nil
}

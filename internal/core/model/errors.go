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

package model

import (
	"errors"
	"fmt"
)

var (
	ErrVideoEditNotFound    = errors.New("video edit not found")
	ErrSegmentNotFound      = errors.New("segment not found")
	ErrRenderOutputNotFound = errors.New("render output not found")
	ErrCredentialNotFound   = errors.New("credential not found")

	ErrInvalidStage      = errors.New("invalid stage")
	ErrInvalidTransition = errors.New("invalid stage transition")
	ErrStageConflict     = errors.New("stage changed concurrently")
	ErrVersionConflict   = errors.New("record version conflict")

	ErrNotConfirmed     = errors.New("segments have not been confirmed")
	ErrUploadInProgress = errors.New("upload already in progress")
	ErrNoSegments       = errors.New("no segments selected for output")
	ErrInvalidSegment   = errors.New("invalid segment")
	ErrInvalidPresenter = errors.New("presenter number must be 1 or 2")
	ErrUnsupportedMedia = errors.New("unsupported media type")
	ErrInvalidTrigger   = errors.New("invalid trigger message")
	ErrInvalidRequest   = errors.New("invalid request")
)

// IsNotFound reports whether err is any of the record-not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrVideoEditNotFound) ||
		errors.Is(err, ErrSegmentNotFound) ||
		errors.Is(err, ErrRenderOutputNotFound) ||
		errors.Is(err, ErrCredentialNotFound)
}

// IsPermanent reports whether retrying the same input can never succeed.
// Message handlers acknowledge such failures instead of waiting for redelivery.
func IsPermanent(err error) bool {
	return IsNotFound(err) ||
		errors.Is(err, ErrUnsupportedMedia) ||
		errors.Is(err, ErrInvalidTrigger) ||
		errors.Is(err, ErrInvalidStage)
}

// StageError describes why a VideoEdit moved to FAILED, or why a step of its
// pipeline could not complete.
type StageError struct {
	VideoID string
	Stage   Stage
	Cause   string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("video %s at %s: %s: %v", e.VideoID, e.Stage, e.Cause, e.Err)
	}
	return fmt.Sprintf("video %s at %s: %s", e.VideoID, e.Stage, e.Cause)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

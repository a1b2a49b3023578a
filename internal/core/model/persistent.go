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

// This file contains the records that are persisted by the stores: the
// VideoEdit itself, its Segments, the per-presenter RenderOutputs and the
// YouTube credential.
package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	DefaultPresenter1Name = "Presenter 1"
	DefaultPresenter2Name = "Presenter 2"
)

// VideoEdit is the unit of work tracked by the pipeline. Besides the stage it
// carries the checkpoint of the transcription poll so that a restarted process
// can pick the job up again.
type VideoEdit struct {
	ID                 string    `json:"id"`
	OwnerID            string    `json:"ownerId"`
	VideoName          string    `json:"videoName"`
	ModelID            string    `json:"modelId,omitempty"`
	Presenter1Name     string    `json:"presenter1Name"`
	Presenter2Name     string    `json:"presenter2Name"`
	Stage              Stage     `json:"stage"`
	RawBucket          string    `json:"rawBucket,omitempty"`
	RawKey             string    `json:"rawKey,omitempty"`
	TranscriptionJobID string    `json:"transcriptionJobId,omitempty"`
	PollAttempts       int       `json:"pollAttempts"`
	TranscriptURI      string    `json:"transcriptUri,omitempty"`
	FailureCause       string    `json:"failureCause,omitempty"`
	LastError          string    `json:"lastError,omitempty"`
	Version            int64     `json:"version"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// NewVideoEdit creates a VideoEdit at the UPLOADED stage.
func NewVideoEdit(id, ownerID, videoName, modelID string) *VideoEdit {
	now := time.Now().UTC()
	return &VideoEdit{
		ID:             id,
		OwnerID:        ownerID,
		VideoName:      videoName,
		ModelID:        modelID,
		Presenter1Name: DefaultPresenter1Name,
		Presenter2Name: DefaultPresenter2Name,
		Stage:          StageUploaded,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// PresenterName returns the display name of presenter 1 or 2, falling back to
// the default label when none was set.
func (v *VideoEdit) PresenterName(n int) string {
	switch n {
	case 1:
		if strings.TrimSpace(v.Presenter1Name) != "" {
			return v.Presenter1Name
		}
		return DefaultPresenter1Name
	case 2:
		if strings.TrimSpace(v.Presenter2Name) != "" {
			return v.Presenter2Name
		}
		return DefaultPresenter2Name
	default:
		return fmt.Sprintf("Presenter %d", n)
	}
}

// Clone returns a copy that can be mutated without affecting the receiver.
func (v *VideoEdit) Clone() *VideoEdit {
	c := *v
	return &c
}

type SegmentType string

const (
	SegmentPresenter1 SegmentType = "presenter1"
	SegmentPresenter2 SegmentType = "presenter2"
	SegmentIntro      SegmentType = "intro"
	SegmentOutro      SegmentType = "outro"
	SegmentTransition SegmentType = "transition"
	SegmentQA         SegmentType = "qa"
	SegmentSilence    SegmentType = "silence"
	// SegmentUnknown is assigned by the boundary detector to speakers beyond
	// the two presenters until analysis or the user classifies them.
	SegmentUnknown SegmentType = "unknown"
)

// Valid reports whether t is a known segment category.
func (t SegmentType) Valid() bool {
	switch t {
	case SegmentPresenter1, SegmentPresenter2, SegmentIntro, SegmentOutro,
		SegmentTransition, SegmentQA, SegmentSilence, SegmentUnknown:
		return true
	}
	return false
}

// PresenterLabel is the speaker label that selects segments for presenter n.
func PresenterLabel(n int) string {
	return fmt.Sprintf("presenter%d", n)
}

// ValidPresenter reports whether n names one of the two presenters.
func ValidPresenter(n int) bool {
	return n == 1 || n == 2
}

// Segment is a contiguous time range of the source video.
type Segment struct {
	ID              string      `json:"id"`
	VideoEditID     string      `json:"videoEditId"`
	StartTime       float64     `json:"startTime"`
	EndTime         float64     `json:"endTime"`
	SpeakerLabel    string      `json:"speakerLabel"`
	SegmentType     SegmentType `json:"segmentType"`
	IncludeInOutput bool        `json:"includeInOutput"`
	AIConfidence    *float64    `json:"aiConfidence,omitempty"`
	Version         int64       `json:"version"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// Duration of the segment in seconds.
func (s *Segment) Duration() float64 {
	return s.EndTime - s.StartTime
}

// Validate checks the record invariants: a positive time range, a known
// category and a confidence inside [0, 1].
func (s *Segment) Validate() error {
	if s.VideoEditID == "" {
		return fmt.Errorf("%w: missing video edit id", ErrInvalidSegment)
	}
	if math.IsNaN(s.StartTime) || math.IsNaN(s.EndTime) || s.StartTime < 0 || s.StartTime >= s.EndTime {
		return fmt.Errorf("%w: start %.3f must be before end %.3f", ErrInvalidSegment, s.StartTime, s.EndTime)
	}
	if !s.SegmentType.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSegment, s.SegmentType)
	}
	if s.AIConfidence != nil && (*s.AIConfidence < 0 || *s.AIConfidence > 1) {
		return fmt.Errorf("%w: confidence %.3f outside [0,1]", ErrInvalidSegment, *s.AIConfidence)
	}
	return nil
}

// Clone returns a deep copy of the segment.
func (s *Segment) Clone() *Segment {
	c := *s
	if s.AIConfidence != nil {
		v := *s.AIConfidence
		c.AIConfidence = &v
	}
	return &c
}

// Confidence returns a pointer to v, clamped to [0, 1].
func Confidence(v float64) *float64 {
	v = math.Max(0, math.Min(1, v))
	return &v
}

type RenderStatus string

const (
	RenderStatusRendering RenderStatus = "rendering"
	RenderStatusRendered  RenderStatus = "rendered"
	RenderStatusFailed    RenderStatus = "failed"
)

// UploadStatus of a RenderOutput. The zero value means no upload was attempted.
type UploadStatus string

const (
	UploadAbsent    UploadStatus = ""
	UploadUploading UploadStatus = "uploading"
	UploadCompleted UploadStatus = "completed"
	UploadFailed    UploadStatus = "failed"
	UploadCancelled UploadStatus = "cancelled"
)

// CanBegin reports whether a new upload may start from this status.
func (u UploadStatus) CanBegin() bool {
	return u != UploadUploading
}

// RenderOutput is the rendered video for one presenter of a VideoEdit.
type RenderOutput struct {
	ID              string       `json:"id"`
	VideoEditID     string       `json:"videoEditId"`
	PresenterNumber int          `json:"presenterNumber"`
	StorageLocation string       `json:"storageLocation,omitempty"`
	Title           string       `json:"title,omitempty"`
	Description     string       `json:"description,omitempty"`
	Tags            []string     `json:"tags,omitempty"`
	PlaylistName    string       `json:"playlistName,omitempty"`
	RenderStatus    RenderStatus `json:"renderStatus"`
	RenderError     string       `json:"renderError,omitempty"`
	UploadStatus    UploadStatus `json:"uploadStatus,omitempty"`
	UploadError     string       `json:"uploadError,omitempty"`
	UploadStartedAt *time.Time   `json:"uploadStartedAt,omitempty"`
	YouTubeVideoID  string       `json:"youtubeVideoId,omitempty"`
	Version         int64        `json:"version"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// Clone returns a deep copy of the output.
func (o *RenderOutput) Clone() *RenderOutput {
	c := *o
	c.Tags = append([]string(nil), o.Tags...)
	if o.UploadStartedAt != nil {
		t := *o.UploadStartedAt
		c.UploadStartedAt = &t
	}
	return &c
}

// YouTubeCredential is the single OAuth credential used by the uploader. It is
// replaced only through compare-and-swap on Version.
type YouTubeCredential struct {
	AccessToken       string    `json:"accessToken"`
	RefreshToken      string    `json:"refreshToken,omitempty"`
	TokenType         string    `json:"tokenType,omitempty"`
	Expiry            time.Time `json:"expiry"`
	ClientID          string    `json:"clientId,omitempty"`
	ClientSecret      string    `json:"clientSecret,omitempty"`
	TokenURI          string    `json:"tokenUri,omitempty"`
	Scopes            []string  `json:"scopes,omitempty"`
	AccountEmail      string    `json:"accountEmail,omitempty"`
	AccountName       string    `json:"accountName,omitempty"`
	AccountPicture    string    `json:"accountPicture,omitempty"`
	SelectedChannelID string    `json:"selectedChannelId,omitempty"`
	Version           int64     `json:"-"`
	UpdatedAt         time.Time `json:"-"`
}

// NeedsRefresh reports whether the access token expires within buffer of now.
func (c *YouTubeCredential) NeedsRefresh(now time.Time, buffer time.Duration) bool {
	if c.AccessToken == "" || c.Expiry.IsZero() {
		return true
	}
	return c.Expiry.Sub(now) <= buffer
}

// Expired reports whether the access token is no longer usable at all.
func (c *YouTubeCredential) Expired(now time.Time) bool {
	return c.AccessToken == "" || (!c.Expiry.IsZero() && !now.Before(c.Expiry))
}

// Clone returns a deep copy of the credential.
func (c *YouTubeCredential) Clone() *YouTubeCredential {
	cp := *c
	cp.Scopes = append([]string(nil), c.Scopes...)
	return &cp
}

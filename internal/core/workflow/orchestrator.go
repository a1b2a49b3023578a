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
	"errors"
	"fmt"
	"log/slog"
	"math"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-long-video/internal/cloud"
	"github.com/jaycherian/gcp-go-long-video/internal/core/adapters"
	"github.com/jaycherian/gcp-go-long-video/internal/core/commands"
	"github.com/jaycherian/gcp-go-long-video/internal/core/cor"
	"github.com/jaycherian/gcp-go-long-video/internal/core/events"
	"github.com/jaycherian/gcp-go-long-video/internal/core/jobs"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
	"github.com/jaycherian/gcp-go-long-video/internal/core/services"
	"golang.org/x/sync/semaphore"
)

// MetadataSuggester proposes publishing metadata for a presenter's output.
type MetadataSuggester interface {
	Suggest(ctx context.Context, edit *model.VideoEdit, presenter int, script string) *model.VideoMetadata
}

// Dependencies is everything the workflows are built from.
type Dependencies struct {
	Config      *cloud.Config
	Stores      *services.Stores
	Bus         *events.Bus
	Objects     cloud.ObjectStore
	Poller      *jobs.Poller
	Transcriber jobs.Adapter[adapters.TranscriptionRequest, *adapters.TranscriptionResult]
	Detector    jobs.Adapter[adapters.BoundaryRequest, *model.BoundaryResult]
	Analyzer    jobs.Adapter[adapters.AnalysisRequest, *adapters.AnalysisResult]
	Renderer    jobs.Adapter[adapters.RenderRequest, *adapters.RenderResult]
	Uploader    jobs.Adapter[adapters.UploadRequest, string]
	Metadata    MetadataSuggester
	// Media signs upload and stream URLs. Without it no URLs are handed out.
	Media *services.MediaService
	// Clock defaults to time.Now.
	Clock func() time.Time
	// Workers bounds the renders and uploads running at once. Zero means no
	// bound.
	Workers int

	slots *semaphore.Weighted
}

func (d *Dependencies) now() time.Time {
	if d.Clock != nil {
		return d.Clock()
	}
	return time.Now()
}

// acquire takes a worker slot for a background render or upload.
func (d *Dependencies) acquire(ctx context.Context) (func(), error) {
	if d.slots == nil {
		return func() {}, nil
	}
	if err := d.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { d.slots.Release(1) }, nil
}

// Orchestrator is the entry point of every pipeline operation.
type Orchestrator struct {
	deps     *Dependencies
	machine  *StageMachine
	process  *LongVideoProcessWorkflow
	render   *PresenterRenderWorkflow
	upload   *UploadWorkflow
	recovery *RecoverySweeper
}

func NewOrchestrator(deps *Dependencies) *Orchestrator {
	if deps.Config == nil {
		deps.Config = cloud.NewConfig()
	}
	if deps.Poller == nil {
		deps.Poller = jobs.NewPoller(deps.Config.Pipeline.PollInterval())
		deps.Poller.MaxPollErrors = deps.Config.Pipeline.PollErrors()
	}
	if deps.Bus == nil {
		deps.Bus = events.NewBus(deps.Config.Events.SubscriberBuffer)
	}
	if deps.Workers > 0 && deps.slots == nil {
		deps.slots = semaphore.NewWeighted(int64(deps.Workers))
	}

	machine := NewStageMachine(deps.Stores.Stages, deps.Bus)
	o := &Orchestrator{
		deps:    deps,
		machine: machine,
		process: NewLongVideoProcessWorkflow(deps, machine),
		render:  NewPresenterRenderWorkflow(deps, machine),
		upload:  NewUploadWorkflow(deps),
	}
	o.recovery = NewRecoverySweeper(deps.Stores.Stages, o.process,
		deps.Config.Pipeline.RecoveryInterval(), deps.Config.Pipeline.StaleAfter())
	o.recovery.now = deps.now
	return o
}

// ProcessWorkflow is the chain the raw-upload listener runs.
func (o *Orchestrator) ProcessWorkflow() cor.Command {
	return o.process
}

func (o *Orchestrator) Recovery() *RecoverySweeper {
	return o.recovery
}

func (o *Orchestrator) StageMachine() *StageMachine {
	return o.machine
}

// CreateRequest describes a new video edit.
type CreateRequest struct {
	OwnerID        string `json:"ownerId"`
	VideoName      string `json:"videoName" binding:"required"`
	ModelID        string `json:"modelId"`
	Presenter1Name string `json:"presenter1Name"`
	Presenter2Name string `json:"presenter2Name"`
	ContentType    string `json:"contentType"`
}

// CreatedVideo tells the client where to upload the raw video.
type CreatedVideo struct {
	Edit      *model.VideoEdit `json:"videoEdit"`
	UploadKey string           `json:"uploadKey"`
	UploadURL string           `json:"uploadUrl,omitempty"`
}

// CreateVideoEdit registers an edit at UPLOADED. The pipeline starts when the
// raw object lands at UploadKey.
func (o *Orchestrator) CreateVideoEdit(ctx context.Context, req CreateRequest) (*CreatedVideo, error) {
	if strings.TrimSpace(req.VideoName) == "" {
		return nil, fmt.Errorf("%w: video name is required", model.ErrInvalidRequest)
	}
	storage := o.deps.Config.Storage
	edit := model.NewVideoEdit(uuid.NewString(), req.OwnerID, req.VideoName, req.ModelID)
	if name := strings.TrimSpace(req.Presenter1Name); name != "" {
		edit.Presenter1Name = name
	}
	if name := strings.TrimSpace(req.Presenter2Name); name != "" {
		edit.Presenter2Name = name
	}
	edit.RawBucket = storage.MediaBucket
	edit.RawKey = path.Join(storage.Prefix(), edit.ID, storage.RawSuffix())

	created := &CreatedVideo{Edit: edit, UploadKey: edit.RawKey}
	if o.deps.Media != nil {
		contentType := req.ContentType
		if contentType == "" {
			contentType = adapters.DefaultVideoMIMEType
		}
		url, err := o.deps.Media.UploadURL(ctx, edit.RawBucket, edit.RawKey, contentType, o.deps.Config.Pipeline.SignedURLExpiry())
		if err != nil {
			return nil, fmt.Errorf("signing upload url: %w", err)
		}
		created.UploadURL = url
	}
	if err := o.deps.Stores.Stages.Create(ctx, edit); err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "video edit created", "videoId", edit.ID, "key", edit.RawKey)
	return created, nil
}

func (o *Orchestrator) GetVideoEdit(ctx context.Context, id string) (*model.VideoEdit, error) {
	return o.deps.Stores.Stages.Get(ctx, id)
}

// UpdatePresenterNames changes the display names. Nil leaves a name as is.
func (o *Orchestrator) UpdatePresenterNames(ctx context.Context, id string, presenter1, presenter2 *string) (*model.VideoEdit, error) {
	return o.deps.Stores.Stages.Update(ctx, id, func(e *model.VideoEdit) error {
		if presenter1 != nil {
			e.Presenter1Name = strings.TrimSpace(*presenter1)
		}
		if presenter2 != nil {
			e.Presenter2Name = strings.TrimSpace(*presenter2)
		}
		return nil
	})
}

// HandleRawUpload runs the process workflow for one trigger payload in the
// calling goroutine.
func (o *Orchestrator) HandleRawUpload(ctx context.Context, data []byte) error {
	chainCtx := cor.NewContextWithInput(ctx, data)
	defer chainCtx.Close()
	o.process.Execute(chainCtx)
	return chainCtx.Err()
}

func (o *Orchestrator) ListSegments(ctx context.Context, videoID string) ([]*model.Segment, error) {
	if _, err := o.deps.Stores.Stages.Get(ctx, videoID); err != nil {
		return nil, err
	}
	return o.deps.Stores.Segments.ListByVideo(ctx, videoID)
}

// SegmentPatch is a user's curation of one segment. Nil fields are kept.
type SegmentPatch struct {
	StartTime       *float64           `json:"startTime"`
	EndTime         *float64           `json:"endTime"`
	SpeakerLabel    *string            `json:"speakerLabel"`
	SegmentType     *model.SegmentType `json:"segmentType"`
	IncludeInOutput *bool              `json:"includeInOutput"`
}

// UpdateSegment applies a curation. The store validates the result.
func (o *Orchestrator) UpdateSegment(ctx context.Context, segmentID string, patch SegmentPatch) (*model.Segment, error) {
	return o.deps.Stores.Segments.Update(ctx, segmentID, func(s *model.Segment) error {
		if patch.StartTime != nil {
			s.StartTime = *patch.StartTime
		}
		if patch.EndTime != nil {
			s.EndTime = *patch.EndTime
		}
		if patch.SpeakerLabel != nil {
			s.SpeakerLabel = *patch.SpeakerLabel
		}
		if patch.SegmentType != nil {
			s.SegmentType = *patch.SegmentType
		}
		if patch.IncludeInOutput != nil {
			s.IncludeInOutput = *patch.IncludeInOutput
		}
		return nil
	})
}

// ConfirmSegments records that the user accepted the segments. Confirming
// again after that is a no-op.
func (o *Orchestrator) ConfirmSegments(ctx context.Context, videoID string) (*model.VideoEdit, error) {
	edit, _, err := o.machine.Advance(ctx, videoID, model.StageUserConfirmed)
	return edit, err
}

// GenerateOutput validates the request and starts rendering one presenter in
// the background.
func (o *Orchestrator) GenerateOutput(ctx context.Context, videoID string, presenter int) (*jobs.Task, error) {
	stores := o.deps.Stores
	edit, err := stores.Stages.Get(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if !edit.Stage.AtLeast(model.StageUserConfirmed) {
		return nil, fmt.Errorf("%w: video %s is at %s", model.ErrNotConfirmed, videoID, edit.Stage)
	}
	if !model.ValidPresenter(presenter) {
		return nil, model.ErrInvalidPresenter
	}
	segments, err := stores.Segments.ListForRender(ctx, videoID, presenter)
	if err != nil {
		return nil, err
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: video %s presenter %d", model.ErrNoSegments, videoID, presenter)
	}
	if existing, err := stores.Outputs.GetByPresenter(ctx, videoID, presenter); err == nil && existing.UploadStatus == model.UploadUploading {
		return nil, fmt.Errorf("%w: output %s", model.ErrUploadInProgress, existing.ID)
	}

	slog.InfoContext(ctx, "starting render", "videoId", videoID, "presenter", presenter, "segments", len(segments))
	return o.render.Start(ctx, edit, &commands.RenderJob{
		VideoID:         videoID,
		PresenterNumber: presenter,
		Segments:        segments,
	}), nil
}

func (o *Orchestrator) ListOutputs(ctx context.Context, videoID string) ([]*model.RenderOutput, error) {
	if _, err := o.deps.Stores.Stages.Get(ctx, videoID); err != nil {
		return nil, err
	}
	return o.deps.Stores.Outputs.ListByVideo(ctx, videoID)
}

// ErrSigningUnavailable is returned for URL requests when no signer is set up.
var ErrSigningUnavailable = errors.New("url signing is not configured")

// OutputStreamURL returns a time-limited URL of a rendered output.
func (o *Orchestrator) OutputStreamURL(ctx context.Context, outputID string) (string, error) {
	if o.deps.Media == nil {
		return "", ErrSigningUnavailable
	}
	return o.deps.Media.StreamURL(ctx, outputID, o.deps.Config.Pipeline.SignedURLExpiry())
}

// SuggestMetadata proposes a title, description, tags and playlist for the
// presenter's output from what the presenter says in the selected segments.
// It always returns a suggestion once the edit exists.
func (o *Orchestrator) SuggestMetadata(ctx context.Context, videoID string, presenter int) (*model.VideoMetadata, error) {
	if !model.ValidPresenter(presenter) {
		return nil, model.ErrInvalidPresenter
	}
	edit, err := o.deps.Stores.Stages.Get(ctx, videoID)
	if err != nil {
		return nil, err
	}
	if o.deps.Metadata == nil {
		return model.FallbackMetadata(edit.PresenterName(presenter), edit.VideoName), nil
	}
	return o.deps.Metadata.Suggest(ctx, edit, presenter, o.presenterScript(ctx, edit, presenter)), nil
}

// presenterScript is the text spoken inside the presenter's selected segments,
// or the whole transcript when nothing matches.
func (o *Orchestrator) presenterScript(ctx context.Context, edit *model.VideoEdit, presenter int) string {
	if edit.TranscriptURI == "" || o.deps.Objects == nil {
		return ""
	}
	bucket, key, err := services.ParseStorageLocation(edit.TranscriptURI)
	if err != nil {
		return ""
	}
	transcript, err := adapters.LoadTranscript(ctx, o.deps.Objects, bucket, key)
	if err != nil {
		slog.WarnContext(ctx, "transcript unavailable for metadata", "videoId", edit.ID, "error", err)
		return ""
	}
	segments, err := o.deps.Stores.Segments.ListForRender(ctx, edit.ID, presenter)
	if err != nil {
		return transcript.Script()
	}

	var b strings.Builder
	for _, turn := range transcript.SpeakerTurns {
		for _, s := range segments {
			if math.Min(turn.End, s.EndTime) > math.Max(turn.Start, s.StartTime) {
				if b.Len() > 0 {
					b.WriteString(" ")
				}
				b.WriteString(strings.TrimSpace(turn.Text))
				break
			}
		}
	}
	if b.Len() == 0 {
		return transcript.Script()
	}
	return b.String()
}

// StartUpload publishes a rendered output in the background. It fails with
// ErrUploadInProgress while the output is already uploading.
func (o *Orchestrator) StartUpload(ctx context.Context, outputID string, meta services.UploadMetadata) (*jobs.Task, error) {
	return o.upload.Start(ctx, outputID, meta)
}

// Stats counts the edits per stage.
type Stats struct {
	Stages map[string]int `json:"stages"`
	Total  int            `json:"total"`
}

func (o *Orchestrator) Stats(ctx context.Context) (*Stats, error) {
	counts, err := o.deps.Stores.Stages.CountByStage(ctx)
	if err != nil {
		return nil, err
	}
	stats := &Stats{Stages: make(map[string]int, len(model.AllStages))}
	for _, s := range model.AllStages {
		stats.Stages[s.String()] = counts[s]
		stats.Total += counts[s]
	}
	return stats, nil
}

// Subscribe opens a live feed of the edit's stage and upload events.
func (o *Orchestrator) Subscribe(ctx context.Context, videoID string) (*events.Subscription, error) {
	if _, err := o.deps.Stores.Stages.Get(ctx, videoID); err != nil {
		return nil, err
	}
	return o.deps.Bus.Subscribe(videoID), nil
}

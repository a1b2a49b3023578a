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

// Package api exposes the pipeline over HTTP. Every response body is a
// jobs.Envelope.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-long-video/internal/core/adapters"
	"github.com/jaycherian/gcp-go-long-video/internal/core/events"
	"github.com/jaycherian/gcp-go-long-video/internal/core/jobs"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
	"github.com/jaycherian/gcp-go-long-video/internal/core/services"
	"github.com/jaycherian/gcp-go-long-video/internal/core/workflow"
)

// Pipeline is the part of the orchestrator the routes call.
type Pipeline interface {
	CreateVideoEdit(ctx context.Context, req workflow.CreateRequest) (*workflow.CreatedVideo, error)
	GetVideoEdit(ctx context.Context, id string) (*model.VideoEdit, error)
	UpdatePresenterNames(ctx context.Context, id string, presenter1, presenter2 *string) (*model.VideoEdit, error)
	ListSegments(ctx context.Context, videoID string) ([]*model.Segment, error)
	UpdateSegment(ctx context.Context, segmentID string, patch workflow.SegmentPatch) (*model.Segment, error)
	ConfirmSegments(ctx context.Context, videoID string) (*model.VideoEdit, error)
	GenerateOutput(ctx context.Context, videoID string, presenter int) (*jobs.Task, error)
	ListOutputs(ctx context.Context, videoID string) ([]*model.RenderOutput, error)
	SuggestMetadata(ctx context.Context, videoID string, presenter int) (*model.VideoMetadata, error)
	OutputStreamURL(ctx context.Context, outputID string) (string, error)
	StartUpload(ctx context.Context, outputID string, meta services.UploadMetadata) (*jobs.Task, error)
	Stats(ctx context.Context) (*workflow.Stats, error)
	Subscribe(ctx context.Context, videoID string) (*events.Subscription, error)
}

// Account is the YouTube connection management.
type Account interface {
	ExchangeCode(ctx context.Context, code, redirectURI, clientID, clientSecret string) (*model.YouTubeCredential, error)
	CheckConnection(ctx context.Context) (*adapters.ConnectionStatus, error)
	SaveChannel(ctx context.Context, channelID string) (*model.YouTubeCredential, error)
}

// ErrAccountUnavailable is returned by the YouTube routes when no account
// manager is configured.
var ErrAccountUnavailable = errors.New("youtube account management is not configured")

type Handler struct {
	pipeline  Pipeline
	account   Account
	heartbeat time.Duration
}

func NewHandler(pipeline Pipeline, account Account) *Handler {
	return &Handler{pipeline: pipeline, account: account, heartbeat: 15 * time.Second}
}

// WithHeartbeat sets how often an idle event stream sends a heartbeat.
func (h *Handler) WithHeartbeat(d time.Duration) *Handler {
	h.heartbeat = d
	return h
}

// Register adds every route to r.
func (h *Handler) Register(r *gin.RouterGroup) {
	h.VideoRouter(r)
	h.SegmentRouter(r)
	h.OutputRouter(r)
	h.YouTubeRouter(r)
	h.Dashboard(r)
}

// StatusOf maps a pipeline error to an HTTP status.
func StatusOf(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case model.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, model.ErrUploadInProgress),
		errors.Is(err, model.ErrStageConflict),
		errors.Is(err, model.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrInvalidTransition),
		errors.Is(err, model.ErrNotConfirmed),
		errors.Is(err, model.ErrNoSegments):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrInvalidRequest),
		errors.Is(err, model.ErrInvalidSegment),
		errors.Is(err, model.ErrInvalidPresenter),
		errors.Is(err, model.ErrInvalidStage),
		errors.Is(err, adapters.ErrMissingClient):
		return http.StatusBadRequest
	case errors.Is(err, workflow.ErrSigningUnavailable),
		errors.Is(err, ErrAccountUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respond(c *gin.Context, status int, data interface{}) {
	c.JSON(status, jobs.EnvelopeOf(data, nil))
}

func fail(c *gin.Context, err error) {
	status := StatusOf(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed", "method", c.Request.Method, "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, jobs.EnvelopeOf(nil, err))
}

// badRequest reports a body or parameter that could not be parsed.
func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, jobs.EnvelopeOf(nil, errors.Join(model.ErrInvalidRequest, err)))
}

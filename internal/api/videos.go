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

package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-long-video/internal/core/workflow"
)

type presenterNamesRequest struct {
	Presenter1Name *string `json:"presenter1Name"`
	Presenter2Name *string `json:"presenter2Name"`
}

type generateOutputRequest struct {
	PresenterNumber int `json:"presenterNumber" binding:"required"`
}

// TaskAccepted is returned for work that continues in the background.
type TaskAccepted struct {
	TaskID   string `json:"taskId"`
	VideoID  string `json:"videoId,omitempty"`
	OutputID string `json:"outputId,omitempty"`
}

// VideoRouter sets up the routes of a video edit.
func (h *Handler) VideoRouter(r *gin.RouterGroup) {
	videos := r.Group("/videos")
	{
		videos.POST("", func(c *gin.Context) {
			var req workflow.CreateRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			out, err := h.pipeline.CreateVideoEdit(c.Request.Context(), req)
			if err != nil {
				fail(c, err)
				return
			}
			respond(c, http.StatusCreated, out)
		})

		videos.GET("/:id", func(c *gin.Context) {
			edit, err := h.pipeline.GetVideoEdit(c.Request.Context(), c.Param("id"))
			if err != nil {
				fail(c, err)
				return
			}
			respond(c, http.StatusOK, edit)
		})

		videos.PATCH("/:id", func(c *gin.Context) {
			var req presenterNamesRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			edit, err := h.pipeline.UpdatePresenterNames(c.Request.Context(), c.Param("id"), req.Presenter1Name, req.Presenter2Name)
			if err != nil {
				fail(c, err)
				return
			}
			respond(c, http.StatusOK, edit)
		})

		videos.GET("/:id/segments", func(c *gin.Context) {
			segments, err := h.pipeline.ListSegments(c.Request.Context(), c.Param("id"))
			if err != nil {
				fail(c, err)
				return
			}
			respond(c, http.StatusOK, segments)
		})

		videos.POST("/:id/confirm", func(c *gin.Context) {
			edit, err := h.pipeline.ConfirmSegments(c.Request.Context(), c.Param("id"))
			if err != nil {
				fail(c, err)
				return
			}
			respond(c, http.StatusOK, edit)
		})

		videos.POST("/:id/outputs", func(c *gin.Context) {
			var req generateOutputRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			id := c.Param("id")
			task, err := h.pipeline.GenerateOutput(c.Request.Context(), id, req.PresenterNumber)
			if err != nil {
				fail(c, err)
				return
			}
			respond(c, http.StatusAccepted, TaskAccepted{TaskID: task.ID, VideoID: id})
		})

		videos.GET("/:id/outputs", func(c *gin.Context) {
			outputs, err := h.pipeline.ListOutputs(c.Request.Context(), c.Param("id"))
			if err != nil {
				fail(c, err)
				return
			}
			respond(c, http.StatusOK, outputs)
		})

		videos.GET("/:id/outputs/:presenter/metadata", func(c *gin.Context) {
			presenter, err := strconv.Atoi(c.Param("presenter"))
			if err != nil {
				badRequest(c, err)
				return
			}
			meta, err := h.pipeline.SuggestMetadata(c.Request.Context(), c.Param("id"), presenter)
			if err != nil {
				fail(c, err)
				return
			}
			respond(c, http.StatusOK, meta)
		})

		videos.GET("/:id/events", h.streamEvents)
	}
}

// SegmentRouter sets up segment curation.
func (h *Handler) SegmentRouter(r *gin.RouterGroup) {
	segments := r.Group("/segments")
	{
		segments.PATCH("/:segmentId", func(c *gin.Context) {
			var patch workflow.SegmentPatch
			if err := c.ShouldBindJSON(&patch); err != nil {
				badRequest(c, err)
				return
			}
			segment, err := h.pipeline.UpdateSegment(c.Request.Context(), c.Param("segmentId"), patch)
			if err != nil {
				fail(c, err)
				return
			}
			respond(c, http.StatusOK, segment)
		})
	}
}

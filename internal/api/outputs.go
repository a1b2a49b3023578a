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

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-long-video/internal/core/services"
)

type uploadRequest struct {
	Title        string   `json:"title" binding:"required"`
	Description  string   `json:"description"`
	Tags         []string `json:"tags"`
	PlaylistName string   `json:"playlistName"`
}

// OutputRouter sets up streaming and publishing of rendered outputs.
func (h *Handler) OutputRouter(r *gin.RouterGroup) {
	outputs := r.Group("/outputs")
	{
		outputs.GET("/:id/stream", func(c *gin.Context) {
			url, err := h.pipeline.OutputStreamURL(c.Request.Context(), c.Param("id"))
			if err != nil {
				fail(c, err)
				return
			}
			respond(c, http.StatusOK, gin.H{"url": url})
		})

		outputs.POST("/:id/upload", func(c *gin.Context) {
			var req uploadRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			id := c.Param("id")
			task, err := h.pipeline.StartUpload(c.Request.Context(), id, services.UploadMetadata{
				Title:        req.Title,
				Description:  req.Description,
				Tags:         req.Tags,
				PlaylistName: req.PlaylistName,
			})
			if err != nil {
				fail(c, err)
				return
			}
			respond(c, http.StatusAccepted, TaskAccepted{TaskID: task.ID, OutputID: id})
		})
	}
}

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
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
)

type tokenRequest struct {
	Code         string `json:"code" binding:"required"`
	RedirectURI  string `json:"redirectUri"`
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

type channelRequest struct {
	ChannelID string `json:"channelId" binding:"required"`
}

// accountView is the part of a credential that may leave the server.
type accountView struct {
	Connected         bool   `json:"connected"`
	HasRefreshToken   bool   `json:"hasRefreshToken"`
	Email             string `json:"email,omitempty"`
	Name              string `json:"name,omitempty"`
	Picture           string `json:"picture,omitempty"`
	ClientID          string `json:"clientId,omitempty"`
	SelectedChannelID string `json:"selectedChannelId,omitempty"`
}

func viewOf(cred *model.YouTubeCredential) accountView {
	return accountView{
		Connected:         cred.AccessToken != "",
		HasRefreshToken:   cred.RefreshToken != "",
		Email:             cred.AccountEmail,
		Name:              cred.AccountName,
		Picture:           cred.AccountPicture,
		ClientID:          cred.ClientID,
		SelectedChannelID: cred.SelectedChannelID,
	}
}

// YouTubeRouter sets up the account connection routes.
func (h *Handler) YouTubeRouter(r *gin.RouterGroup) {
	yt := r.Group("/youtube")
	yt.Use(func(c *gin.Context) {
		if h.account == nil {
			fail(c, ErrAccountUnavailable)
		}
	})
	{
		yt.POST("/token", func(c *gin.Context) {
			var req tokenRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			cred, err := h.account.ExchangeCode(c.Request.Context(), req.Code, req.RedirectURI, req.ClientID, req.ClientSecret)
			if err != nil {
				fail(c, err)
				return
			}
			respond(c, http.StatusOK, viewOf(cred))
		})

		yt.GET("/connection", func(c *gin.Context) {
			status, err := h.account.CheckConnection(c.Request.Context())
			if err != nil {
				fail(c, err)
				return
			}
			respond(c, http.StatusOK, status)
		})

		yt.PUT("/channel", func(c *gin.Context) {
			var req channelRequest
			if err := c.ShouldBindJSON(&req); err != nil {
				badRequest(c, err)
				return
			}
			cred, err := h.account.SaveChannel(c.Request.Context(), req.ChannelID)
			if err != nil {
				fail(c, err)
				return
			}
			respond(c, http.StatusOK, viewOf(cred))
		})
	}
}

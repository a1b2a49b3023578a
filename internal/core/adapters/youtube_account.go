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

package adapters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
	"github.com/jaycherian/gcp-go-long-video/internal/core/services"
	"golang.org/x/oauth2"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// ErrMissingClient is returned when a code exchange has no OAuth client id or
// secret from the request, the stored record or the configuration.
var ErrMissingClient = errors.New("missing youtube oauth client id or secret")

type AccountInfo struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

type Channel struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// AccountDirectory looks up who a token belongs to.
type AccountDirectory interface {
	UserInfo(ctx context.Context, token *oauth2.Token) (*AccountInfo, error)
	Channels(ctx context.Context, token *oauth2.Token) ([]Channel, error)
}

// GoogleAccountDirectory implements AccountDirectory with the OAuth2 userinfo
// and YouTube Data APIs.
type GoogleAccountDirectory struct {
	Endpoint string
}

func (d *GoogleAccountDirectory) options(token *oauth2.Token) []option.ClientOption {
	opts := []option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(token))}
	if d.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(d.Endpoint))
	}
	return opts
}

func (d *GoogleAccountDirectory) UserInfo(ctx context.Context, token *oauth2.Token) (*AccountInfo, error) {
	svc, err := oauth2api.NewService(ctx, d.options(token)...)
	if err != nil {
		return nil, err
	}
	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("fetching userinfo: %w", err)
	}
	return &AccountInfo{Email: info.Email, Name: info.Name, Picture: info.Picture}, nil
}

func (d *GoogleAccountDirectory) Channels(ctx context.Context, token *oauth2.Token) ([]Channel, error) {
	svc, err := youtube.NewService(ctx, d.options(token)...)
	if err != nil {
		return nil, err
	}
	resp, err := svc.Channels.List([]string{"snippet"}).Mine(true).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("listing channels: %w", err)
	}
	channels := make([]Channel, 0, len(resp.Items))
	for _, item := range resp.Items {
		ch := Channel{ID: item.Id}
		if item.Snippet != nil {
			ch.Title = item.Snippet.Title
			if item.Snippet.Thumbnails != nil && item.Snippet.Thumbnails.Default != nil {
				ch.Thumbnail = item.Snippet.Thumbnails.Default.Url
			}
		}
		channels = append(channels, ch)
	}
	return channels, nil
}

// ConnectionStatus describes the connected YouTube account.
type ConnectionStatus struct {
	Connected         bool      `json:"connected"`
	HasRefreshToken   bool      `json:"hasRefreshToken"`
	Email             string    `json:"email,omitempty"`
	Name              string    `json:"name,omitempty"`
	Picture           string    `json:"picture,omitempty"`
	ClientID          string    `json:"clientId,omitempty"`
	Channels          []Channel `json:"channels,omitempty"`
	SelectedChannelID string    `json:"selectedChannelId,omitempty"`
	Error             string    `json:"error,omitempty"`
}

// YouTubeAccount manages the connection between the service and one YouTube
// account.
type YouTubeAccount struct {
	creds     services.CredentialStore
	tokens    *TokenManager
	directory AccountDirectory
}

func NewYouTubeAccount(creds services.CredentialStore, tokens *TokenManager, directory AccountDirectory) *YouTubeAccount {
	return &YouTubeAccount{creds: creds, tokens: tokens, directory: directory}
}

// ExchangeCode trades an authorization code for tokens and stores them.
// Client credentials missing from the call come from the stored record, then
// from the configuration.
func (a *YouTubeAccount) ExchangeCode(ctx context.Context, code, redirectURI, clientID, clientSecret string) (*model.YouTubeCredential, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}
	stored, err := a.creds.Get(ctx)
	if err != nil && !errors.Is(err, model.ErrCredentialNotFound) {
		return nil, err
	}
	conf := a.tokens.settings.config(stored, redirectURI)
	if clientID != "" {
		conf.ClientID = clientID
	}
	if clientSecret != "" {
		conf.ClientSecret = clientSecret
	}
	if conf.ClientID == "" || conf.ClientSecret == "" {
		return nil, ErrMissingClient
	}

	token, err := conf.Exchange(a.tokens.oauthContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchanging authorization code: %w", err)
	}

	cred := &model.YouTubeCredential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
		ClientID:     conf.ClientID,
		ClientSecret: conf.ClientSecret,
		TokenURI:     conf.Endpoint.TokenURL,
		Scopes:       conf.Scopes,
	}
	if stored != nil {
		// Google only returns a refresh token on the first consent.
		if cred.RefreshToken == "" {
			cred.RefreshToken = stored.RefreshToken
		}
		cred.SelectedChannelID = stored.SelectedChannelID
	}
	if info, err := a.directory.UserInfo(ctx, token); err != nil {
		slog.WarnContext(ctx, "could not fetch youtube account info", "error", err)
	} else {
		cred.AccountEmail, cred.AccountName, cred.AccountPicture = info.Email, info.Name, info.Picture
	}
	return a.creds.Put(ctx, cred)
}

// CheckConnection reports whether a usable credential is stored, refreshing
// it when it is about to expire.
func (a *YouTubeAccount) CheckConnection(ctx context.Context) (*ConnectionStatus, error) {
	stored, err := a.creds.Get(ctx)
	if errors.Is(err, model.ErrCredentialNotFound) {
		return &ConnectionStatus{Connected: false}, nil
	}
	if err != nil {
		return nil, err
	}
	status := &ConnectionStatus{
		HasRefreshToken:   stored.RefreshToken != "",
		Email:             stored.AccountEmail,
		Name:              stored.AccountName,
		Picture:           stored.AccountPicture,
		ClientID:          stored.ClientID,
		SelectedChannelID: stored.SelectedChannelID,
	}
	cred, err := a.tokens.EnsureFreshToken(ctx)
	if err != nil {
		status.Error = err.Error()
		return status, nil
	}
	status.Connected = true
	channels, err := a.directory.Channels(ctx, OAuthToken(cred))
	if err != nil {
		slog.WarnContext(ctx, "could not list youtube channels", "error", err)
	}
	status.Channels = channels
	return status, nil
}

// SaveChannel records the channel uploads should go to.
func (a *YouTubeAccount) SaveChannel(ctx context.Context, channelID string) (*model.YouTubeCredential, error) {
	for attempt := 0; attempt < services.MaxUpdateRetries; attempt++ {
		cred, err := a.creds.Get(ctx)
		if err != nil {
			return nil, err
		}
		updated := cred.Clone()
		updated.SelectedChannelID = channelID
		saved, err := a.creds.CompareAndSwap(ctx, cred.Version, updated)
		if !errors.Is(err, model.ErrVersionConflict) {
			return saved, err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return nil, model.ErrVersionConflict
}

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
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jaycherian/gcp-go-long-video/internal/cloud"
	"github.com/jaycherian/gcp-go-long-video/internal/core/jobs"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
	"github.com/jaycherian/gcp-go-long-video/internal/core/services"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	UploadChunkSize      = 10 * 1024 * 1024
	DefaultCategoryID    = "22"
	DefaultPrivacyStatus = "private"
	maxPlaylistPageSize  = 50
	refreshAttempts      = 2
)

// ErrNoRefreshToken is returned when the stored credential has expired and
// cannot be refreshed.
var ErrNoRefreshToken = errors.New("youtube credential has expired and has no refresh token")

// Scopes requested when a user connects a YouTube account.
var Scopes = []string{
	youtube.YoutubeUploadScope,
	youtube.YoutubeReadonlyScope,
	oauth2api.UserinfoEmailScope,
	oauth2api.UserinfoProfileScope,
}

// OAuthSettings are the client settings used when the stored credential does
// not carry its own.
type OAuthSettings struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

func NewOAuthSettings(c cloud.YouTube) OAuthSettings {
	return OAuthSettings{ClientID: c.ClientID, ClientSecret: c.ClientSecret, TokenURL: c.TokenURL}
}

func (s OAuthSettings) config(cred *model.YouTubeCredential, redirectURI string) *oauth2.Config {
	conf := &oauth2.Config{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		Endpoint:     google.Endpoint,
		RedirectURL:  redirectURI,
		Scopes:       Scopes,
	}
	if s.TokenURL != "" {
		conf.Endpoint.TokenURL = s.TokenURL
	}
	if cred != nil {
		if cred.ClientID != "" {
			conf.ClientID = cred.ClientID
		}
		if cred.ClientSecret != "" {
			conf.ClientSecret = cred.ClientSecret
		}
		if cred.TokenURI != "" {
			conf.Endpoint.TokenURL = cred.TokenURI
		}
	}
	return conf
}

// OAuthToken converts a stored credential to an oauth2 token.
func OAuthToken(c *model.YouTubeCredential) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}

// TokenManager keeps the single stored YouTube credential fresh. Concurrent
// refreshes are serialized by the credential's version: the loser of a
// compare-and-swap re-reads and uses the winner's token.
type TokenManager struct {
	creds      services.CredentialStore
	settings   OAuthSettings
	buffer     time.Duration
	httpClient *http.Client
	now        func() time.Time
}

func NewTokenManager(creds services.CredentialStore, settings OAuthSettings, buffer time.Duration) *TokenManager {
	if buffer <= 0 {
		buffer = cloud.DefaultRefreshBuffer
	}
	return &TokenManager{creds: creds, settings: settings, buffer: buffer, now: time.Now}
}

// WithHTTPClient sets the client used to reach the token endpoint.
func (m *TokenManager) WithHTTPClient(c *http.Client) *TokenManager {
	m.httpClient = c
	return m
}

// WithClock replaces time.Now.
func (m *TokenManager) WithClock(now func() time.Time) *TokenManager {
	m.now = now
	return m
}

func (m *TokenManager) oauthContext(ctx context.Context) context.Context {
	if m.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)
	}
	return ctx
}

// EnsureFreshToken returns a credential whose access token is valid for at
// least the refresh buffer, refreshing and persisting it when needed. When a
// refresh fails but the old token has not expired yet, the old token is used.
func (m *TokenManager) EnsureFreshToken(ctx context.Context) (*model.YouTubeCredential, error) {
	for attempt := 0; attempt < refreshAttempts; attempt++ {
		cred, err := m.creds.Get(ctx)
		if err != nil {
			return nil, err
		}
		now := m.now()
		if !cred.NeedsRefresh(now, m.buffer) {
			return cred, nil
		}
		if cred.RefreshToken == "" {
			if !cred.Expired(now) {
				slog.WarnContext(ctx, "youtube token expires soon and cannot be refreshed", "expiry", cred.Expiry)
				return cred, nil
			}
			return nil, ErrNoRefreshToken
		}

		token, err := m.settings.config(cred, "").TokenSource(m.oauthContext(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
		if err != nil {
			if !cred.Expired(now) {
				slog.WarnContext(ctx, "youtube token refresh failed; using current token", "expiry", cred.Expiry, "error", err)
				return cred, nil
			}
			return nil, fmt.Errorf("refreshing youtube token: %w", err)
		}

		updated := cred.Clone()
		updated.AccessToken = token.AccessToken
		updated.Expiry = token.Expiry
		if token.TokenType != "" {
			updated.TokenType = token.TokenType
		}
		if token.RefreshToken != "" {
			updated.RefreshToken = token.RefreshToken
		}
		saved, err := m.creds.CompareAndSwap(ctx, cred.Version, updated)
		if err == nil {
			slog.InfoContext(ctx, "youtube token refreshed", "expiry", saved.Expiry)
			return saved, nil
		}
		if !errors.Is(err, model.ErrVersionConflict) {
			return nil, err
		}
		latest, err := m.creds.Get(ctx)
		if err != nil {
			return nil, err
		}
		if !latest.NeedsRefresh(m.now(), m.buffer) {
			return latest, nil
		}
	}
	return nil, fmt.Errorf("refreshing youtube token: %w", model.ErrVersionConflict)
}

// PublishRequest is one video to put on the platform.
type PublishRequest struct {
	Title         string
	Description   string
	Tags          []string
	CategoryID    string
	PrivacyStatus string
	PlaylistName  string
	Media         io.Reader
}

// VideoPublisher uploads a video with the given token and returns the
// platform's video id.
type VideoPublisher interface {
	Publish(ctx context.Context, token *oauth2.Token, req PublishRequest) (string, error)
}

// YouTubeDataPublisher publishes through the YouTube Data API v3.
type YouTubeDataPublisher struct {
	// Endpoint overrides the API base path.
	Endpoint string
}

var errStopPaging = errors.New("stop paging")

func (p *YouTubeDataPublisher) service(ctx context.Context, token *oauth2.Token) (*youtube.Service, error) {
	opts := []option.ClientOption{option.WithTokenSource(oauth2.StaticTokenSource(token))}
	if p.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(p.Endpoint))
	}
	return youtube.NewService(ctx, opts...)
}

func (p *YouTubeDataPublisher) Publish(ctx context.Context, token *oauth2.Token, req PublishRequest) (string, error) {
	svc, err := p.service(ctx, token)
	if err != nil {
		return "", fmt.Errorf("creating youtube client: %w", err)
	}
	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       model.TruncateTitle(req.Title),
			Description: req.Description,
			Tags:        req.Tags,
			CategoryId:  req.CategoryID,
		},
		Status: &youtube.VideoStatus{PrivacyStatus: req.PrivacyStatus},
	}
	resp, err := svc.Videos.Insert([]string{"snippet", "status"}, video).
		Media(req.Media, googleapi.ChunkSize(UploadChunkSize)).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("youtube upload failed: %w", err)
	}

	if req.PlaylistName != "" {
		if err := p.addToPlaylist(ctx, svc, req.PlaylistName, req.PrivacyStatus, resp.Id); err != nil {
			slog.WarnContext(ctx, "failed to add video to playlist", "videoId", resp.Id, "playlist", req.PlaylistName, "error", err)
		}
	}
	return resp.Id, nil
}

func (p *YouTubeDataPublisher) addToPlaylist(ctx context.Context, svc *youtube.Service, title, privacy, videoID string) error {
	playlistID := ""
	err := svc.Playlists.List([]string{"snippet"}).Mine(true).MaxResults(maxPlaylistPageSize).Pages(ctx, func(resp *youtube.PlaylistListResponse) error {
		for _, pl := range resp.Items {
			if pl.Snippet != nil && pl.Snippet.Title == title {
				playlistID = pl.Id
				return errStopPaging
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopPaging) {
		return fmt.Errorf("listing playlists: %w", err)
	}
	if playlistID == "" {
		created, err := svc.Playlists.Insert([]string{"snippet", "status"}, &youtube.Playlist{
			Snippet: &youtube.PlaylistSnippet{Title: title},
			Status:  &youtube.PlaylistStatus{PrivacyStatus: privacy},
		}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("creating playlist: %w", err)
		}
		playlistID = created.Id
	}
	_, err = svc.PlaylistItems.Insert([]string{"snippet"}, &youtube.PlaylistItem{
		Snippet: &youtube.PlaylistItemSnippet{
			PlaylistId: playlistID,
			ResourceId: &youtube.ResourceId{Kind: "youtube#video", VideoId: videoID},
		},
	}).Context(ctx).Do()
	return err
}

type UploadRequest struct {
	OutputID     string
	Title        string
	Description  string
	Tags         []string
	PlaylistName string
	Bucket       string
	ObjectKey    string
}

// YouTubeUploader publishes a rendered output. The work runs on a goroutine
// tracked by a local job table.
type YouTubeUploader struct {
	tokens     *TokenManager
	publisher  VideoPublisher
	store      cloud.ObjectStore
	categoryID string
	privacy    string
	jobs       *jobs.LocalJobs[string]
}

func NewYouTubeUploader(tokens *TokenManager, publisher VideoPublisher, store cloud.ObjectStore, c cloud.YouTube) *YouTubeUploader {
	u := &YouTubeUploader{
		tokens:     tokens,
		publisher:  publisher,
		store:      store,
		categoryID: c.CategoryID,
		privacy:    c.PrivacyStatus,
		jobs:       jobs.NewLocalJobs[string](),
	}
	if u.categoryID == "" {
		u.categoryID = DefaultCategoryID
	}
	if u.privacy == "" {
		u.privacy = DefaultPrivacyStatus
	}
	return u
}

func (u *YouTubeUploader) Name() string { return "youtube-uploader" }

func (u *YouTubeUploader) Submit(ctx context.Context, req UploadRequest) (string, error) {
	if req.ObjectKey == "" {
		return "", fmt.Errorf("%w: output %s has no rendered object", model.ErrInvalidTransition, req.OutputID)
	}
	return u.jobs.Start(ctx, "", func(ctx context.Context) (string, error) {
		return u.upload(ctx, req)
	}), nil
}

func (u *YouTubeUploader) upload(ctx context.Context, req UploadRequest) (string, error) {
	cred, err := u.tokens.EnsureFreshToken(ctx)
	if err != nil {
		return "", err
	}
	local, err := u.store.DownloadToTemp(ctx, req.Bucket, req.ObjectKey, "upload-*.mp4")
	if err != nil {
		return "", fmt.Errorf("downloading render: %w", err)
	}
	defer os.Remove(local)
	media, err := os.Open(local)
	if err != nil {
		return "", err
	}
	defer media.Close()

	videoID, err := u.publisher.Publish(ctx, OAuthToken(cred), PublishRequest{
		Title:         req.Title,
		Description:   req.Description,
		Tags:          req.Tags,
		CategoryID:    u.categoryID,
		PrivacyStatus: u.privacy,
		PlaylistName:  req.PlaylistName,
		Media:         media,
	})
	if err != nil {
		return "", err
	}
	slog.InfoContext(ctx, "uploaded output to youtube", "outputId", req.OutputID, "youtubeVideoId", videoID)
	return videoID, nil
}

func (u *YouTubeUploader) PollOrAwait(_ context.Context, jobID string) (jobs.JobStatus, error) {
	return u.jobs.Status(jobID)
}

func (u *YouTubeUploader) FailureReason(_ context.Context, jobID string) string {
	if _, err := u.jobs.Take(jobID); err != nil {
		return err.Error()
	}
	return ""
}

func (u *YouTubeUploader) MapResult(_ context.Context, jobID string) (string, error) {
	return u.jobs.Take(jobID)
}

func (u *YouTubeUploader) Forget(jobID string) {
	u.jobs.Forget(jobID)
}

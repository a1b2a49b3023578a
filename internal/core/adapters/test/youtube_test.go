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

package adapters_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-long-video/internal/cloud"
	"github.com/jaycherian/gcp-go-long-video/internal/core/adapters"
	"github.com/jaycherian/gcp-go-long-video/internal/core/jobs"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
	"github.com/jaycherian/gcp-go-long-video/internal/core/services"
	test "github.com/jaycherian/gcp-go-long-video/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type tokenServer struct {
	*httptest.Server
	calls atomic.Int32
	fail  atomic.Bool
}

func newTokenServer(t *testing.T) *tokenServer {
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		if ts.fail.Load() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		body := map[string]interface{}{
			"access_token": "fresh-" + r.Form.Get("grant_type"),
			"token_type":   "Bearer",
			"expires_in":   3600,
		}
		if r.Form.Get("grant_type") == "authorization_code" {
			body["refresh_token"] = "refresh-from-code"
		}
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func seedCredential(t *testing.T, creds services.CredentialStore, expiry time.Time, refresh string) *model.YouTubeCredential {
	t.Helper()
	cred, err := creds.Put(context.Background(), &model.YouTubeCredential{
		AccessToken:  "old",
		RefreshToken: refresh,
		Expiry:       expiry,
		ClientID:     "client",
		ClientSecret: "secret",
	})
	require.NoError(t, err)
	return cred
}

func TestEnsureFreshTokenRefreshesAndPersists(t *testing.T) {
	ts := newTokenServer(t)
	creds := services.NewMemoryCredentialStore()
	seeded := seedCredential(t, creds, time.Now().Add(2*time.Minute), "r1")

	tokens := adapters.NewTokenManager(creds, adapters.OAuthSettings{TokenURL: ts.URL}, 5*time.Minute)
	cred, err := tokens.EnsureFreshToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-refresh_token", cred.AccessToken)
	assert.Equal(t, "r1", cred.RefreshToken)
	assert.True(t, cred.Expiry.After(time.Now().Add(50*time.Minute)))
	assert.Equal(t, seeded.Version+1, cred.Version)

	stored, err := creds.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh-refresh_token", stored.AccessToken)

	// A fresh token is returned without calling the endpoint.
	_, err = tokens.EnsureFreshToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), ts.calls.Load())
}

func TestEnsureFreshTokenKeepsValidTokenWhenRefreshFails(t *testing.T) {
	ts := newTokenServer(t)
	ts.fail.Store(true)
	creds := services.NewMemoryCredentialStore()
	seedCredential(t, creds, time.Now().Add(2*time.Minute), "r1")

	tokens := adapters.NewTokenManager(creds, adapters.OAuthSettings{TokenURL: ts.URL}, 5*time.Minute)
	cred, err := tokens.EnsureFreshToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "old", cred.AccessToken)
}

func TestEnsureFreshTokenFailsWhenExpired(t *testing.T) {
	ts := newTokenServer(t)
	ts.fail.Store(true)
	creds := services.NewMemoryCredentialStore()
	seedCredential(t, creds, time.Now().Add(-time.Minute), "r1")

	tokens := adapters.NewTokenManager(creds, adapters.OAuthSettings{TokenURL: ts.URL}, 5*time.Minute)
	_, err := tokens.EnsureFreshToken(context.Background())
	assert.Error(t, err)

	creds = services.NewMemoryCredentialStore()
	seedCredential(t, creds, time.Now().Add(-time.Minute), "")
	_, err = adapters.NewTokenManager(creds, adapters.OAuthSettings{TokenURL: ts.URL}, 0).EnsureFreshToken(context.Background())
	assert.ErrorIs(t, err, adapters.ErrNoRefreshToken)
}

// racingStore lets another writer refresh the credential between the read and
// the compare-and-swap of the first refresh.
type racingStore struct {
	services.CredentialStore
	once sync.Once
}

func (r *racingStore) CompareAndSwap(ctx context.Context, expected int64, cred *model.YouTubeCredential) (*model.YouTubeCredential, error) {
	r.once.Do(func() {
		winner, _ := r.CredentialStore.Get(ctx)
		winner.AccessToken = "winner"
		winner.Expiry = time.Now().Add(time.Hour)
		_, _ = r.CredentialStore.CompareAndSwap(ctx, winner.Version, winner)
	})
	return r.CredentialStore.CompareAndSwap(ctx, expected, cred)
}

func TestEnsureFreshTokenUsesConcurrentWinner(t *testing.T) {
	ts := newTokenServer(t)
	inner := services.NewMemoryCredentialStore()
	seedCredential(t, inner, time.Now().Add(time.Minute), "r1")
	creds := &racingStore{CredentialStore: inner}

	cred, err := adapters.NewTokenManager(creds, adapters.OAuthSettings{TokenURL: ts.URL}, 5*time.Minute).EnsureFreshToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "winner", cred.AccessToken)
}

type fakePublisher struct {
	mu    sync.Mutex
	token *oauth2.Token
	req   adapters.PublishRequest
	media []byte
}

func (f *fakePublisher) Publish(ctx context.Context, token *oauth2.Token, req adapters.PublishRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
	f.req = req
	f.media, _ = io.ReadAll(req.Media)
	return "yt-123", nil
}

func TestYouTubeUploaderPublishesRenderedOutput(t *testing.T) {
	ts := newTokenServer(t)
	creds := services.NewMemoryCredentialStore()
	seedCredential(t, creds, time.Now().Add(time.Minute), "r1")
	store := test.NewMemoryObjectStore()
	key := adapters.OutputKey("videos", test.TestVideoID, 1)
	store.Put(test.TestBucket, key, "video/mp4", []byte("movie"))

	publisher := &fakePublisher{}
	tokens := adapters.NewTokenManager(creds, adapters.OAuthSettings{TokenURL: ts.URL}, 5*time.Minute)
	uploader := adapters.NewYouTubeUploader(tokens, publisher, store, cloud.YouTube{})

	videoID, err := jobs.Invoke(context.Background(), jobs.NewPoller(time.Millisecond), uploader, adapters.UploadRequest{
		OutputID:     "out-1",
		Title:        "Jane Kim - Tracing",
		Description:  "About tracing",
		Tags:         []string{"tracing"},
		PlaylistName: "Talks",
		Bucket:       test.TestBucket,
		ObjectKey:    key,
	}, jobs.InvokeOptions{Timeout: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, "yt-123", videoID)

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	assert.Equal(t, "fresh-refresh_token", publisher.token.AccessToken)
	assert.Equal(t, "22", publisher.req.CategoryID)
	assert.Equal(t, "private", publisher.req.PrivacyStatus)
	assert.Equal(t, "Talks", publisher.req.PlaylistName)
	assert.Equal(t, "movie", string(publisher.media))
}

func TestYouTubeUploaderWithoutCredential(t *testing.T) {
	store := test.NewMemoryObjectStore()
	store.Put(test.TestBucket, "k", "video/mp4", []byte("movie"))
	tokens := adapters.NewTokenManager(services.NewMemoryCredentialStore(), adapters.OAuthSettings{}, 0)
	uploader := adapters.NewYouTubeUploader(tokens, &fakePublisher{}, store, cloud.YouTube{})

	_, err := jobs.Invoke(context.Background(), jobs.NewPoller(time.Millisecond), uploader, adapters.UploadRequest{
		OutputID: "o", Bucket: test.TestBucket, ObjectKey: "k",
	}, jobs.InvokeOptions{Timeout: 5 * time.Second})
	var failed *jobs.JobFailedError
	require.ErrorAs(t, err, &failed)
	assert.Contains(t, failed.Reason, "credential not found")
}

type fakeDirectory struct{}

func (fakeDirectory) UserInfo(ctx context.Context, token *oauth2.Token) (*adapters.AccountInfo, error) {
	return &adapters.AccountInfo{Email: "jane@example.com", Name: "Jane Kim", Picture: "https://example.com/p.png"}, nil
}

func (fakeDirectory) Channels(ctx context.Context, token *oauth2.Token) ([]adapters.Channel, error) {
	return []adapters.Channel{{ID: "UC1", Title: "Jane's channel"}}, nil
}

func TestYouTubeAccountLifecycle(t *testing.T) {
	ctx := context.Background()
	ts := newTokenServer(t)
	creds := services.NewMemoryCredentialStore()
	settings := adapters.OAuthSettings{TokenURL: ts.URL}
	account := adapters.NewYouTubeAccount(creds, adapters.NewTokenManager(creds, settings, 5*time.Minute), fakeDirectory{})

	status, err := account.CheckConnection(ctx)
	require.NoError(t, err)
	assert.False(t, status.Connected)

	_, err = account.ExchangeCode(ctx, "code", "http://localhost/cb", "", "")
	assert.ErrorIs(t, err, adapters.ErrMissingClient)

	cred, err := account.ExchangeCode(ctx, "code", "http://localhost/cb", "client", "secret")
	require.NoError(t, err)
	assert.Equal(t, "fresh-authorization_code", cred.AccessToken)
	assert.Equal(t, "refresh-from-code", cred.RefreshToken)
	assert.Equal(t, "jane@example.com", cred.AccountEmail)
	assert.Equal(t, "client", cred.ClientID)

	status, err = account.CheckConnection(ctx)
	require.NoError(t, err)
	assert.True(t, status.Connected)
	assert.True(t, status.HasRefreshToken)
	assert.Equal(t, "Jane Kim", status.Name)
	require.Len(t, status.Channels, 1)

	saved, err := account.SaveChannel(ctx, "UC1")
	require.NoError(t, err)
	assert.Equal(t, "UC1", saved.SelectedChannelID)
	assert.Equal(t, cred.Version+1, saved.Version)

	// A second exchange reuses the stored client and keeps the channel.
	again, err := account.ExchangeCode(ctx, "code2", "http://localhost/cb", "", "")
	require.NoError(t, err)
	assert.Equal(t, "UC1", again.SelectedChannelID)
}

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

package api_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jaycherian/gcp-go-long-video/internal/api"
	"github.com/jaycherian/gcp-go-long-video/internal/core/adapters"
	"github.com/jaycherian/gcp-go-long-video/internal/core/events"
	"github.com/jaycherian/gcp-go-long-video/internal/core/jobs"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
	"github.com/jaycherian/gcp-go-long-video/internal/core/services"
	"github.com/jaycherian/gcp-go-long-video/internal/core/workflow"
	test "github.com/jaycherian/gcp-go-long-video/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type writeRunner struct{}

func (writeRunner) Run(ctx context.Context, name string, args ...string) error {
	return os.WriteFile(args[len(args)-1], []byte("rendered"), 0o600)
}

type fakeAccount struct {
	mu      sync.Mutex
	channel string
}

func (a *fakeAccount) ExchangeCode(ctx context.Context, code, redirectURI, clientID, clientSecret string) (*model.YouTubeCredential, error) {
	if clientID == "" {
		return nil, adapters.ErrMissingClient
	}
	return &model.YouTubeCredential{AccessToken: "secret-token", RefreshToken: "secret-refresh", ClientID: clientID, AccountEmail: "ada@example.com"}, nil
}

func (a *fakeAccount) CheckConnection(ctx context.Context) (*adapters.ConnectionStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return &adapters.ConnectionStatus{Connected: true, SelectedChannelID: a.channel}, nil
}

func (a *fakeAccount) SaveChannel(ctx context.Context, channelID string) (*model.YouTubeCredential, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.channel = channelID
	return &model.YouTubeCredential{AccessToken: "secret-token", SelectedChannelID: channelID}, nil
}

type server struct {
	router  *gin.Engine
	stores  *services.Stores
	bus     *events.Bus
	objects *test.MemoryObjectStore
}

func newServer(t *testing.T, account api.Account) *server {
	t.Helper()
	cfg := *test.GetConfig()
	objects := test.NewMemoryObjectStore()
	s := &server{
		router:  gin.New(),
		stores:  services.NewMemoryStores(),
		bus:     events.NewBus(8),
		objects: objects,
	}
	orch := workflow.NewOrchestrator(&workflow.Dependencies{
		Config:   &cfg,
		Stores:   s.stores,
		Bus:      s.bus,
		Objects:  objects,
		Poller:   jobs.NewPoller(time.Millisecond),
		Renderer: adapters.NewRenderer(writeRunner{}, "ffmpeg", objects, cfg.Storage),
	})
	api.NewHandler(orch, account).WithHeartbeat(time.Hour).Register(s.router.Group("/api/v1"))
	return s
}

type envelope struct {
	Success bool            `json:"success"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

func (s *server) do(t *testing.T, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func decode[T any](t *testing.T, env envelope) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(env.Data, &out))
	return out
}

// createAnalyzed creates an edit and stores two presenter segments as if the
// process workflow had run.
func (s *server) createAnalyzed(t *testing.T) string {
	t.Helper()
	code, env := s.do(t, http.MethodPost, "/videos", gin.H{"videoName": "seminar.mp4", "presenter1Name": "Ada"})
	require.Equal(t, http.StatusCreated, code)
	created := decode[workflow.CreatedVideo](t, env)
	id := created.Edit.ID
	s.objects.Put(created.Edit.RawBucket, created.Edit.RawKey, "video/mp4", test.MP4Header)

	ctx := context.Background()
	_, err := s.stores.Stages.Update(ctx, id, func(e *model.VideoEdit) error {
		e.Stage = model.StageAnalyzed
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, s.stores.Segments.ReplaceForVideo(ctx, id, []*model.Segment{
		{StartTime: 0, EndTime: 60, SpeakerLabel: "presenter1", SegmentType: model.SegmentPresenter1, IncludeInOutput: true},
		{StartTime: 64, EndTime: 120, SpeakerLabel: "presenter2", SegmentType: model.SegmentPresenter2, IncludeInOutput: true},
	}))
	return id
}

func TestStatusOf(t *testing.T) {
	cases := map[error]int{
		nil:                        http.StatusOK,
		model.ErrVideoEditNotFound: http.StatusNotFound,
		fmt.Errorf("x: %w", model.ErrRenderOutputNotFound): http.StatusNotFound,
		model.ErrUploadInProgress:                          http.StatusConflict,
		model.ErrStageConflict:                             http.StatusConflict,
		model.ErrInvalidTransition:                         http.StatusUnprocessableEntity,
		model.ErrNotConfirmed:                              http.StatusUnprocessableEntity,
		model.ErrInvalidSegment:                            http.StatusBadRequest,
		model.ErrInvalidPresenter:                          http.StatusBadRequest,
		workflow.ErrSigningUnavailable:                     http.StatusServiceUnavailable,
		errors.New("boom"):                                 http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, api.StatusOf(err), "%v", err)
	}
}

func TestCreateAndFetchVideo(t *testing.T) {
	s := newServer(t, nil)

	code, env := s.do(t, http.MethodPost, "/videos", gin.H{"presenter1Name": "Ada"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.False(t, env.Success)

	code, env = s.do(t, http.MethodPost, "/videos", gin.H{"videoName": "seminar.mp4", "ownerId": "owner-1"})
	require.Equal(t, http.StatusCreated, code)
	created := decode[workflow.CreatedVideo](t, env)
	assert.True(t, strings.HasSuffix(created.UploadKey, created.Edit.ID+"/RAW.mp4"), created.UploadKey)
	assert.Empty(t, created.UploadURL)

	code, env = s.do(t, http.MethodGet, "/videos/"+created.Edit.ID, nil)
	require.Equal(t, http.StatusOK, code)
	edit := decode[model.VideoEdit](t, env)
	assert.Equal(t, model.StageUploaded, edit.Stage)
	assert.Equal(t, "owner-1", edit.OwnerID)

	code, env = s.do(t, http.MethodPatch, "/videos/"+created.Edit.ID, gin.H{"presenter2Name": "Grace"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Grace", decode[model.VideoEdit](t, env).Presenter2Name)

	code, env = s.do(t, http.MethodGet, "/videos/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.NotEmpty(t, env.Error)
}

func TestConfirmAndGenerateOutput(t *testing.T) {
	s := newServer(t, nil)
	id := s.createAnalyzed(t)

	code, _ := s.do(t, http.MethodPost, "/videos/"+id+"/outputs", gin.H{"presenterNumber": 1})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	code, env := s.do(t, http.MethodGet, "/videos/"+id+"/segments", nil)
	require.Equal(t, http.StatusOK, code)
	segments := decode[[]*model.Segment](t, env)
	require.Len(t, segments, 2)

	code, _ = s.do(t, http.MethodPatch, "/segments/"+segments[0].ID, gin.H{"startTime": 90})
	assert.Equal(t, http.StatusBadRequest, code)
	code, env = s.do(t, http.MethodPatch, "/segments/"+segments[0].ID, gin.H{"endTime": 50})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 50.0, decode[model.Segment](t, env).EndTime)

	code, env = s.do(t, http.MethodPost, "/videos/"+id+"/confirm", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, model.StageUserConfirmed, decode[model.VideoEdit](t, env).Stage)

	code, _ = s.do(t, http.MethodPost, "/videos/"+id+"/outputs", gin.H{"presenterNumber": 5})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env = s.do(t, http.MethodPost, "/videos/"+id+"/outputs", gin.H{"presenterNumber": 1})
	require.Equal(t, http.StatusAccepted, code)
	accepted := decode[api.TaskAccepted](t, env)
	assert.Equal(t, id, accepted.VideoID)
	assert.NotEmpty(t, accepted.TaskID)

	require.Eventually(t, func() bool {
		edit, err := s.stores.Stages.Get(context.Background(), id)
		return err == nil && edit.Stage == model.StageComplete
	}, 10*time.Second, 10*time.Millisecond)

	code, env = s.do(t, http.MethodGet, "/videos/"+id+"/outputs", nil)
	require.Equal(t, http.StatusOK, code)
	outputs := decode[[]*model.RenderOutput](t, env)
	require.Len(t, outputs, 1)
	assert.Equal(t, model.RenderStatusRendered, outputs[0].RenderStatus)

	code, _ = s.do(t, http.MethodGet, "/outputs/"+outputs[0].ID+"/stream", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, env = s.do(t, http.MethodGet, "/videos/"+id+"/outputs/1/metadata", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, decode[model.VideoMetadata](t, env).Title, "Ada")
	code, _ = s.do(t, http.MethodGet, "/videos/"+id+"/outputs/first/metadata", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUploadRoute(t *testing.T) {
	s := newServer(t, nil)
	ctx := context.Background()
	id := s.createAnalyzed(t)
	out, err := s.stores.Outputs.Upsert(ctx, &model.RenderOutput{VideoEditID: id, PresenterNumber: 1, RenderStatus: model.RenderStatusRendering})
	require.NoError(t, err)

	code, _ := s.do(t, http.MethodPost, "/outputs/"+out.ID+"/upload", gin.H{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = s.do(t, http.MethodPost, "/outputs/"+out.ID+"/upload", gin.H{"title": "Ada"})
	assert.Equal(t, http.StatusUnprocessableEntity, code)

	_, err = s.stores.Outputs.Update(ctx, out.ID, func(o *model.RenderOutput) error {
		o.UploadStatus = model.UploadUploading
		return nil
	})
	require.NoError(t, err)
	code, env := s.do(t, http.MethodPost, "/outputs/"+out.ID+"/upload", gin.H{"title": "Ada"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, env.Error, model.ErrUploadInProgress.Error())

	code, _ = s.do(t, http.MethodPost, "/outputs/missing/upload", gin.H{"title": "Ada"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStatsRoute(t *testing.T) {
	s := newServer(t, nil)
	s.createAnalyzed(t)
	code, env := s.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, code)
	stats := decode[workflow.Stats](t, env)
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Stages[model.StageAnalyzed.String()])
}

func TestYouTubeRoutes(t *testing.T) {
	s := newServer(t, nil)
	code, _ := s.do(t, http.MethodGet, "/youtube/connection", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	s = newServer(t, &fakeAccount{})
	code, _ = s.do(t, http.MethodPost, "/youtube/token", gin.H{"code": "auth-code"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, env := s.do(t, http.MethodPost, "/youtube/token", gin.H{"code": "auth-code", "clientId": "client"})
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, string(env.Data), "secret-token")
	assert.NotContains(t, string(env.Data), "secret-refresh")
	assert.Contains(t, string(env.Data), "ada@example.com")

	code, _ = s.do(t, http.MethodPut, "/youtube/channel", gin.H{"channelId": "UC123"})
	require.Equal(t, http.StatusOK, code)
	code, env = s.do(t, http.MethodGet, "/youtube/connection", nil)
	require.Equal(t, http.StatusOK, code)
	status := decode[adapters.ConnectionStatus](t, env)
	assert.True(t, status.Connected)
	assert.Equal(t, "UC123", status.SelectedChannelID)
}

func TestEventStream(t *testing.T) {
	s := newServer(t, nil)
	id := s.createAnalyzed(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/videos/missing/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/videos/"+id+"/events", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", strings.Split(resp.Header.Get("Content-Type"), ";")[0])

	require.Eventually(t, func() bool { return s.bus.SubscriberCount(id) == 1 }, 5*time.Second, 5*time.Millisecond)
	s.bus.Publish(ctx, model.StageChangeEvent{VideoID: id, Stage: int(model.StageUserConfirmed)})

	scanner := bufio.NewScanner(resp.Body)
	var name, data string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event:") {
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		}
		if strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			break
		}
	}
	require.NotEmpty(t, data)
	assert.Equal(t, string(model.EventStage), name)

	var evt model.StageChangeEvent
	require.NoError(t, json.Unmarshal([]byte(data), &evt))
	assert.Equal(t, id, evt.VideoID)
	assert.Equal(t, 3, evt.Stage)

	cancel()
	require.Eventually(t, func() bool { return s.bus.SubscriberCount(id) == 0 }, 5*time.Second, 5*time.Millisecond)
}

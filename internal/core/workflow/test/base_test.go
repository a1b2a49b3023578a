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

// Package workflow_test drives the orchestrator end to end against the
// in-memory stores, the in-memory object store and scripted models. Only the
// external processes (ffmpeg, the video platform) are faked.
package workflow_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"text/template"
	"time"

	"github.com/jaycherian/gcp-go-long-video/internal/cloud"
	"github.com/jaycherian/gcp-go-long-video/internal/core/adapters"
	"github.com/jaycherian/gcp-go-long-video/internal/core/events"
	"github.com/jaycherian/gcp-go-long-video/internal/core/jobs"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
	"github.com/jaycherian/gcp-go-long-video/internal/core/services"
	"github.com/jaycherian/gcp-go-long-video/internal/core/workflow"
	"github.com/jaycherian/gcp-go-long-video/internal/telemetry"
	test "github.com/jaycherian/gcp-go-long-video/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const tName = "github.com/jaycherian/gcp-go-long-video/tests/workflow"

var (
	config *cloud.Config
	logger = otelslog.NewLogger(tName)
)

func TestMain(m *testing.M) {
	config = test.GetConfig()
	telemetry.SetupLogging(config.Application.LogLevel)
	logger.Info("completed test setup")
	os.Exit(m.Run())
}

// fakeFFmpeg writes a placeholder file to the output path, the last argument.
// A render whose output path contains a held label waits for its gate.
type fakeFFmpeg struct {
	mu    sync.Mutex
	calls int
	err   error
	gates map[string]chan struct{}
}

func (f *fakeFFmpeg) Run(ctx context.Context, name string, args ...string) error {
	output := args[len(args)-1]
	f.mu.Lock()
	f.calls++
	err := f.err
	var gate chan struct{}
	for label, g := range f.gates {
		if strings.Contains(filepath.Base(output), label) {
			gate = g
		}
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return os.WriteFile(output, []byte("rendered"), 0o600)
}

// hold makes renders whose output path contains label wait until the
// returned function is called.
func (f *fakeFFmpeg) hold(label string) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gates == nil {
		f.gates = make(map[string]chan struct{})
	}
	g := make(chan struct{})
	f.gates[label] = g
	return func() { close(g) }
}

func (f *fakeFFmpeg) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFFmpeg) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// fakeUploader stands in for the video platform. With a gate it holds every
// upload until the gate is closed.
type fakeUploader struct {
	gate    chan struct{}
	err     error
	videoID string
	jobs    *jobs.LocalJobs[string]
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{videoID: "yt-123", jobs: jobs.NewLocalJobs[string]()}
}

func (u *fakeUploader) Name() string { return "fake-uploader" }

func (u *fakeUploader) Submit(ctx context.Context, req adapters.UploadRequest) (string, error) {
	return u.jobs.Start(ctx, "", func(ctx context.Context) (string, error) {
		if u.gate != nil {
			select {
			case <-u.gate:
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if u.err != nil {
			return "", u.err
		}
		return u.videoID, nil
	}), nil
}

func (u *fakeUploader) PollOrAwait(_ context.Context, jobID string) (jobs.JobStatus, error) {
	return u.jobs.Status(jobID)
}

func (u *fakeUploader) FailureReason(_ context.Context, jobID string) string {
	if _, err := u.jobs.Take(jobID); err != nil {
		return err.Error()
	}
	return ""
}

func (u *fakeUploader) MapResult(_ context.Context, jobID string) (string, error) {
	return u.jobs.Take(jobID)
}

type harness struct {
	orch          *workflow.Orchestrator
	stores        *services.Stores
	objects       *test.MemoryObjectStore
	bus           *events.Bus
	transcription *test.ScriptedModel
	ffmpeg        *fakeFFmpeg
	uploader      *fakeUploader
}

func prompt(t *testing.T, name, text string) *template.Template {
	t.Helper()
	tmpl, err := adapters.ParsePrompt(name, text)
	require.NoError(t, err)
	return tmpl
}

func transcriptReply(t *testing.T) string {
	t.Helper()
	data, err := json.Marshal(test.GetTestTranscript())
	require.NoError(t, err)
	return string(data)
}

// newHarness wires the orchestrator the way the server does, with a
// millisecond poll interval. The analysis model answers with text that is
// not JSON, so analysis falls back to the detected segments.
func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWith(t, nil)
}

// newHarnessWith lets a test adjust the dependencies before the orchestrator
// is built.
func newHarnessWith(t *testing.T, adjust func(*workflow.Dependencies)) *harness {
	t.Helper()
	cfg := *config

	h := &harness{
		stores:        services.NewMemoryStores(),
		objects:       test.NewMemoryObjectStore(),
		bus:           events.NewBus(32),
		transcription: test.NewScriptedModel(transcriptReply(t)),
		ffmpeg:        &fakeFFmpeg{},
		uploader:      newFakeUploader(),
	}
	poller := jobs.NewPoller(time.Millisecond)

	deps := &workflow.Dependencies{
		Config:      &cfg,
		Stores:      h.stores,
		Bus:         h.bus,
		Objects:     h.objects,
		Poller:      poller,
		Transcriber: adapters.NewTranscriber(h.transcription, h.objects, prompt(t, "transcription", cfg.PromptTemplates.TranscriptionPrompt), cfg.Storage),
		Detector:    adapters.NewBoundaryDetector(h.objects),
		Analyzer:    adapters.NewSegmentAnalyzer(test.NewScriptedModel("no segments today"), h.objects, prompt(t, "segment-analysis", cfg.PromptTemplates.SegmentAnalysisPrompt)),
		Renderer:    adapters.NewRenderer(h.ffmpeg, "ffmpeg", h.objects, cfg.Storage),
		Uploader:    h.uploader,
		Metadata:    adapters.NewMetadataSuggester(test.NewFailingModel(), prompt(t, "metadata", cfg.PromptTemplates.MetadataPrompt)),
	}
	if adjust != nil {
		adjust(deps)
	}
	h.orch = workflow.NewOrchestrator(deps)
	return h
}

// notification is the GCS notification for an object.
func notification(bucket, key string) []byte {
	return []byte(fmt.Sprintf(`{"kind":"storage#object","bucket":%q,"name":%q,"contentType":"video/mp4"}`, bucket, key))
}

// uploadedEdit creates an edit and stores a raw MP4 where its upload goes.
func (h *harness) uploadedEdit(t *testing.T) (*model.VideoEdit, []byte) {
	t.Helper()
	created, err := h.orch.CreateVideoEdit(context.Background(), workflow.CreateRequest{
		OwnerID:        "owner-1",
		VideoName:      "seminar.mp4",
		Presenter1Name: "Ada",
		Presenter2Name: "Grace",
	})
	require.NoError(t, err)
	edit := created.Edit
	h.objects.Put(edit.RawBucket, edit.RawKey, "video/mp4", test.MP4Header)
	return edit, notification(edit.RawBucket, edit.RawKey)
}

// analyzedEdit runs the process workflow for a new edit.
func (h *harness) analyzedEdit(t *testing.T) *model.VideoEdit {
	t.Helper()
	edit, msg := h.uploadedEdit(t)
	require.NoError(t, h.orch.HandleRawUpload(context.Background(), msg))
	edit, err := h.orch.GetVideoEdit(context.Background(), edit.ID)
	require.NoError(t, err)
	require.Equal(t, model.StageAnalyzed, edit.Stage)
	return edit
}

// confirmedEdit is analyzedEdit followed by a confirm.
func (h *harness) confirmedEdit(t *testing.T) *model.VideoEdit {
	t.Helper()
	edit := h.analyzedEdit(t)
	edit, err := h.orch.ConfirmSegments(context.Background(), edit.ID)
	require.NoError(t, err)
	return edit
}

// drain returns the events already queued on the subscription.
func drain(sub *events.Subscription) []model.StageChangeEvent {
	var out []model.StageChangeEvent
	for {
		select {
		case evt := <-sub.C:
			out = append(out, evt)
		default:
			return out
		}
	}
}

func stagesOf(evts []model.StageChangeEvent) []int {
	out := make([]int, 0, len(evts))
	for _, e := range evts {
		out = append(out, e.Stage)
	}
	return out
}

func waitTask(t *testing.T, task *jobs.Task) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := task.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "task %s did not finish", task.ID)
	return err
}

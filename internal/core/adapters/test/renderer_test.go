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
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-long-video/internal/cloud"
	"github.com/jaycherian/gcp-go-long-video/internal/core/adapters"
	"github.com/jaycherian/gcp-go-long-video/internal/core/jobs"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
	test "github.com/jaycherian/gcp-go-long-video/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFFmpeg writes a small file to the output path, the last argument.
type fakeFFmpeg struct {
	mu   sync.Mutex
	args []string
	err  error
}

func (f *fakeFFmpeg) Run(ctx context.Context, name string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.args = append([]string{name}, args...)
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(args[len(args)-1], []byte("rendered"), 0o600)
}

func TestRendererCutsAndUploads(t *testing.T) {
	store := test.NewMemoryObjectStore()
	store.Put(test.TestBucket, test.TestRawKey, "video/mp4", test.MP4Header)
	runner := &fakeFFmpeg{}
	renderer := adapters.NewRenderer(runner, "/usr/bin/ffmpeg", store, cloud.Storage{MediaBucket: test.TestBucket})

	res, err := jobs.Invoke(context.Background(), jobs.NewPoller(time.Millisecond), renderer, adapters.RenderRequest{
		VideoID:         test.TestVideoID,
		PresenterNumber: 2,
		Title:           "Tracing",
		Bucket:          test.TestBucket,
		SourceKey:       test.TestRawKey,
		Segments: []model.TimeRange{
			{Start: 123.5, End: 180},
			{Start: 64, End: 123},
			{Start: 10, End: 10},
		},
	}, jobs.InvokeOptions{Timeout: 5 * time.Second})
	require.NoError(t, err)

	assert.Equal(t, "gs://long-video-media/videos/abc123/LongVideoOutput/presenter2.mp4", res.StorageLocation)
	assert.Equal(t, []model.Clip{
		{StartTimecode: "00:01:04:00", EndTimecode: "00:02:03:00"},
		{StartTimecode: "00:02:03:13", EndTimecode: "00:03:00:00"},
	}, res.Clips)
	assert.InDelta(t, 115.5, res.Duration, 1e-9)

	data, err := store.Read(context.Background(), test.TestBucket, res.OutputKey)
	require.NoError(t, err)
	assert.Equal(t, "rendered", string(data))
	assert.Equal(t, "video/mp4", store.ContentType(test.TestBucket, res.OutputKey))

	cmdline := strings.Join(runner.args, " ")
	assert.Equal(t, "/usr/bin/ffmpeg", runner.args[0])
	assert.Contains(t, cmdline, "concat=n=2:v=1:a=1[outv][outa]")
	assert.Contains(t, cmdline, "trim=start=64.000:end=123.000")
	assert.Contains(t, cmdline, "scale=1920:1080")
	assert.Contains(t, cmdline, "-maxrate 5M")
	assert.Contains(t, cmdline, "-b:a 96k -ar 48000 -ac 2")
	assert.Contains(t, cmdline, "title=Tracing")
}

func TestRendererRejectsEmptySelection(t *testing.T) {
	renderer := adapters.NewRenderer(&fakeFFmpeg{}, "", test.NewMemoryObjectStore(), cloud.Storage{})
	_, err := renderer.Submit(context.Background(), adapters.RenderRequest{VideoID: "v", PresenterNumber: 1, Segments: []model.TimeRange{{Start: 5, End: 2}}})
	assert.ErrorIs(t, err, model.ErrNoSegments)

	_, err = renderer.Submit(context.Background(), adapters.RenderRequest{VideoID: "v", PresenterNumber: 3, Segments: []model.TimeRange{{Start: 0, End: 2}}})
	assert.ErrorIs(t, err, model.ErrInvalidPresenter)
}

func TestRendererReportsFFmpegFailure(t *testing.T) {
	store := test.NewMemoryObjectStore()
	store.Put(test.TestBucket, test.TestRawKey, "video/mp4", test.MP4Header)
	renderer := adapters.NewRenderer(&fakeFFmpeg{err: errors.New("invalid data found")}, "", store, cloud.Storage{MediaBucket: test.TestBucket})

	_, err := jobs.Invoke(context.Background(), jobs.NewPoller(time.Millisecond), renderer, adapters.RenderRequest{
		VideoID: "v", PresenterNumber: 1, Bucket: test.TestBucket, SourceKey: test.TestRawKey,
		Segments: []model.TimeRange{{Start: 0, End: 10}},
	}, jobs.InvokeOptions{Timeout: 5 * time.Second})
	var failed *jobs.JobFailedError
	require.ErrorAs(t, err, &failed)
	assert.Contains(t, failed.Reason, "invalid data found")
	_, statusErr := renderer.PollOrAwait(context.Background(), failed.JobID)
	assert.ErrorIs(t, statusErr, jobs.ErrJobNotFound)
}

func TestOutputKey(t *testing.T) {
	assert.Equal(t, "videos/v1/LongVideoOutput/presenter1.mp4", adapters.OutputKey("videos", "v1", 1))
}

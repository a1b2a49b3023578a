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

// Package test provides utility functions and fixtures to support the
// application's test suite: the test configuration, GCS notification payloads,
// a diarized transcript, an in-memory object store and a disposable Postgres.
package test

import (
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/jaycherian/gcp-go-long-video/internal/cloud"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
)

// StateManager caches the configuration for the duration of a test run.
type StateManager struct {
	once   sync.Once
	config *cloud.Config
}

var state = &StateManager{}

const (
	TestBucket  = "long-video-media"
	TestVideoID = "abc123"
	TestRawKey  = TestVideoID + "/RAW.mp4"
)

// HandleErr fails the test when err is not nil.
func HandleErr(err error, t *testing.T) {
	t.Helper()
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// GetTestRawUploadMessageText simulates the Pub/Sub notification Cloud Storage
// sends when a raw video is uploaded for video abc123.
func GetTestRawUploadMessageText() string {
	return `{
  "kind": "storage#object",
  "id": "long-video-media/abc123/RAW.mp4/1728615848664286",
  "selfLink": "https://www.googleapis.com/storage/v1/b/long-video-media/o/abc123%2FRAW.mp4",
  "name": "abc123/RAW.mp4",
  "bucket": "long-video-media",
  "generation": "1728615848664286",
  "metageneration": "1",
  "contentType": "video/mp4",
  "timeCreated": "2024-10-11T03:04:08.672Z",
  "updated": "2024-10-11T03:04:08.672Z",
  "storageClass": "STANDARD",
  "timeStorageClassUpdated": "2024-10-11T03:04:08.672Z",
  "size": "259348037",
  "md5Hash": "67c1rAU+1RYZzK5zp8iBkA==",
  "mediaLink": "https://storage.googleapis.com/download/storage/v1/b/long-video-media/o/abc123%2FRAW.mp4?generation=1728615848664286&alt=media",
  "metadata": { "touch": "18" },
  "crc32c": "IYeSTw==",
  "etag": "CN658+yrhYkDEAE="
}`
}

// GetTestTranscriptMessageText simulates the notification for a derived
// object, which must not start the pipeline.
func GetTestTranscriptMessageText() string {
	return `{
  "kind": "storage#object",
  "name": "videos/abc123/LongVideoTranscript.json",
  "bucket": "long-video-media",
  "contentType": "application/json",
  "size": "2048"
}`
}

// GetTestTranscript returns a diarized transcript of two presenters:
//
//	spk_0  0.0 - 60.0   two turns one second apart
//	spk_1 64.0 - 123.0  after a 4 s silence, absorbing a 2.5 s interjection by spk_0
//	spk_1 123.5 - 180.0
//	spk_0 181.0 - 240.0 after a 1 s pause
func GetTestTranscript() *model.Transcript {
	turns := []model.SpeakerTurn{
		{Speaker: "spk_0", Start: 0, End: 30, Text: "Welcome everyone to today's seminar."},
		{Speaker: "spk_0", Start: 31, End: 60, Text: "Let me introduce the first topic."},
		{Speaker: "spk_1", Start: 64, End: 120, Text: "Thanks. I will talk about distributed tracing."},
		{Speaker: "spk_0", Start: 120.5, End: 123, Text: "Great."},
		{Speaker: "spk_1", Start: 123.5, End: 180, Text: "Spans are linked by a trace context."},
		{Speaker: "spk_0", Start: 181, End: 240, Text: "Now for questions from the audience."},
	}
	t := &model.Transcript{
		JobName:      TestVideoID + "_longvideo",
		LanguageCode: "en-US",
		SpeakerTurns: turns,
	}
	var text []byte
	for _, turn := range turns {
		mid := (turn.Start + turn.End) / 2
		t.Items = append(t.Items,
			model.TranscriptItem{Start: turn.Start, End: mid, Content: turn.Text, Speaker: turn.Speaker},
			model.TranscriptItem{Start: mid, End: turn.End, Content: "", Speaker: turn.Speaker},
		)
		if len(text) > 0 {
			text = append(text, ' ')
		}
		text = append(text, turn.Text...)
	}
	t.Text = string(text)
	return t
}

// ConfigDir is the absolute path of the repository's configs directory.
func ConfigDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "configs")
}

// SetupOS points the configuration loader at the test configuration.
func SetupOS() (err error) {
	if err = os.Setenv(cloud.EnvConfigFilePrefix, ConfigDir()); err != nil {
		return err
	}
	return os.Setenv(cloud.EnvConfigRuntime, "test")
}

// GetConfig loads the test configuration once and caches it.
func GetConfig() *cloud.Config {
	state.once.Do(func() {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup environment for test: %v\n", err)
		}
		config := cloud.NewConfig()
		if err := cloud.LoadConfig(config); err != nil {
			log.Fatalf("failed to load test configuration: %v\n", err)
		}
		state.config = config
	})
	return state.config
}

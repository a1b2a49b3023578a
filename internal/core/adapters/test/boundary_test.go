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
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-long-video/internal/core/adapters"
	"github.com/jaycherian/gcp-go-long-video/internal/core/jobs"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
	test "github.com/jaycherian/gcp-go-long-video/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectBoundariesOnTwoPresenterTranscript(t *testing.T) {
	res := adapters.DetectBoundaries(test.TestVideoID, test.GetTestTranscript())

	require.Len(t, res.Segments, 4)
	want := []struct {
		start, end float64
		label      string
	}{
		{0, 60, "presenter1"},
		{64, 123, "presenter2"},
		{123.5, 180, "presenter2"},
		{181, 240, "presenter1"},
	}
	ids := map[string]bool{}
	for i, w := range want {
		s := res.Segments[i]
		assert.Equal(t, w.start, s.StartTime, "segment %d start", i)
		assert.Equal(t, w.end, s.EndTime, "segment %d end", i)
		assert.Equal(t, w.label, s.SpeakerLabel)
		assert.Equal(t, model.SegmentType(w.label), s.SegmentType)
		assert.True(t, s.IncludeInOutput)
		require.NotNil(t, s.AIConfidence)
		assert.Equal(t, 0.8, *s.AIConfidence)
		assert.Equal(t, test.TestVideoID, s.VideoEditID)
		assert.NoError(t, s.Validate())
		ids[s.ID] = true
	}
	assert.Len(t, ids, 4)

	require.Len(t, res.Boundaries, 2)
	assert.Equal(t, 62.0, res.Boundaries[0].Time)
	assert.True(t, res.Boundaries[0].HasSilence)
	assert.Equal(t, 0.9, res.Boundaries[0].Confidence)
	assert.Equal(t, 4.0, res.Boundaries[0].GapDuration)
	assert.Equal(t, "spk_0", res.Boundaries[0].FromSpeaker)
	assert.Equal(t, "spk_1", res.Boundaries[0].ToSpeaker)

	assert.Equal(t, 180.5, res.Boundaries[1].Time)
	assert.False(t, res.Boundaries[1].HasSilence)
	assert.Equal(t, 0.7, res.Boundaries[1].Confidence)

	assert.Equal(t, map[string]string{"spk_0": "presenter1", "spk_1": "presenter2"}, res.SpeakerMap)
}

func TestDetectBoundariesOrdersUnsortedTurns(t *testing.T) {
	transcript := &model.Transcript{SpeakerTurns: []model.SpeakerTurn{
		{Speaker: "spk_0", Start: 0, End: 20},
		{Speaker: "spk_1", Start: 40, End: 60},
		{Speaker: "spk_1", Start: 25, End: 38},
	}}
	res := adapters.DetectBoundaries(test.TestVideoID, transcript)

	require.Len(t, res.Segments, 2)
	assert.Equal(t, "presenter1", res.Segments[0].SpeakerLabel)
	assert.Equal(t, 0.0, res.Segments[0].StartTime)
	assert.Equal(t, 20.0, res.Segments[0].EndTime)
	assert.Equal(t, "presenter2", res.Segments[1].SpeakerLabel)
	assert.Equal(t, 25.0, res.Segments[1].StartTime)
	assert.Equal(t, 60.0, res.Segments[1].EndTime)

	require.Len(t, res.Boundaries, 1)
	assert.Equal(t, 22.5, res.Boundaries[0].Time)
}

func TestDetectBoundariesMergeNeverShrinksSpan(t *testing.T) {
	transcript := &model.Transcript{SpeakerTurns: []model.SpeakerTurn{
		{Speaker: "spk_0", Start: 0, End: 30},
		{Speaker: "spk_0", Start: 10, End: 20},
		{Speaker: "spk_1", Start: 35, End: 70},
	}}
	res := adapters.DetectBoundaries(test.TestVideoID, transcript)

	require.Len(t, res.Segments, 2)
	assert.Equal(t, 30.0, res.Segments[0].EndTime)
	for _, s := range res.Segments {
		assert.Less(t, s.StartTime, s.EndTime)
	}
}

func TestDetectBoundariesThirdSpeakerIsUnknown(t *testing.T) {
	transcript := &model.Transcript{SpeakerTurns: []model.SpeakerTurn{
		{Speaker: "spk_2", Start: 0, End: 20},
		{Speaker: "spk_0", Start: 25, End: 60},
		{Speaker: "spk_1", Start: 65, End: 100},
		{Speaker: "spk_3", Start: 105, End: 130},
		{Speaker: "spk_1", Start: 140, End: 140},
	}}
	res := adapters.DetectBoundaries("v", transcript)

	require.Len(t, res.Segments, 4)
	assert.Equal(t, "presenter1", res.Segments[0].SpeakerLabel)
	assert.Equal(t, "presenter2", res.Segments[1].SpeakerLabel)
	assert.Equal(t, "unknown", res.Segments[2].SpeakerLabel)
	assert.Equal(t, model.SegmentUnknown, res.Segments[3].SegmentType)
	assert.Len(t, res.Boundaries, 3)
}

func TestDetectBoundariesWithoutTurnsUsesItems(t *testing.T) {
	transcript := &model.Transcript{Items: []model.TranscriptItem{
		{Start: 0, End: 4, Speaker: "a"},
		{Start: 4, End: 9, Speaker: "a"},
		{Start: 10, End: 20, Speaker: "b"},
	}}
	res := adapters.DetectBoundaries("v", transcript)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, 9.0, res.Segments[0].EndTime)
	require.Len(t, res.Boundaries, 1)
	assert.Equal(t, 9.5, res.Boundaries[0].Time)
}

func TestDetectBoundariesEmptyTranscript(t *testing.T) {
	res := adapters.DetectBoundaries("v", &model.Transcript{})
	assert.Empty(t, res.Segments)
	assert.Empty(t, res.Boundaries)
	assert.Empty(t, res.SpeakerMap)
}

func TestBoundaryDetectorThroughInvoke(t *testing.T) {
	ctx := context.Background()
	store := test.NewMemoryObjectStore()
	data, err := json.Marshal(test.GetTestTranscript())
	require.NoError(t, err)
	key := adapters.TranscriptKey("videos", test.TestVideoID)
	store.Put(test.TestBucket, key, "application/json", data)

	detector := adapters.NewBoundaryDetector(store)
	ts := time.Date(2024, 10, 11, 3, 4, 8, 0, time.UTC)
	res, err := jobs.Invoke(ctx, jobs.NewPoller(time.Millisecond), detector, adapters.BoundaryRequest{
		VideoID:       test.TestVideoID,
		Bucket:        test.TestBucket,
		TranscriptKey: key,
		Timestamp:     ts,
	}, jobs.InvokeOptions{Timeout: time.Second})
	require.NoError(t, err)
	require.Len(t, res.Segments, 4)
	assert.Equal(t, ts, res.Segments[0].CreatedAt)

	_, err = jobs.Invoke(ctx, jobs.NewPoller(time.Millisecond), detector, adapters.BoundaryRequest{
		VideoID: "missing", Bucket: test.TestBucket, TranscriptKey: "videos/missing/LongVideoTranscript.json",
	}, jobs.InvokeOptions{Timeout: time.Second})
	var failed *jobs.JobFailedError
	require.ErrorAs(t, err, &failed)
	assert.Contains(t, failed.Reason, "missing")
}

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

package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jaycherian/gcp-go-long-video/internal/core/events"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
	test "github.com/jaycherian/gcp-go-long-video/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusDeliversOnlyToMatchingVideo(t *testing.T) {
	bus := events.NewBus(4)
	a := bus.Subscribe("video-a")
	defer a.Close()
	b := bus.Subscribe("video-b")
	defer b.Close()

	bus.Publish(context.Background(), model.StageChangeEvent{VideoID: "video-a", Stage: 1})

	evt := <-a.C
	assert.Equal(t, "video-a", evt.VideoID)
	assert.Equal(t, 1, evt.Stage)
	assert.Equal(t, model.EventStage, evt.Kind)
	assert.False(t, evt.Timestamp.IsZero())
	assert.Len(t, b.C, 0)
}

func TestBusSequenceIsMonotonic(t *testing.T) {
	bus := events.NewBus(8)
	sub := bus.Subscribe("v")
	defer sub.Close()

	for stage := 0; stage <= 5; stage++ {
		bus.Publish(context.Background(), model.StageChangeEvent{VideoID: "v", Stage: stage})
	}
	var last uint64
	for i := 0; i <= 5; i++ {
		evt := <-sub.C
		assert.Greater(t, evt.Seq, last)
		assert.Equal(t, i, evt.Stage)
		last = evt.Seq
	}
}

func TestBusNeverBlocksOnSlowSubscriber(t *testing.T) {
	bus := events.NewBus(1)
	sub := bus.Subscribe("v")
	defer sub.Close()

	for i := 0; i < 10; i++ {
		bus.Publish(context.Background(), model.StageChangeEvent{VideoID: "v", Stage: i % 6})
	}
	assert.Len(t, sub.C, 1)
}

func TestBusNoReplayForLateSubscriber(t *testing.T) {
	bus := events.NewBus(4)
	bus.Publish(context.Background(), model.StageChangeEvent{VideoID: "v", Stage: 1})

	sub := bus.Subscribe("v")
	defer sub.Close()
	assert.Len(t, sub.C, 0)
}

func TestSubscriptionCloseIsIdempotent(t *testing.T) {
	bus := events.NewBus(4)
	sub := bus.Subscribe("v")
	assert.Equal(t, 1, bus.SubscriberCount("v"))
	sub.Close()
	sub.Close()
	assert.Equal(t, 0, bus.SubscriberCount("v"))

	_, open := <-sub.C
	assert.False(t, open)
	bus.Publish(context.Background(), model.StageChangeEvent{VideoID: "v", Stage: 2})
}

type recordingInserter struct {
	rows []*events.StageAuditRow
	err  error
}

func (r *recordingInserter) Put(ctx context.Context, src interface{}) error {
	if r.err != nil {
		return r.err
	}
	r.rows = append(r.rows, src.(*events.StageAuditRow))
	return nil
}

func TestBigQuerySinkWritesAuditRow(t *testing.T) {
	ins := &recordingInserter{}
	bus := events.NewBus(1)
	bus.AddSink(events.NewBigQuerySinkWithInserter(ins))

	bus.Publish(context.Background(), model.StageChangeEvent{VideoID: "v", Stage: -1, Cause: "transcription failed"})

	require.Len(t, ins.rows, 1)
	assert.Equal(t, "FAILED", ins.rows[0].StageName)
	assert.Equal(t, "transcription failed", ins.rows[0].Cause)
	assert.Equal(t, int64(1), ins.rows[0].Seq)
}

func TestSinkErrorDoesNotAffectSubscribers(t *testing.T) {
	bus := events.NewBus(1)
	bus.AddSink(events.NewBigQuerySinkWithInserter(&recordingInserter{err: errors.New("quota")}))
	sub := bus.Subscribe("v")
	defer sub.Close()

	bus.Publish(context.Background(), model.StageChangeEvent{VideoID: "v", Stage: 3})
	assert.Equal(t, 3, (<-sub.C).Stage)
}

func TestPubSubSinkPublishesStageMessage(t *testing.T) {
	ctx := context.Background()
	client, srv := test.NewPubSubClient(ctx, t)
	_, err := client.CreateTopic(ctx, "stage-events")
	require.NoError(t, err)

	sink := events.NewPubSubSink(client, "stage-events")
	defer sink.Stop()
	require.NoError(t, sink.Deliver(ctx, model.StageChangeEvent{VideoID: "abc123", Stage: 2, Seq: 9}))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "abc123", msgs[0].Attributes["videoId"])
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(msgs[0].Data, &body))
	assert.Equal(t, "abc123", body["videoId"])
	assert.Equal(t, float64(2), body["stage"])
}

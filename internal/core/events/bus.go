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

// Package events fans stage-change notifications out to whoever is listening
// for a given video. Delivery is at-most-once with no replay: a subscriber that
// connects late, or whose buffer is full, misses events. Subscribers that need
// the current state re-read the Stage Store.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jaycherian/gcp-go-long-video/internal/core/cor"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const DefaultSubscriberBuffer = 16

// Publisher is the side of the bus the orchestrator depends on.
type Publisher interface {
	Publish(ctx context.Context, evt model.StageChangeEvent) model.StageChangeEvent
}

// Sink receives every published event in addition to the live subscribers.
// Sinks are best-effort; an error is logged and otherwise ignored.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, evt model.StageChangeEvent) error
}

// Subscription is a live feed of events for one video.
type Subscription struct {
	C <-chan model.StageChangeEvent

	bus     *Bus
	videoID string
	id      uint64
	ch      chan model.StageChangeEvent
	once    sync.Once
}

// Close detaches the subscription and closes C.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.unsubscribe(s)
	})
}

// Bus is an in-memory fan-out keyed by videoId.
type Bus struct {
	mu         sync.RWMutex
	subs       map[string]map[uint64]*Subscription
	nextSubID  uint64
	seq        atomic.Uint64
	bufferSize int
	sinks      []Sink

	dropped metric.Int64Counter
}

func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultSubscriberBuffer
	}
	dropped, err := otel.Meter(cor.MeterName).Int64Counter("events.dropped")
	if err != nil {
		slog.Warn("error creating dropped event counter", "error", err)
	}
	return &Bus{
		subs:       make(map[string]map[uint64]*Subscription),
		bufferSize: bufferSize,
		dropped:    dropped,
	}
}

// AddSink registers a sink. It is not safe to call concurrently with Publish.
func (b *Bus) AddSink(s Sink) {
	b.sinks = append(b.sinks, s)
}

// Subscribe starts a feed for videoID. Only events published after this call
// are delivered.
func (b *Bus) Subscribe(videoID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSubID++
	ch := make(chan model.StageChangeEvent, b.bufferSize)
	sub := &Subscription{C: ch, bus: b, videoID: videoID, id: b.nextSubID, ch: ch}
	if b.subs[videoID] == nil {
		b.subs[videoID] = make(map[uint64]*Subscription)
	}
	b.subs[videoID][sub.id] = sub
	return sub
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[s.videoID]; ok {
		if _, ok := set[s.id]; ok {
			delete(set, s.id)
			close(s.ch)
		}
		if len(set) == 0 {
			delete(b.subs, s.videoID)
		}
	}
}

// SubscriberCount is the number of live subscriptions for videoID.
func (b *Bus) SubscriberCount(videoID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[videoID])
}

// Publish assigns the sequence number and timestamp and delivers the event
// without blocking. It returns the event as delivered.
func (b *Bus) Publish(ctx context.Context, evt model.StageChangeEvent) model.StageChangeEvent {
	evt.Seq = b.seq.Add(1)
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if evt.Kind == "" {
		evt.Kind = model.EventStage
	}

	b.mu.RLock()
	for _, sub := range b.subs[evt.VideoID] {
		select {
		case sub.ch <- evt:
		default:
			b.dropped.Add(ctx, 1)
			slog.DebugContext(ctx, "subscriber buffer full; event dropped", "videoId", evt.VideoID, "seq", evt.Seq)
		}
	}
	b.mu.RUnlock()

	for _, sink := range b.sinks {
		if err := sink.Deliver(ctx, evt); err != nil {
			slog.WarnContext(ctx, "event sink failed", "sink", sink.Name(), "videoId", evt.VideoID, "error", err)
		}
	}
	return evt
}

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

package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jaycherian/gcp-go-long-video/internal/core/cor"
	"github.com/jaycherian/gcp-go-long-video/internal/core/jobs"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
	"github.com/jaycherian/gcp-go-long-video/internal/core/services"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// RecoverySweeper picks up transcriptions whose process stopped polling, for
// example because the server restarted, and runs the process workflow again
// from the persisted checkpoint.
type RecoverySweeper struct {
	stages     services.StageStore
	process    cor.Command
	interval   time.Duration
	staleAfter time.Duration
	now        func() time.Time

	mu       sync.Mutex
	inFlight map[string]*jobs.Task
}

func NewRecoverySweeper(stages services.StageStore, process cor.Command, interval, staleAfter time.Duration) *RecoverySweeper {
	return &RecoverySweeper{
		stages:     stages,
		process:    process,
		interval:   interval,
		staleAfter: staleAfter,
		now:        time.Now,
		inFlight:   make(map[string]*jobs.Task),
	}
}

// Start sweeps every interval until ctx is done.
func (s *RecoverySweeper) Start(ctx context.Context) {
	tracer := otel.Tracer("recovery-sweeper")
	ticker := time.NewTicker(s.interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				spanCtx, span := tracer.Start(ctx, "recovery-sweep")
				tasks, err := s.Sweep(spanCtx)
				span.SetAttributes(attribute.Int("resumed", len(tasks)))
				if err != nil {
					slog.ErrorContext(spanCtx, "recovery sweep failed", "error", err)
					span.SetStatus(codes.Error, "failed to list stalled transcriptions")
				} else {
					span.SetStatus(codes.Ok, "swept")
				}
				span.End()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Sweep resumes every stalled transcription that is not already being resumed
// and returns the tasks it started.
func (s *RecoverySweeper) Sweep(ctx context.Context) ([]*jobs.Task, error) {
	return s.SweepBefore(ctx, s.now().Add(-s.staleAfter))
}

// SweepBefore resumes stalled transcriptions last touched before cutoff.
func (s *RecoverySweeper) SweepBefore(ctx context.Context, cutoff time.Time) ([]*jobs.Task, error) {
	stalled, err := s.stages.ListStalledTranscriptions(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	s.prune()
	var started []*jobs.Task
	for _, edit := range stalled {
		if task := s.resume(ctx, edit); task != nil {
			started = append(started, task)
		}
	}
	return started, nil
}

func (s *RecoverySweeper) prune() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.inFlight {
		select {
		case <-t.Done():
			delete(s.inFlight, id)
		default:
		}
	}
}

func (s *RecoverySweeper) resume(ctx context.Context, edit *model.VideoEdit) *jobs.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[edit.ID]; ok {
		return nil
	}

	slog.InfoContext(ctx, "resuming stalled transcription", "videoId", edit.ID, "jobId", edit.TranscriptionJobID, "attempts", edit.PollAttempts)
	upload := &model.RawUpload{VideoID: edit.ID, Bucket: edit.RawBucket, Key: edit.RawKey}
	task := jobs.Go(ctx, "recover/"+edit.ID, func(ctx context.Context) error {
		chainCtx := cor.NewContextWithInput(ctx, upload)
		defer chainCtx.Close()
		s.process.Execute(chainCtx)
		if err := chainCtx.Err(); err != nil {
			slog.WarnContext(ctx, "resumed pipeline did not finish", "videoId", upload.VideoID, "error", err)
			return err
		}
		return nil
	})
	s.inFlight[edit.ID] = task
	return task
}

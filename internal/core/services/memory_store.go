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

package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
)

// NewMemoryStores returns process-local stores with the same semantics as the
// Postgres ones. They back the tests and the local runtime without a database.
func NewMemoryStores() *Stores {
	return &Stores{
		Stages:      NewMemoryStageStore(),
		Segments:    NewMemorySegmentStore(),
		Outputs:     NewMemoryRenderOutputStore(),
		Credentials: NewMemoryCredentialStore(),
	}
}

type MemoryStageStore struct {
	mu    sync.Mutex
	edits map[string]*model.VideoEdit
}

func NewMemoryStageStore() *MemoryStageStore {
	return &MemoryStageStore{edits: make(map[string]*model.VideoEdit)}
}

func (s *MemoryStageStore) Create(ctx context.Context, edit *model.VideoEdit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.edits[edit.ID]; ok {
		return fmt.Errorf("video edit %s already exists", edit.ID)
	}
	cp := edit.Clone()
	if cp.Version == 0 {
		cp.Version = 1
	}
	now := time.Now().UTC()
	cp.CreatedAt, cp.UpdatedAt = now, now
	s.edits[edit.ID] = cp
	return nil
}

func (s *MemoryStageStore) Get(ctx context.Context, id string) (*model.VideoEdit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.edits[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrVideoEditNotFound, id)
	}
	return e.Clone(), nil
}

func (s *MemoryStageStore) Update(ctx context.Context, id string, mutate func(*model.VideoEdit) error) (*model.VideoEdit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.edits[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrVideoEditNotFound, id)
	}
	next := e.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = e.ID
	next.Version = e.Version + 1
	next.CreatedAt = e.CreatedAt
	next.UpdatedAt = time.Now().UTC()
	s.edits[id] = next
	return next.Clone(), nil
}

func (s *MemoryStageStore) ListStalledTranscriptions(ctx context.Context, olderThan time.Time) ([]*model.VideoEdit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.VideoEdit
	for _, e := range s.edits {
		if e.Stage == model.StageUploaded && e.TranscriptionJobID != "" && e.UpdatedAt.Before(olderThan) {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStageStore) CountByStage(ctx context.Context) (map[model.Stage]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[model.Stage]int)
	for _, e := range s.edits {
		out[e.Stage]++
	}
	return out, nil
}

type MemorySegmentStore struct {
	mu       sync.Mutex
	segments map[string]*model.Segment
}

func NewMemorySegmentStore() *MemorySegmentStore {
	return &MemorySegmentStore{segments: make(map[string]*model.Segment)}
}

func (s *MemorySegmentStore) ReplaceForVideo(ctx context.Context, videoID string, segments []*model.Segment) error {
	now := time.Now().UTC()
	prepared := make([]*model.Segment, 0, len(segments))
	for _, seg := range segments {
		cp := seg.Clone()
		cp.VideoEditID = videoID
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		if err := cp.Validate(); err != nil {
			return err
		}
		cp.Version = 1
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		cp.UpdatedAt = now
		prepared = append(prepared, cp)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, seg := range s.segments {
		if seg.VideoEditID == videoID {
			delete(s.segments, id)
		}
	}
	for _, seg := range prepared {
		s.segments[seg.ID] = seg
	}
	return nil
}

func (s *MemorySegmentStore) Get(ctx context.Context, id string) (*model.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrSegmentNotFound, id)
	}
	return seg.Clone(), nil
}

func (s *MemorySegmentStore) ListByVideo(ctx context.Context, videoID string) ([]*model.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(func(seg *model.Segment) bool { return seg.VideoEditID == videoID }), nil
}

func (s *MemorySegmentStore) ListForRender(ctx context.Context, videoID string, presenter int) ([]*model.Segment, error) {
	label := model.PresenterLabel(presenter)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filter(func(seg *model.Segment) bool {
		return seg.VideoEditID == videoID && seg.IncludeInOutput && seg.SpeakerLabel == label
	}), nil
}

func (s *MemorySegmentStore) filter(keep func(*model.Segment) bool) []*model.Segment {
	out := make([]*model.Segment, 0)
	for _, seg := range s.segments {
		if keep(seg) {
			out = append(out, seg.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime == out[j].StartTime {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime < out[j].StartTime
	})
	return out
}

func (s *MemorySegmentStore) Update(ctx context.Context, id string, mutate func(*model.Segment) error) (*model.Segment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.segments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrSegmentNotFound, id)
	}
	next := seg.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID, next.VideoEditID, next.CreatedAt = seg.ID, seg.VideoEditID, seg.CreatedAt
	if err := next.Validate(); err != nil {
		return nil, err
	}
	next.Version = seg.Version + 1
	next.UpdatedAt = time.Now().UTC()
	s.segments[id] = next
	return next.Clone(), nil
}

func (s *MemorySegmentStore) ApplyAnalysis(ctx context.Context, videoID string, refined []*model.Segment) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	updated := 0
	now := time.Now().UTC()
	for _, r := range refined {
		seg, ok := s.segments[r.ID]
		if !ok || seg.VideoEditID != videoID {
			continue
		}
		next := seg.Clone()
		copyClassification(next, r)
		if next.Validate() != nil {
			continue
		}
		next.Version = seg.Version + 1
		next.UpdatedAt = now
		s.segments[r.ID] = next
		updated++
	}
	return updated, nil
}

type MemoryRenderOutputStore struct {
	mu      sync.Mutex
	outputs map[string]*model.RenderOutput
}

func NewMemoryRenderOutputStore() *MemoryRenderOutputStore {
	return &MemoryRenderOutputStore{outputs: make(map[string]*model.RenderOutput)}
}

func (s *MemoryRenderOutputStore) Upsert(ctx context.Context, out *model.RenderOutput) (*model.RenderOutput, error) {
	if !model.ValidPresenter(out.PresenterNumber) {
		return nil, model.ErrInvalidPresenter
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for id, existing := range s.outputs {
		if existing.VideoEditID != out.VideoEditID || existing.PresenterNumber != out.PresenterNumber {
			continue
		}
		if !existing.UploadStatus.CanBegin() {
			return nil, model.ErrUploadInProgress
		}
		next := out.Clone()
		next.ID = id
		next.CreatedAt = existing.CreatedAt
		next.Version = existing.Version + 1
		next.UpdatedAt = now
		s.outputs[id] = next
		return next.Clone(), nil
	}
	next := out.Clone()
	if next.ID == "" {
		next.ID = uuid.NewString()
	}
	next.Version = 1
	next.CreatedAt, next.UpdatedAt = now, now
	s.outputs[next.ID] = next
	return next.Clone(), nil
}

func (s *MemoryRenderOutputStore) Get(ctx context.Context, id string) (*model.RenderOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.outputs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrRenderOutputNotFound, id)
	}
	return o.Clone(), nil
}

func (s *MemoryRenderOutputStore) GetByPresenter(ctx context.Context, videoID string, presenter int) (*model.RenderOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.outputs {
		if o.VideoEditID == videoID && o.PresenterNumber == presenter {
			return o.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: video %s presenter %d", model.ErrRenderOutputNotFound, videoID, presenter)
}

func (s *MemoryRenderOutputStore) ListByVideo(ctx context.Context, videoID string) ([]*model.RenderOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.RenderOutput, 0, 2)
	for _, o := range s.outputs {
		if o.VideoEditID == videoID {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PresenterNumber < out[j].PresenterNumber })
	return out, nil
}

func (s *MemoryRenderOutputStore) Update(ctx context.Context, id string, mutate func(*model.RenderOutput) error) (*model.RenderOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.outputs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrRenderOutputNotFound, id)
	}
	next := o.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID, next.VideoEditID, next.PresenterNumber, next.CreatedAt = o.ID, o.VideoEditID, o.PresenterNumber, o.CreatedAt
	next.Version = o.Version + 1
	next.UpdatedAt = time.Now().UTC()
	s.outputs[id] = next
	return next.Clone(), nil
}

type MemoryCredentialStore struct {
	mu   sync.Mutex
	cred *model.YouTubeCredential
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

func (s *MemoryCredentialStore) Get(ctx context.Context) (*model.YouTubeCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return nil, model.ErrCredentialNotFound
	}
	return s.cred.Clone(), nil
}

func (s *MemoryCredentialStore) Put(ctx context.Context, cred *model.YouTubeCredential) (*model.YouTubeCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var version int64 = 1
	if s.cred != nil {
		version = s.cred.Version + 1
	}
	next := cred.Clone()
	next.Version = version
	next.UpdatedAt = time.Now().UTC()
	s.cred = next
	return next.Clone(), nil
}

func (s *MemoryCredentialStore) CompareAndSwap(ctx context.Context, expectedVersion int64, cred *model.YouTubeCredential) (*model.YouTubeCredential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return nil, model.ErrCredentialNotFound
	}
	if s.cred.Version != expectedVersion {
		return nil, model.ErrVersionConflict
	}
	next := cred.Clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = time.Now().UTC()
	s.cred = next
	return next.Clone(), nil
}

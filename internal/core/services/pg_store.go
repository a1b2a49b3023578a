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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
)

// YouTubeProvider is the key of the single credential row.
const YouTubeProvider = "youtube"

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

var errLostRace = errors.New("lost update race")

// NewPgStores builds all stores on one pool.
func NewPgStores(pool *pgxpool.Pool) *Stores {
	return &Stores{
		Stages:      &PgStageStore{pool: pool},
		Segments:    &PgSegmentStore{pool: pool},
		Outputs:     &PgRenderOutputStore{pool: pool},
		Credentials: &PgCredentialStore{pool: pool},
	}
}

// withRetries re-runs attempt while it reports a lost race.
func withRetries(kind, id string, attempt func() error) error {
	for i := 0; i < MaxUpdateRetries; i++ {
		err := attempt()
		if !errors.Is(err, errLostRace) {
			return err
		}
	}
	return fmt.Errorf("%w: %s %s", model.ErrVersionConflict, kind, id)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

type scanner interface {
	Scan(dest ...any) error
}

type PgStageStore struct {
	pool *pgxpool.Pool
}

func NewPgStageStore(pool *pgxpool.Pool) *PgStageStore {
	return &PgStageStore{pool: pool}
}

func scanVideoEdit(row scanner) (*model.VideoEdit, error) {
	e := &model.VideoEdit{}
	var stage int
	err := row.Scan(&e.ID, &e.OwnerID, &e.VideoName, &e.ModelID, &e.Presenter1Name, &e.Presenter2Name, &stage,
		&e.RawBucket, &e.RawKey, &e.TranscriptionJobID, &e.PollAttempts, &e.TranscriptURI, &e.FailureCause,
		&e.LastError, &e.Version, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Stage = model.Stage(stage)
	return e, nil
}

func (s *PgStageStore) Create(ctx context.Context, edit *model.VideoEdit) error {
	now := time.Now().UTC()
	if edit.CreatedAt.IsZero() {
		edit.CreatedAt = now
	}
	edit.UpdatedAt = now
	if edit.Version == 0 {
		edit.Version = 1
	}
	_, err := s.pool.Exec(ctx, QryInsertVideoEdit,
		edit.ID, edit.OwnerID, edit.VideoName, edit.ModelID, edit.Presenter1Name, edit.Presenter2Name, int(edit.Stage),
		edit.RawBucket, edit.RawKey, edit.TranscriptionJobID, edit.PollAttempts, edit.TranscriptURI, edit.FailureCause,
		edit.LastError, edit.Version, edit.CreatedAt, edit.UpdatedAt)
	if pgCode(err) == pgUniqueViolation {
		return fmt.Errorf("video edit %s already exists: %w", edit.ID, err)
	}
	if err != nil {
		return fmt.Errorf("inserting video edit %s: %w", edit.ID, err)
	}
	return nil
}

func (s *PgStageStore) Get(ctx context.Context, id string) (*model.VideoEdit, error) {
	e, err := scanVideoEdit(s.pool.QueryRow(ctx, QryGetVideoEdit, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrVideoEditNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading video edit %s: %w", id, err)
	}
	return e, nil
}

func (s *PgStageStore) Update(ctx context.Context, id string, mutate func(*model.VideoEdit) error) (*model.VideoEdit, error) {
	var out *model.VideoEdit
	err := withRetries("video edit", id, func() error {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := mutate(next); err != nil {
			return err
		}
		next.ID, next.CreatedAt = cur.ID, cur.CreatedAt
		err = s.pool.QueryRow(ctx, QryUpdateVideoEdit, id, cur.Version,
			next.OwnerID, next.VideoName, next.ModelID, next.Presenter1Name, next.Presenter2Name, int(next.Stage),
			next.RawBucket, next.RawKey, next.TranscriptionJobID, next.PollAttempts, next.TranscriptURI,
			next.FailureCause, next.LastError,
		).Scan(&next.Version, &next.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return errLostRace
		}
		if err != nil {
			return fmt.Errorf("updating video edit %s: %w", id, err)
		}
		out = next
		return nil
	})
	return out, err
}

func (s *PgStageStore) ListStalledTranscriptions(ctx context.Context, olderThan time.Time) ([]*model.VideoEdit, error) {
	rows, err := s.pool.Query(ctx, QryListStalledTranscriptions, olderThan)
	if err != nil {
		return nil, fmt.Errorf("listing stalled transcriptions: %w", err)
	}
	defer rows.Close()
	var out []*model.VideoEdit
	for rows.Next() {
		e, err := scanVideoEdit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PgStageStore) CountByStage(ctx context.Context) (map[model.Stage]int, error) {
	rows, err := s.pool.Query(ctx, QryCountByStage)
	if err != nil {
		return nil, fmt.Errorf("counting video edits by stage: %w", err)
	}
	defer rows.Close()
	out := make(map[model.Stage]int)
	for rows.Next() {
		var stage, n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, err
		}
		out[model.Stage(stage)] = n
	}
	return out, rows.Err()
}

type PgSegmentStore struct {
	pool *pgxpool.Pool
}

func NewPgSegmentStore(pool *pgxpool.Pool) *PgSegmentStore {
	return &PgSegmentStore{pool: pool}
}

func scanSegment(row scanner) (*model.Segment, error) {
	seg := &model.Segment{}
	var segType string
	err := row.Scan(&seg.ID, &seg.VideoEditID, &seg.StartTime, &seg.EndTime, &seg.SpeakerLabel, &segType,
		&seg.IncludeInOutput, &seg.AIConfidence, &seg.Version, &seg.CreatedAt, &seg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	seg.SegmentType = model.SegmentType(segType)
	return seg, nil
}

func (s *PgSegmentStore) ReplaceForVideo(ctx context.Context, videoID string, segments []*model.Segment) error {
	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, seg := range segments {
		cp := seg.Clone()
		cp.VideoEditID = videoID
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		if err := cp.Validate(); err != nil {
			return err
		}
		batch.Queue(QryInsertSegment, cp.ID, videoID, cp.StartTime, cp.EndTime, cp.SpeakerLabel,
			string(cp.SegmentType), cp.IncludeInOutput, cp.AIConfidence, now)
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, QryDeleteSegmentsForVideo, videoID); err != nil {
			return err
		}
		if batch.Len() == 0 {
			return nil
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if pgCode(err) == pgForeignKeyViolation {
		return fmt.Errorf("%w: %s", model.ErrVideoEditNotFound, videoID)
	}
	if err != nil {
		return fmt.Errorf("replacing segments for %s: %w", videoID, err)
	}
	return nil
}

func (s *PgSegmentStore) Get(ctx context.Context, id string) (*model.Segment, error) {
	seg, err := scanSegment(s.pool.QueryRow(ctx, QryGetSegment, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrSegmentNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading segment %s: %w", id, err)
	}
	return seg, nil
}

func (s *PgSegmentStore) list(ctx context.Context, query string, args ...any) ([]*model.Segment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing segments: %w", err)
	}
	defer rows.Close()
	out := make([]*model.Segment, 0)
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

func (s *PgSegmentStore) ListByVideo(ctx context.Context, videoID string) ([]*model.Segment, error) {
	return s.list(ctx, QryListSegmentsByVideo, videoID)
}

func (s *PgSegmentStore) ListForRender(ctx context.Context, videoID string, presenter int) ([]*model.Segment, error) {
	return s.list(ctx, QryListSegmentsForRender, videoID, model.PresenterLabel(presenter))
}

func (s *PgSegmentStore) Update(ctx context.Context, id string, mutate func(*model.Segment) error) (*model.Segment, error) {
	var out *model.Segment
	err := withRetries("segment", id, func() error {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := mutate(next); err != nil {
			return err
		}
		next.ID, next.VideoEditID, next.CreatedAt = cur.ID, cur.VideoEditID, cur.CreatedAt
		if err := next.Validate(); err != nil {
			return err
		}
		err = s.pool.QueryRow(ctx, QryUpdateSegment, id, cur.Version,
			next.StartTime, next.EndTime, next.SpeakerLabel, string(next.SegmentType), next.IncludeInOutput,
			next.AIConfidence,
		).Scan(&next.Version, &next.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return errLostRace
		}
		if pgCode(err) == pgCheckViolation {
			return fmt.Errorf("%w: %v", model.ErrInvalidSegment, err)
		}
		if err != nil {
			return fmt.Errorf("updating segment %s: %w", id, err)
		}
		out = next
		return nil
	})
	return out, err
}

func (s *PgSegmentStore) ApplyAnalysis(ctx context.Context, videoID string, refined []*model.Segment) (int, error) {
	current, err := s.ListByVideo(ctx, videoID)
	if err != nil {
		return 0, err
	}
	byID := make(map[string]*model.Segment, len(current))
	for _, seg := range current {
		byID[seg.ID] = seg
	}

	batch := &pgx.Batch{}
	for _, r := range refined {
		cur, ok := byID[r.ID]
		if !ok {
			continue
		}
		next := cur.Clone()
		copyClassification(next, r)
		if next.Validate() != nil {
			continue
		}
		batch.Queue(QryApplyAnalysis, next.ID, videoID, next.StartTime, next.EndTime, next.SpeakerLabel,
			string(next.SegmentType), next.IncludeInOutput, next.AIConfidence)
	}
	if batch.Len() == 0 {
		return 0, nil
	}

	updated := 0
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return err
			}
			updated += int(tag.RowsAffected())
		}
		return br.Close()
	})
	if err != nil {
		return 0, fmt.Errorf("applying analysis for %s: %w", videoID, err)
	}
	return updated, nil
}

type PgRenderOutputStore struct {
	pool *pgxpool.Pool
}

func NewPgRenderOutputStore(pool *pgxpool.Pool) *PgRenderOutputStore {
	return &PgRenderOutputStore{pool: pool}
}

func scanRenderOutput(row scanner) (*model.RenderOutput, error) {
	o := &model.RenderOutput{}
	var renderStatus, uploadStatus string
	err := row.Scan(&o.ID, &o.VideoEditID, &o.PresenterNumber, &o.StorageLocation, &o.Title, &o.Description,
		&o.Tags, &o.PlaylistName, &renderStatus, &o.RenderError, &uploadStatus, &o.UploadError,
		&o.UploadStartedAt, &o.YouTubeVideoID, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	o.RenderStatus = model.RenderStatus(renderStatus)
	o.UploadStatus = model.UploadStatus(uploadStatus)
	return o, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func (s *PgRenderOutputStore) Upsert(ctx context.Context, out *model.RenderOutput) (*model.RenderOutput, error) {
	if !model.ValidPresenter(out.PresenterNumber) {
		return nil, model.ErrInvalidPresenter
	}
	id := out.ID
	if id == "" {
		id = uuid.NewString()
	}
	saved, err := scanRenderOutput(s.pool.QueryRow(ctx, QryUpsertRenderOutput,
		id, out.VideoEditID, out.PresenterNumber, out.StorageLocation, out.Title, out.Description,
		tagsOrEmpty(out.Tags), out.PlaylistName, string(out.RenderStatus), out.RenderError,
		string(out.UploadStatus), out.UploadError, out.UploadStartedAt, out.YouTubeVideoID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrUploadInProgress
	}
	if pgCode(err) == pgForeignKeyViolation {
		return nil, fmt.Errorf("%w: %s", model.ErrVideoEditNotFound, out.VideoEditID)
	}
	if err != nil {
		return nil, fmt.Errorf("upserting render output for %s presenter %d: %w", out.VideoEditID, out.PresenterNumber, err)
	}
	return saved, nil
}

func (s *PgRenderOutputStore) Get(ctx context.Context, id string) (*model.RenderOutput, error) {
	o, err := scanRenderOutput(s.pool.QueryRow(ctx, QryGetRenderOutput, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", model.ErrRenderOutputNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading render output %s: %w", id, err)
	}
	return o, nil
}

func (s *PgRenderOutputStore) GetByPresenter(ctx context.Context, videoID string, presenter int) (*model.RenderOutput, error) {
	o, err := scanRenderOutput(s.pool.QueryRow(ctx, QryGetRenderOutputByPresenter, videoID, presenter))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: video %s presenter %d", model.ErrRenderOutputNotFound, videoID, presenter)
	}
	if err != nil {
		return nil, fmt.Errorf("loading render output for %s presenter %d: %w", videoID, presenter, err)
	}
	return o, nil
}

func (s *PgRenderOutputStore) ListByVideo(ctx context.Context, videoID string) ([]*model.RenderOutput, error) {
	rows, err := s.pool.Query(ctx, QryListRenderOutputsByVideo, videoID)
	if err != nil {
		return nil, fmt.Errorf("listing render outputs for %s: %w", videoID, err)
	}
	defer rows.Close()
	out := make([]*model.RenderOutput, 0, 2)
	for rows.Next() {
		o, err := scanRenderOutput(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *PgRenderOutputStore) Update(ctx context.Context, id string, mutate func(*model.RenderOutput) error) (*model.RenderOutput, error) {
	var out *model.RenderOutput
	err := withRetries("render output", id, func() error {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := mutate(next); err != nil {
			return err
		}
		next.ID, next.VideoEditID, next.PresenterNumber, next.CreatedAt = cur.ID, cur.VideoEditID, cur.PresenterNumber, cur.CreatedAt
		err = s.pool.QueryRow(ctx, QryUpdateRenderOutput, id, cur.Version,
			next.StorageLocation, next.Title, next.Description, tagsOrEmpty(next.Tags), next.PlaylistName,
			string(next.RenderStatus), next.RenderError, string(next.UploadStatus), next.UploadError,
			next.UploadStartedAt, next.YouTubeVideoID,
		).Scan(&next.Version, &next.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return errLostRace
		}
		if err != nil {
			return fmt.Errorf("updating render output %s: %w", id, err)
		}
		out = next
		return nil
	})
	return out, err
}

// PgCredentialStore keeps the credential as a JSONB payload next to its
// version so that refreshes can be compare-and-swapped.
type PgCredentialStore struct {
	pool *pgxpool.Pool
}

func NewPgCredentialStore(pool *pgxpool.Pool) *PgCredentialStore {
	return &PgCredentialStore{pool: pool}
}

func (s *PgCredentialStore) Get(ctx context.Context) (*model.YouTubeCredential, error) {
	var payload []byte
	cred := &model.YouTubeCredential{}
	var version int64
	var updatedAt time.Time
	err := s.pool.QueryRow(ctx, QryGetCredential, YouTubeProvider).Scan(&payload, &version, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading credential: %w", err)
	}
	if err := json.Unmarshal(payload, cred); err != nil {
		return nil, fmt.Errorf("decoding credential: %w", err)
	}
	cred.Version, cred.UpdatedAt = version, updatedAt
	return cred, nil
}

func (s *PgCredentialStore) Put(ctx context.Context, cred *model.YouTubeCredential) (*model.YouTubeCredential, error) {
	payload, err := json.Marshal(cred)
	if err != nil {
		return nil, err
	}
	next := cred.Clone()
	if err := s.pool.QueryRow(ctx, QryPutCredential, YouTubeProvider, payload).Scan(&next.Version, &next.UpdatedAt); err != nil {
		return nil, fmt.Errorf("saving credential: %w", err)
	}
	return next, nil
}

func (s *PgCredentialStore) CompareAndSwap(ctx context.Context, expectedVersion int64, cred *model.YouTubeCredential) (*model.YouTubeCredential, error) {
	payload, err := json.Marshal(cred)
	if err != nil {
		return nil, err
	}
	next := cred.Clone()
	err = s.pool.QueryRow(ctx, QryCompareAndSwapCredential, YouTubeProvider, expectedVersion, payload).
		Scan(&next.Version, &next.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.Get(ctx); errors.Is(getErr, model.ErrCredentialNotFound) {
			return nil, model.ErrCredentialNotFound
		}
		return nil, model.ErrVersionConflict
	}
	if err != nil {
		return nil, fmt.Errorf("swapping credential: %w", err)
	}
	return next, nil
}

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

// This file centralizes the SQL used by the Postgres stores. Every update is
// conditional on the version the caller read, so a statement that affects
// zero rows means another writer got there first and the caller re-reads.
package services

const (
	videoEditColumns = `id, owner_id, video_name, model_id, presenter1_name, presenter2_name, stage,
raw_bucket, raw_key, transcription_job_id, poll_attempts, transcript_uri, failure_cause, last_error,
version, created_at, updated_at`

	QryInsertVideoEdit = `INSERT INTO video_edits (` + videoEditColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	QryGetVideoEdit = `SELECT ` + videoEditColumns + ` FROM video_edits WHERE id = $1`

	// QryUpdateVideoEdit writes every mutable column when the version still
	// matches ($2) and bumps it.
	QryUpdateVideoEdit = `UPDATE video_edits SET
owner_id = $3, video_name = $4, model_id = $5, presenter1_name = $6, presenter2_name = $7, stage = $8,
raw_bucket = $9, raw_key = $10, transcription_job_id = $11, poll_attempts = $12, transcript_uri = $13,
failure_cause = $14, last_error = $15, version = version + 1, updated_at = now()
WHERE id = $1 AND version = $2
RETURNING version, updated_at`

	// QryListStalledTranscriptions finds UPLOADED edits with a persisted
	// transcription job that nobody has touched since $1.
	QryListStalledTranscriptions = `SELECT ` + videoEditColumns + ` FROM video_edits
WHERE stage = 0 AND transcription_job_id <> '' AND updated_at < $1
ORDER BY updated_at`

	QryCountByStage = `SELECT stage, count(*) FROM video_edits GROUP BY stage`

	segmentColumns = `id, video_edit_id, start_time, end_time, speaker_label, segment_type,
include_in_output, ai_confidence, version, created_at, updated_at`

	QryDeleteSegmentsForVideo = `DELETE FROM segments WHERE video_edit_id = $1`

	QryInsertSegment = `INSERT INTO segments (` + segmentColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $9)`

	QryGetSegment = `SELECT ` + segmentColumns + ` FROM segments WHERE id = $1`

	QryListSegmentsByVideo = `SELECT ` + segmentColumns + ` FROM segments
WHERE video_edit_id = $1 ORDER BY start_time, id`

	QryListSegmentsForRender = `SELECT ` + segmentColumns + ` FROM segments
WHERE video_edit_id = $1 AND include_in_output AND speaker_label = $2
ORDER BY start_time, id`

	QryUpdateSegment = `UPDATE segments SET
start_time = $3, end_time = $4, speaker_label = $5, segment_type = $6, include_in_output = $7,
ai_confidence = $8, version = version + 1, updated_at = now()
WHERE id = $1 AND version = $2
RETURNING version, updated_at`

	// QryApplyAnalysis only touches rows that already belong to the video, so
	// analysis can never add or move records.
	QryApplyAnalysis = `UPDATE segments SET
start_time = $3, end_time = $4, speaker_label = $5, segment_type = $6, include_in_output = $7,
ai_confidence = $8, version = version + 1, updated_at = now()
WHERE id = $1 AND video_edit_id = $2`

	renderOutputColumns = `id, video_edit_id, presenter_number, storage_location, title, description, tags,
playlist_name, render_status, render_error, upload_status, upload_error, upload_started_at,
youtube_video_id, version, created_at, updated_at`

	// QryUpsertRenderOutput resets an existing output for the same presenter in
	// place. The WHERE clause on the conflict branch refuses the reset while an
	// upload is running; no row comes back in that case.
	QryUpsertRenderOutput = `INSERT INTO render_outputs (` + renderOutputColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1, now(), now())
ON CONFLICT (video_edit_id, presenter_number) DO UPDATE SET
storage_location = EXCLUDED.storage_location, title = EXCLUDED.title, description = EXCLUDED.description,
tags = EXCLUDED.tags, playlist_name = EXCLUDED.playlist_name, render_status = EXCLUDED.render_status,
render_error = EXCLUDED.render_error, upload_status = EXCLUDED.upload_status,
upload_error = EXCLUDED.upload_error, upload_started_at = EXCLUDED.upload_started_at,
youtube_video_id = EXCLUDED.youtube_video_id, version = render_outputs.version + 1, updated_at = now()
WHERE render_outputs.upload_status <> 'uploading'
RETURNING ` + renderOutputColumns

	QryGetRenderOutput = `SELECT ` + renderOutputColumns + ` FROM render_outputs WHERE id = $1`

	QryGetRenderOutputByPresenter = `SELECT ` + renderOutputColumns + ` FROM render_outputs
WHERE video_edit_id = $1 AND presenter_number = $2`

	QryListRenderOutputsByVideo = `SELECT ` + renderOutputColumns + ` FROM render_outputs
WHERE video_edit_id = $1 ORDER BY presenter_number`

	QryUpdateRenderOutput = `UPDATE render_outputs SET
storage_location = $3, title = $4, description = $5, tags = $6, playlist_name = $7, render_status = $8,
render_error = $9, upload_status = $10, upload_error = $11, upload_started_at = $12, youtube_video_id = $13,
version = version + 1, updated_at = now()
WHERE id = $1 AND version = $2
RETURNING version, updated_at`

	QryGetCredential = `SELECT payload, version, updated_at FROM oauth_credentials WHERE provider = $1`

	QryPutCredential = `INSERT INTO oauth_credentials (provider, payload, version, updated_at)
VALUES ($1, $2, 1, now())
ON CONFLICT (provider) DO UPDATE SET
payload = EXCLUDED.payload, version = oauth_credentials.version + 1, updated_at = now()
RETURNING version, updated_at`

	QryCompareAndSwapCredential = `UPDATE oauth_credentials SET
payload = $3, version = version + 1, updated_at = now()
WHERE provider = $1 AND version = $2
RETURNING version, updated_at`
)

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

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/pubsub"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
)

// PubSubSink republishes events on a topic so other services can react to
// stage changes. The payload is {"videoId": ..., "stage": ...}.
type PubSubSink struct {
	topic *pubsub.Topic
}

func NewPubSubSink(client *pubsub.Client, topicID string) *PubSubSink {
	return &PubSubSink{topic: client.Topic(topicID)}
}

func (s *PubSubSink) Name() string { return "pubsub" }

type stageMessage struct {
	VideoID      string             `json:"videoId"`
	Stage        int                `json:"stage"`
	Kind         model.EventKind    `json:"kind,omitempty"`
	Presenter    int                `json:"presenterNumber,omitempty"`
	UploadStatus model.UploadStatus `json:"uploadStatus,omitempty"`
}

func (s *PubSubSink) Deliver(ctx context.Context, evt model.StageChangeEvent) error {
	data, err := json.Marshal(stageMessage{
		VideoID:      evt.VideoID,
		Stage:        evt.Stage,
		Kind:         evt.Kind,
		Presenter:    evt.PresenterNumber,
		UploadStatus: evt.UploadStatus,
	})
	if err != nil {
		return err
	}
	res := s.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"videoId": evt.VideoID,
			"stage":   strconv.Itoa(evt.Stage),
		},
	})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("publishing stage event for %s: %w", evt.VideoID, err)
	}
	return nil
}

// Stop flushes pending messages.
func (s *PubSubSink) Stop() {
	s.topic.Stop()
}

// RowInserter is satisfied by *bigquery.Inserter.
type RowInserter interface {
	Put(ctx context.Context, src interface{}) error
}

// StageAuditRow is the BigQuery row written for every event.
type StageAuditRow struct {
	VideoID         string    `bigquery:"video_id"`
	Stage           int       `bigquery:"stage"`
	StageName       string    `bigquery:"stage_name"`
	Kind            string    `bigquery:"kind"`
	Seq             int64     `bigquery:"seq"`
	PresenterNumber int       `bigquery:"presenter_number"`
	UploadStatus    string    `bigquery:"upload_status"`
	Cause           string    `bigquery:"cause"`
	EventTime       time.Time `bigquery:"event_time"`
}

// BigQuerySink appends an audit row per event.
type BigQuerySink struct {
	inserter RowInserter
}

func NewBigQuerySink(client *bigquery.Client, dataset, table string) *BigQuerySink {
	return &BigQuerySink{inserter: client.Dataset(dataset).Table(table).Inserter()}
}

// NewBigQuerySinkWithInserter builds the sink on any RowInserter.
func NewBigQuerySinkWithInserter(inserter RowInserter) *BigQuerySink {
	return &BigQuerySink{inserter: inserter}
}

func (s *BigQuerySink) Name() string { return "bigquery" }

func (s *BigQuerySink) Deliver(ctx context.Context, evt model.StageChangeEvent) error {
	row := &StageAuditRow{
		VideoID:         evt.VideoID,
		Stage:           evt.Stage,
		StageName:       model.Stage(evt.Stage).String(),
		Kind:            string(evt.Kind),
		Seq:             int64(evt.Seq),
		PresenterNumber: evt.PresenterNumber,
		UploadStatus:    string(evt.UploadStatus),
		Cause:           evt.Cause,
		EventTime:       evt.Timestamp,
	}
	if err := s.inserter.Put(ctx, row); err != nil {
		return fmt.Errorf("bigquery insert failed for video '%s': %w", evt.VideoID, err)
	}
	return nil
}

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

package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
)

// ErrNotRawUpload marks a notification for an object that is not a raw upload,
// such as a transcript or a render. It is permanent, so the message is acked.
var ErrNotRawUpload = fmt.Errorf("%w: object is not a raw upload", model.ErrInvalidTrigger)

// ErrObjectNotFound is returned by ObjectStore reads of missing objects.
var ErrObjectNotFound = errors.New("object not found")

// GCSPubSubNotification is the JSON payload Cloud Storage publishes to Pub/Sub
// when an object is finalized.
type GCSPubSubNotification struct {
	Kind                    string                 `json:"kind"`                    // The kind of the object, typically "storage#object".
	ID                      string                 `json:"id"`                      // The full ID of the object, including bucket and generation.
	SelfLink                string                 `json:"selfLink"`                // The URI for this object.
	Name                    string                 `json:"name"`                    // The name of the object within the bucket.
	Bucket                  string                 `json:"bucket"`                  // The name of the bucket containing the object.
	Generation              string                 `json:"generation"`              // The generation number of the object's content.
	MetaGeneration          string                 `json:"metageneration"`          // The generation number of the object's metadata.
	ContentType             string                 `json:"contentType"`             // The MIME type of the object's content.
	TimeCreated             string                 `json:"timeCreated"`             // The creation time of the object.
	Updated                 string                 `json:"updated"`                 // The last modification time of the object.
	StorageClass            string                 `json:"storageClass"`            // The storage class of the object.
	TimeStorageClassUpdated string                 `json:"timeStorageClassUpdated"` // The time the storage class was last updated.
	Size                    string                 `json:"size"`                    // The size of the object in bytes.
	MD5Hash                 string                 `json:"md5Hash"`                 // The MD5 hash of the object's content.
	MediaLink               string                 `json:"mediaLink"`               // A link to download the object's content.
	MetaData                map[string]interface{} `json:"metadata"`                // User-provided metadata, if any.
	Crc32c                  string                 `json:"crc32c"`                  // The CRC32C checksum of the object's content.
	ETag                    string                 `json:"etag"`                    // The HTTP ETag of the object.
}

// ParseRawUpload decodes a GCS notification and accepts it only when the
// object key is <...>/<videoId>/<suffix>. The video id is the path segment
// right before the suffix, so "abc123/RAW.mp4" belongs to video "abc123".
func ParseRawUpload(data []byte, suffix string) (*model.RawUpload, error) {
	var n GCSPubSubNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("%w: malformed notification: %v", model.ErrInvalidTrigger, err)
	}
	if n.Bucket == "" || n.Name == "" {
		return nil, fmt.Errorf("%w: notification without bucket or name", model.ErrInvalidTrigger)
	}
	if suffix == "" {
		suffix = DefaultRawObjectSuffix
	}
	dir, file := path.Split(n.Name)
	if file != suffix {
		return nil, fmt.Errorf("%w: %s", ErrNotRawUpload, n.Name)
	}
	videoID := path.Base(strings.TrimSuffix(dir, "/"))
	if videoID == "" || videoID == "." || videoID == "/" {
		return nil, fmt.Errorf("%w: no video id in %s", model.ErrInvalidTrigger, n.Name)
	}
	return &model.RawUpload{
		VideoID:  videoID,
		Bucket:   n.Bucket,
		Key:      n.Name,
		MIMEType: n.ContentType,
	}, nil
}

// ObjectStore is the object storage the adapters read from and write to.
type ObjectStore interface {
	Read(ctx context.Context, bucket, key string) ([]byte, error)
	// ReadHeader returns at most n bytes from the start of the object.
	ReadHeader(ctx context.Context, bucket, key string, n int64) ([]byte, error)
	Write(ctx context.Context, bucket, key, contentType string, data []byte) error
	Exists(ctx context.Context, bucket, key string) (bool, error)
	// DownloadToTemp copies the object into a new temp file and returns its path.
	DownloadToTemp(ctx context.Context, bucket, key, pattern string) (string, error)
	UploadFile(ctx context.Context, bucket, key, contentType, localPath string) error
}

// GCSObjectStore implements ObjectStore on Cloud Storage.
type GCSObjectStore struct {
	client *storage.Client
}

func NewGCSObjectStore(client *storage.Client) *GCSObjectStore {
	return &GCSObjectStore{client: client}
}

func mapStorageErr(err error, bucket, key string) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: gs://%s/%s", ErrObjectNotFound, bucket, key)
	}
	return fmt.Errorf("gs://%s/%s: %w", bucket, key, err)
}

func (s *GCSObjectStore) Read(ctx context.Context, bucket, key string) ([]byte, error) {
	reader, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, mapStorageErr(err, bucket, key)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (s *GCSObjectStore) ReadHeader(ctx context.Context, bucket, key string, n int64) ([]byte, error) {
	reader, err := s.client.Bucket(bucket).Object(key).NewRangeReader(ctx, 0, n)
	if err != nil {
		return nil, mapStorageErr(err, bucket, key)
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func (s *GCSObjectStore) Write(ctx context.Context, bucket, key, contentType string, data []byte) error {
	writer := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentType
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return mapStorageErr(err, bucket, key)
	}
	if err := writer.Close(); err != nil {
		return mapStorageErr(err, bucket, key)
	}
	return nil
}

func (s *GCSObjectStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s.client.Bucket(bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, mapStorageErr(err, bucket, key)
	}
	return true, nil
}

func (s *GCSObjectStore) DownloadToTemp(ctx context.Context, bucket, key, pattern string) (string, error) {
	reader, err := s.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return "", mapStorageErr(err, bucket, key)
	}
	defer func(reader *storage.Reader) {
		if err := reader.Close(); err != nil {
			slog.Warn("failed to close GCS reader", "error", err)
		}
	}(reader)

	tempFile, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", fmt.Errorf("could not create temp file: %w", err)
	}
	written, err := io.Copy(tempFile, reader)
	if err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tempFile.Name())
		return "", fmt.Errorf("failed to copy gs://%s/%s to local file after %d bytes: %w", bucket, key, written, err)
	}
	if err := tempFile.Close(); err != nil {
		return "", err
	}
	slog.InfoContext(ctx, "downloaded object", "bucket", bucket, "key", key, "path", tempFile.Name(), "bytes", written)
	return tempFile.Name(), nil
}

func (s *GCSObjectStore) UploadFile(ctx context.Context, bucket, key, contentType, localPath string) error {
	dat, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", localPath, err)
	}
	defer dat.Close()

	writer := s.client.Bucket(bucket).Object(key).NewWriter(ctx)
	writer.ContentType = contentType
	if written, err := io.Copy(writer, dat); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to copy to GCS or partial write: %d total bytes: %w", written, err)
	}
	if err := writer.Close(); err != nil {
		return mapStorageErr(err, bucket, key)
	}
	slog.InfoContext(ctx, "uploaded object", "bucket", bucket, "key", key)
	return nil
}

// StorageLocation formats a gs:// URI.
func StorageLocation(bucket, key string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, key)
}

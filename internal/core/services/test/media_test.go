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

package services_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
	"github.com/jaycherian/gcp-go-long-video/internal/core/services"
	"github.com/zeebo/assert"
)

type fakeSigner struct {
	bucket, object string
	opts           *storage.SignedURLOptions
}

func (f *fakeSigner) SignedURL(bucket, object string, opts *storage.SignedURLOptions) (string, error) {
	f.bucket, f.object, f.opts = bucket, object, opts
	return "https://signed.example/" + bucket + "/" + object, nil
}

func TestParseStorageLocation(t *testing.T) {
	bucket, object, err := services.ParseStorageLocation("gs://media/videos/abc123/LongVideoOutput/presenter1.mp4")
	assert.NoError(t, err)
	assert.Equal(t, "media", bucket)
	assert.Equal(t, "videos/abc123/LongVideoOutput/presenter1.mp4", object)

	bucket, object, err = services.ParseStorageLocation("https://storage.mtls.cloud.google.com/media/a.mp4")
	assert.NoError(t, err)
	assert.Equal(t, "media", bucket)
	assert.Equal(t, "a.mp4", object)

	_, _, err = services.ParseStorageLocation("s3://media/a.mp4")
	assert.Error(t, err)
	_, _, err = services.ParseStorageLocation("gs://media")
	assert.Error(t, err)
}

func TestStreamURLRequiresRenderedOutput(t *testing.T) {
	ctx := context.Background()
	stores := services.NewMemoryStores()
	signer := &fakeSigner{}
	svc := &services.MediaService{Signer: signer, Outputs: stores.Outputs}

	out, err := stores.Outputs.Upsert(ctx, &model.RenderOutput{VideoEditID: "v1", PresenterNumber: 1, RenderStatus: model.RenderStatusRendering})
	assert.NoError(t, err)

	_, err = svc.StreamURL(ctx, out.ID, time.Minute)
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))

	_, err = stores.Outputs.Update(ctx, out.ID, func(o *model.RenderOutput) error {
		o.StorageLocation = "gs://media/videos/v1/LongVideoOutput/presenter1.mp4"
		return nil
	})
	assert.NoError(t, err)

	url, err := svc.StreamURL(ctx, out.ID, time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, "https://signed.example/media/videos/v1/LongVideoOutput/presenter1.mp4", url)
	assert.Equal(t, http.MethodGet, signer.opts.Method)
	assert.Equal(t, storage.SigningSchemeV4, signer.opts.Scheme)

	_, err = svc.StreamURL(ctx, "missing", time.Minute)
	assert.True(t, errors.Is(err, model.ErrRenderOutputNotFound))
}

func TestUploadURLSignsPut(t *testing.T) {
	signer := &fakeSigner{}
	svc := &services.MediaService{Signer: signer}

	_, err := svc.UploadURL(context.Background(), "media", "abc123/RAW.mp4", "video/mp4", time.Minute)
	assert.NoError(t, err)
	assert.Equal(t, "media", signer.bucket)
	assert.Equal(t, "abc123/RAW.mp4", signer.object)
	assert.Equal(t, http.MethodPut, signer.opts.Method)
	assert.Equal(t, "video/mp4", signer.opts.ContentType)
}

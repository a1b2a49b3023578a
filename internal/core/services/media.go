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

// This file defines the MediaService, which generates secure, time-limited
// URLs for the objects the pipeline keeps in Google Cloud Storage (GCS): the
// rendered presenter videos a client streams, and the raw upload a client
// PUTs before processing starts.
package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	credentials "cloud.google.com/go/iam/credentials/apiv1"
	"cloud.google.com/go/iam/credentials/apiv1/credentialspb"
	"cloud.google.com/go/storage"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
)

const (
	gsScheme          = "gs://"
	authenticatedHost = "https://storage.mtls.cloud.google.com/"
)

// URLSigner signs a V4 URL for one object. *storage.Client satisfies it
// through StorageURLSigner.
type URLSigner interface {
	SignedURL(bucket, object string, opts *storage.SignedURLOptions) (string, error)
}

// StorageURLSigner signs with a GCS client.
type StorageURLSigner struct {
	Client *storage.Client
}

func (s StorageURLSigner) SignedURL(bucket, object string, opts *storage.SignedURLOptions) (string, error) {
	return s.Client.Bucket(bucket).SignedURL(object, opts)
}

// MediaService encapsulates what is needed to hand out signed URLs.
type MediaService struct {
	Signer      URLSigner                         // Signs the URL; usually a StorageURLSigner.
	IAMClient   *credentials.IamCredentialsClient // Optional. Signs through the IAM Credentials API.
	SignerEmail string                            // The service account used with IAMClient.
	Outputs     RenderOutputStore                 // Resolves output ids to storage locations.
}

// ParseStorageLocation splits a gs:// or authenticated https URI into its
// bucket and object name.
func ParseStorageLocation(location string) (bucket, object string, err error) {
	var path string
	switch {
	case strings.HasPrefix(location, gsScheme):
		path = strings.TrimPrefix(location, gsScheme)
	case strings.HasPrefix(location, authenticatedHost):
		path = strings.TrimPrefix(location, authenticatedHost)
	default:
		return "", "", fmt.Errorf("invalid GCS URI format: %s", location)
	}
	parts := strings.SplitN(path, "/", 2)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI: unable to determine bucket and object from %s", location)
	}
	return parts[0], parts[1], nil
}

// GenerateSignedURL creates a time-limited URL for a private GCS object so a
// browser can reach it without credentials of its own.
//
// Inputs:
//   - ctx: The context for the IAM signing call.
//   - location: gs://bucket/object or the authenticated https form.
//   - method: GET for streaming, PUT for uploads.
//   - contentType: Required by PUT URLs; ignored otherwise.
//   - expires: How long the URL stays valid.
func (s *MediaService) GenerateSignedURL(ctx context.Context, location, method, contentType string, expires time.Duration) (string, error) {
	bucket, object, err := ParseStorageLocation(location)
	if err != nil {
		return "", err
	}
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  method,
		Expires: time.Now().Add(expires),
	}
	if method == http.MethodPut && contentType != "" {
		opts.ContentType = contentType
	}
	// On GCP the runtime has no private key, so signing goes through IAM.
	if s.IAMClient != nil && s.SignerEmail != "" {
		opts.GoogleAccessID = s.SignerEmail
		opts.SignBytes = func(b []byte) ([]byte, error) {
			resp, err := s.IAMClient.SignBlob(ctx, &credentialspb.SignBlobRequest{
				Name:    fmt.Sprintf("projects/-/serviceAccounts/%s", s.SignerEmail),
				Payload: b,
			})
			if err != nil {
				return nil, fmt.Errorf("IAMClient.SignBlob: %w", err)
			}
			return resp.SignedBlob, nil
		}
	}
	u, err := s.Signer.SignedURL(bucket, object, opts)
	if err != nil {
		return "", fmt.Errorf("Bucket(%q).Object(%q).SignedURL: %w", bucket, object, err)
	}
	return u, nil
}

// StreamURL returns a GET URL for a rendered output. Outputs that have not
// finished rendering have no location and report ErrInvalidTransition.
func (s *MediaService) StreamURL(ctx context.Context, outputID string, expires time.Duration) (string, error) {
	out, err := s.Outputs.Get(ctx, outputID)
	if err != nil {
		return "", err
	}
	if out.StorageLocation == "" {
		return "", fmt.Errorf("%w: output %s has not been rendered", model.ErrInvalidTransition, outputID)
	}
	return s.GenerateSignedURL(ctx, out.StorageLocation, http.MethodGet, "", expires)
}

// UploadURL returns a PUT URL the client uses to upload the raw video.
func (s *MediaService) UploadURL(ctx context.Context, bucket, key, contentType string, expires time.Duration) (string, error) {
	return s.GenerateSignedURL(ctx, gsScheme+bucket+"/"+key, http.MethodPut, contentType, expires)
}

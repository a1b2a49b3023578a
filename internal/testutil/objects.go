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

package test

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/jaycherian/gcp-go-long-video/internal/cloud"
)

// MemoryObjectStore is an in-memory cloud.ObjectStore.
type MemoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func NewMemoryObjectStore() *MemoryObjectStore {
	return &MemoryObjectStore{objects: make(map[string][]byte), types: make(map[string]string)}
}

func objectKey(bucket, key string) string {
	return bucket + "/" + key
}

// Put seeds an object.
func (m *MemoryObjectStore) Put(bucket, key, contentType string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey(bucket, key)] = append([]byte(nil), data...)
	m.types[objectKey(bucket, key)] = contentType
}

// ContentType returns the type an object was written with.
func (m *MemoryObjectStore) ContentType(bucket, key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.types[objectKey(bucket, key)]
}

func (m *MemoryObjectStore) Read(ctx context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[objectKey(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("%w: gs://%s/%s", cloud.ErrObjectNotFound, bucket, key)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryObjectStore) ReadHeader(ctx context.Context, bucket, key string, n int64) ([]byte, error) {
	data, err := m.Read(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > n {
		data = data[:n]
	}
	return data, nil
}

func (m *MemoryObjectStore) Write(ctx context.Context, bucket, key, contentType string, data []byte) error {
	m.Put(bucket, key, contentType, data)
	return nil
}

func (m *MemoryObjectStore) Exists(ctx context.Context, bucket, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[objectKey(bucket, key)]
	return ok, nil
}

func (m *MemoryObjectStore) DownloadToTemp(ctx context.Context, bucket, key, pattern string) (string, error) {
	data, err := m.Read(ctx, bucket, key)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return "", err
	}
	return f.Name(), nil
}

func (m *MemoryObjectStore) UploadFile(ctx context.Context, bucket, key, contentType, localPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	m.Put(bucket, key, contentType, data)
	return nil
}

// MP4Header is the start of an ISO base media file, enough for type sniffing.
var MP4Header = []byte{
	0x00, 0x00, 0x00, 0x18, 0x66, 0x74, 0x79, 0x70,
	0x6d, 0x70, 0x34, 0x32, 0x00, 0x00, 0x00, 0x00,
	0x6d, 0x70, 0x34, 0x32, 0x69, 0x73, 0x6f, 0x6d,
}

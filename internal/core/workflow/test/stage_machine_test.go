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

package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
	"github.com/jaycherian/gcp-go-long-video/internal/core/services"
	"github.com/jaycherian/gcp-go-long-video/internal/core/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// slowPublisher records stages and holds the first RENDERING event until
// release is closed.
type slowPublisher struct {
	mu       sync.Mutex
	stages   []int
	entered  chan struct{}
	release  chan struct{}
	holdOnce sync.Once
}

func (p *slowPublisher) Publish(ctx context.Context, evt model.StageChangeEvent) model.StageChangeEvent {
	if evt.Stage == int(model.StageRendering) {
		p.holdOnce.Do(func() {
			close(p.entered)
			<-p.release
		})
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages = append(p.stages, evt.Stage)
	return evt
}

func (p *slowPublisher) published() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.stages...)
}

func TestStageMachinePublishesInWriteOrder(t *testing.T) {
	ctx := context.Background()
	stages := services.NewMemoryStageStore()
	require.NoError(t, stages.Create(ctx, &model.VideoEdit{ID: "v1", Stage: model.StageUserConfirmed}))
	pub := &slowPublisher{entered: make(chan struct{}), release: make(chan struct{})}
	machine := workflow.NewStageMachine(stages, pub)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, changed, err := machine.Advance(ctx, "v1", model.StageRendering)
		assert.NoError(t, err)
		assert.True(t, changed)
	}()
	<-pub.entered

	completed := make(chan struct{})
	go func() {
		defer wg.Done()
		defer close(completed)
		_, changed, err := machine.Advance(ctx, "v1", model.StageComplete)
		assert.NoError(t, err)
		assert.True(t, changed)
	}()

	select {
	case <-completed:
		t.Fatal("COMPLETE was written while the RENDERING event was still unpublished")
	case <-time.After(50 * time.Millisecond):
	}
	close(pub.release)
	wg.Wait()

	assert.Equal(t, []int{4, 5}, pub.published())
}

func TestStageMachineIgnoresRepeatedAdvance(t *testing.T) {
	ctx := context.Background()
	stages := services.NewMemoryStageStore()
	require.NoError(t, stages.Create(ctx, &model.VideoEdit{ID: "v1", Stage: model.StageUserConfirmed}))
	pub := &slowPublisher{entered: make(chan struct{}), release: make(chan struct{})}
	close(pub.release)
	machine := workflow.NewStageMachine(stages, pub)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := machine.Advance(ctx, "v1", model.StageRendering)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, []int{4}, pub.published())
}

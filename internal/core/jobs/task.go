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

package jobs

import (
	"context"
	"sync"
)

// Task is the handle returned by fire-and-forget operations. Callers that do
// not care about the outcome can drop it; tests and shutdown code Wait on it.
type Task struct {
	ID string

	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	err    error
}

// Go runs fn on a new goroutine bound to a context derived from ctx with its
// cancellation detached, so the work outlives the request that started it.
func Go(ctx context.Context, id string, fn func(ctx context.Context) error) *Task {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := &Task{ID: id, done: make(chan struct{}), cancel: cancel}
	go func() {
		defer t.finish()
		t.err = fn(runCtx)
	}()
	return t
}

func (t *Task) finish() {
	t.once.Do(func() {
		t.cancel()
		close(t.done)
	})
}

// Done is closed when the task finishes.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task's error once it is done, nil before.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Wait blocks until the task finishes or ctx ends.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel asks the task to stop. It does not wait.
func (t *Task) Cancel() {
	t.cancel()
}

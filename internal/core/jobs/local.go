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
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

type localJob[T any] struct {
	done   chan struct{}
	cancel context.CancelFunc
	result T
	err    error
}

// LocalJobs is an in-process job table. It lets adapters whose work runs in
// this process, synchronously or on a goroutine, satisfy the Adapter contract.
type LocalJobs[T any] struct {
	mu   sync.Mutex
	jobs map[string]*localJob[T]
}

func NewLocalJobs[T any]() *LocalJobs[T] {
	return &LocalJobs[T]{jobs: make(map[string]*localJob[T])}
}

// Run executes fn before returning its job id.
func (l *LocalJobs[T]) Run(ctx context.Context, fn func(ctx context.Context) (T, error)) string {
	id := uuid.NewString()
	j := &localJob[T]{done: make(chan struct{}), cancel: func() {}}
	j.result, j.err = fn(ctx)
	close(j.done)
	l.put(id, j)
	return id
}

// Start executes fn on a new goroutine and returns immediately. Starting an id
// that is already tracked is a no-op. The job stops on Cancel or when ctx ends.
func (l *LocalJobs[T]) Start(ctx context.Context, id string, fn func(ctx context.Context) (T, error)) string {
	if id == "" {
		id = uuid.NewString()
	}
	l.mu.Lock()
	if _, ok := l.jobs[id]; ok {
		l.mu.Unlock()
		return id
	}
	jobCtx, cancel := context.WithCancel(ctx)
	j := &localJob[T]{done: make(chan struct{}), cancel: cancel}
	l.jobs[id] = j
	l.mu.Unlock()

	go func() {
		defer close(j.done)
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				j.err = fmt.Errorf("job %s panicked: %v", id, r)
			}
		}()
		j.result, j.err = fn(jobCtx)
	}()
	return id
}

func (l *LocalJobs[T]) put(id string, j *localJob[T]) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.jobs[id] = j
}

func (l *LocalJobs[T]) get(id string) (*localJob[T], bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	j, ok := l.jobs[id]
	return j, ok
}

// Status reports the normalized status of a job, or ErrJobNotFound.
func (l *LocalJobs[T]) Status(id string) (JobStatus, error) {
	j, ok := l.get(id)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	select {
	case <-j.done:
		if j.err != nil {
			return StatusFailed, nil
		}
		return StatusCompleted, nil
	default:
		return StatusInProgress, nil
	}
}

// Err returns the error of a finished job.
func (l *LocalJobs[T]) Err(id string) error {
	j, ok := l.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	select {
	case <-j.done:
		return j.err
	default:
		return nil
	}
}

// Take returns the result of a finished job and forgets it.
func (l *LocalJobs[T]) Take(id string) (T, error) {
	var zero T
	j, ok := l.get(id)
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	select {
	case <-j.done:
	default:
		return zero, errors.New("job still running")
	}
	l.mu.Lock()
	delete(l.jobs, id)
	l.mu.Unlock()
	return j.result, j.err
}

// Cancel stops a running job.
func (l *LocalJobs[T]) Cancel(id string) {
	if j, ok := l.get(id); ok {
		j.cancel()
	}
}

// Forget stops a job and drops it from the table, for callers that gave up
// on its result.
func (l *LocalJobs[T]) Forget(id string) {
	l.mu.Lock()
	j, ok := l.jobs[id]
	delete(l.jobs, id)
	l.mu.Unlock()
	if ok {
		j.cancel()
	}
}

// Len is the number of jobs still tracked.
func (l *LocalJobs[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.jobs)
}

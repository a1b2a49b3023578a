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
	"time"
)

// JobStatus is the normalized status every adapter reports.
type JobStatus string

const (
	StatusInProgress JobStatus = "IN_PROGRESS"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
)

// ErrAdapterTimeout is returned by Invoke when the per-call timeout elapses.
var ErrAdapterTimeout = errors.New("adapter call timed out")

// Adapter is the single capability every external integration implements.
// Synchronous services complete inside Submit and report COMPLETED on the
// first poll; asynchronous ones return a job id and report progress.
type Adapter[Req, Res any] interface {
	Name() string
	Submit(ctx context.Context, req Req) (jobID string, err error)
	PollOrAwait(ctx context.Context, jobID string) (JobStatus, error)
	MapResult(ctx context.Context, jobID string) (Res, error)
}

// FailureReasoner is optionally implemented by adapters that can explain a
// FAILED status.
type FailureReasoner interface {
	FailureReason(ctx context.Context, jobID string) string
}

// Forgetter is optionally implemented by adapters that keep jobs in memory.
// Invoke calls Forget when it stops waiting on a job whose result will never
// be mapped.
type Forgetter interface {
	Forget(jobID string)
}

// InvokeOptions tunes a single Invoke call.
type InvokeOptions struct {
	Timeout      time.Duration
	Resume       *Checkpoint
	OnCheckpoint func(ctx context.Context, cp Checkpoint) error
}

// Invoke runs req through the adapter with a bounded timeout: submit, poll to a
// terminal status, and map the result.
func Invoke[Req, Res any](ctx context.Context, poller *Poller, adapter Adapter[Req, Res], req Req, opts InvokeOptions) (Res, error) {
	var zero Res
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	spec := PollSpec{
		Name:   adapter.Name(),
		Submit: func(ctx context.Context) (string, error) { return adapter.Submit(ctx, req) },
		Poll: func(ctx context.Context, jobID string) (string, error) {
			s, err := adapter.PollOrAwait(ctx, jobID)
			return string(s), err
		},
		IsSuccess:    func(s string) bool { return s == string(StatusCompleted) },
		IsFailure:    func(s string) bool { return s == string(StatusFailed) },
		Resume:       opts.Resume,
		OnCheckpoint: opts.OnCheckpoint,
	}
	if r, ok := adapter.(FailureReasoner); ok {
		spec.Reason = r.FailureReason
	}

	result, err := poller.Run(ctx, spec)
	if err != nil {
		if f, ok := adapter.(Forgetter); ok && result.JobID != "" {
			f.Forget(result.JobID)
		}
		if errors.Is(err, context.DeadlineExceeded) && opts.Timeout > 0 {
			return zero, fmt.Errorf("%s: %w after %s", adapter.Name(), ErrAdapterTimeout, opts.Timeout)
		}
		return zero, err
	}
	return adapter.MapResult(ctx, result.JobID)
}

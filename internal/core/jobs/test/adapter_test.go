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

package jobs_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jaycherian/gcp-go-long-video/internal/core/jobs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// upperAdapter upper-cases its input on a goroutine.
type upperAdapter struct {
	jobs  *jobs.LocalJobs[string]
	delay time.Duration
	fail  bool
}

func (u *upperAdapter) Name() string { return "upper" }

func (u *upperAdapter) Submit(ctx context.Context, req string) (string, error) {
	return u.jobs.Start(ctx, "", func(ctx context.Context) (string, error) {
		select {
		case <-time.After(u.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
		if u.fail {
			return "", errors.New("cannot shout")
		}
		return strings.ToUpper(req), nil
	}), nil
}

func (u *upperAdapter) PollOrAwait(ctx context.Context, jobID string) (jobs.JobStatus, error) {
	return u.jobs.Status(jobID)
}

func (u *upperAdapter) MapResult(ctx context.Context, jobID string) (string, error) {
	return u.jobs.Take(jobID)
}

func (u *upperAdapter) Forget(jobID string) {
	u.jobs.Forget(jobID)
}

func (u *upperAdapter) FailureReason(ctx context.Context, jobID string) string {
	if err := u.jobs.Err(jobID); err != nil {
		return err.Error()
	}
	return ""
}

func TestInvokeAsyncAdapter(t *testing.T) {
	a := &upperAdapter{jobs: jobs.NewLocalJobs[string](), delay: 5 * time.Millisecond}
	out, err := jobs.Invoke[string, string](context.Background(), jobs.NewPoller(time.Millisecond), a, "hello", jobs.InvokeOptions{Timeout: time.Second})

	require.NoError(t, err)
	assert.Equal(t, "HELLO", out)
	assert.Equal(t, 0, a.jobs.Len())
}

func TestInvokeFailureCarriesReason(t *testing.T) {
	a := &upperAdapter{jobs: jobs.NewLocalJobs[string](), fail: true}
	_, err := jobs.Invoke[string, string](context.Background(), jobs.NewPoller(time.Millisecond), a, "hello", jobs.InvokeOptions{Timeout: time.Second})

	var failed *jobs.JobFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "cannot shout", failed.Reason)
}

func TestInvokeTimeout(t *testing.T) {
	a := &upperAdapter{jobs: jobs.NewLocalJobs[string](), delay: time.Second}
	_, err := jobs.Invoke[string, string](context.Background(), jobs.NewPoller(time.Millisecond), a, "hello", jobs.InvokeOptions{Timeout: 10 * time.Millisecond})

	assert.ErrorIs(t, err, jobs.ErrAdapterTimeout)
	assert.Equal(t, 0, a.jobs.Len(), "a timed out job must not stay in the table")
}

func TestInvokeCancelledForgetsJob(t *testing.T) {
	a := &upperAdapter{jobs: jobs.NewLocalJobs[string](), delay: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := jobs.Invoke[string, string](ctx, jobs.NewPoller(time.Millisecond), a, "hello", jobs.InvokeOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, a.jobs.Len())
}

func TestLocalJobsForgetStopsJob(t *testing.T) {
	l := jobs.NewLocalJobs[string]()
	stopped := make(chan struct{})
	id := l.Start(context.Background(), "", func(ctx context.Context) (string, error) {
		<-ctx.Done()
		close(stopped)
		return "", ctx.Err()
	})

	l.Forget(id)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("forgotten job kept running")
	}
	assert.Equal(t, 0, l.Len())
	_, err := l.Status(id)
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestLocalJobsRunIsSynchronous(t *testing.T) {
	l := jobs.NewLocalJobs[int]()
	id := l.Run(context.Background(), func(ctx context.Context) (int, error) { return 42, nil })

	status, err := l.Status(id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, status)
	v, err := l.Take(id)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = l.Status(id)
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestTaskWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	task := jobs.Go(ctx, "t1", func(ctx context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return ctx.Err()
	})
	// Cancelling the caller does not cancel the task.
	cancel()

	require.NoError(t, task.Wait(context.Background()))
	<-task.Done()
	assert.NoError(t, task.Err())
}

func TestEnvelopeOf(t *testing.T) {
	assert.Equal(t, jobs.Envelope{Success: true, Data: 1}, jobs.EnvelopeOf(1, nil))
	assert.Equal(t, jobs.Envelope{Success: false, Error: "nope"}, jobs.EnvelopeOf(1, errors.New("nope")))
}

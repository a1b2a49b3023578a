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

// Package jobs drives long-running external work: submitting a job, polling it
// at a fixed interval until it reaches a terminal status, and checkpointing
// the poll state so that a restarted process can continue where it left off.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jaycherian/gcp-go-long-video/internal/core/cor"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultPollInterval  = 10 * time.Second
	DefaultMaxPollErrors = 3
)

// ErrJobNotFound is returned by a poll function when the external service no
// longer knows the job, for example after the process that started it exited.
// The poller resubmits once when it sees it.
var ErrJobNotFound = errors.New("job not found")

// JobFailedError reports that the external job reached a failure status.
type JobFailedError struct {
	Name   string
	JobID  string
	Status string
	Reason string
}

func (e *JobFailedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s job %s finished with status %s: %s", e.Name, e.JobID, e.Status, e.Reason)
	}
	return fmt.Sprintf("%s job %s finished with status %s", e.Name, e.JobID, e.Status)
}

// Checkpoint is the resumable state of a poll loop.
type Checkpoint struct {
	JobID    string
	Attempts int
}

// PollSpec describes one job to drive to completion.
type PollSpec struct {
	Name      string
	Submit    func(ctx context.Context) (jobID string, err error)
	Poll      func(ctx context.Context, jobID string) (status string, err error)
	IsSuccess func(status string) bool
	IsFailure func(status string) bool
	// Reason optionally explains a failure status, for the error message.
	Reason func(ctx context.Context, jobID string) string

	// Resume skips Submit and continues polling an existing job.
	Resume *Checkpoint
	// OnCheckpoint persists progress after the submit and after every attempt.
	// An error aborts the run.
	OnCheckpoint func(ctx context.Context, cp Checkpoint) error
}

// PollResult is returned when the job reaches a success status. On error it
// still carries the job id once one was submitted.
type PollResult struct {
	JobID    string
	Status   string
	Attempts int
}

// Poller runs PollSpecs. It has no overall deadline of its own; the caller's
// context bounds how long a job may run.
type Poller struct {
	Interval      time.Duration
	MaxPollErrors int

	tracer   trace.Tracer
	attempts metric.Int64Counter
	errors   metric.Int64Counter
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller. A non-positive interval uses DefaultPollInterval.
func NewPoller(interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	meter := otel.Meter(cor.MeterName)
	attempts, err := meter.Int64Counter("jobs.poll.attempts")
	if err != nil {
		slog.Warn("error creating poll attempt counter", "error", err)
	}
	errs, err := meter.Int64Counter("jobs.poll.errors")
	if err != nil {
		slog.Warn("error creating poll error counter", "error", err)
	}
	return &Poller{
		Interval:      interval,
		MaxPollErrors: DefaultMaxPollErrors,
		tracer:        otel.Tracer("job-poller"),
		attempts:      attempts,
		errors:        errs,
		sleep:         sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run submits (or resumes) the job and polls until a success or failure status.
// Any other status is treated as still running.
func (p *Poller) Run(ctx context.Context, spec PollSpec) (PollResult, error) {
	ctx, span := p.tracer.Start(ctx, fmt.Sprintf("%s_poll", spec.Name))
	defer span.End()

	var cp Checkpoint
	resubmitted := false
	if spec.Resume != nil && spec.Resume.JobID != "" {
		cp = *spec.Resume
		span.SetAttributes(attribute.Bool("resumed", true))
	} else {
		if err := p.submit(ctx, spec, &cp); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return PollResult{JobID: cp.JobID}, err
		}
	}
	span.SetAttributes(attribute.String("job.id", cp.JobID))

	consecutiveErrors := 0
	for {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "cancelled")
			return PollResult{JobID: cp.JobID, Attempts: cp.Attempts}, err
		}

		cp.Attempts++
		p.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("job", spec.Name)))
		status, err := spec.Poll(ctx, cp.JobID)
		if err != nil {
			switch {
			case errors.Is(err, ErrJobNotFound) && !resubmitted:
				slog.WarnContext(ctx, "job unknown to the service; resubmitting", "job", spec.Name, "jobId", cp.JobID)
				resubmitted = true
				if err := p.submit(ctx, spec, &cp); err != nil {
					span.SetStatus(codes.Error, err.Error())
					return PollResult{JobID: cp.JobID, Attempts: cp.Attempts}, err
				}
				continue
			case ctx.Err() != nil:
				return PollResult{JobID: cp.JobID, Attempts: cp.Attempts}, ctx.Err()
			}
			consecutiveErrors++
			p.errors.Add(ctx, 1, metric.WithAttributes(attribute.String("job", spec.Name)))
			slog.WarnContext(ctx, "poll attempt failed", "job", spec.Name, "jobId", cp.JobID, "attempt", cp.Attempts, "error", err)
			if consecutiveErrors >= p.maxErrors() {
				span.SetStatus(codes.Error, err.Error())
				return PollResult{JobID: cp.JobID, Attempts: cp.Attempts}, fmt.Errorf("polling %s job %s: %w", spec.Name, cp.JobID, err)
			}
		} else {
			consecutiveErrors = 0
			switch {
			case spec.IsSuccess(status):
				if err := p.checkpoint(ctx, spec, cp); err != nil {
					return PollResult{JobID: cp.JobID, Attempts: cp.Attempts}, err
				}
				span.SetStatus(codes.Ok, status)
				return PollResult{JobID: cp.JobID, Status: status, Attempts: cp.Attempts}, nil
			case spec.IsFailure(status):
				if err := p.checkpoint(ctx, spec, cp); err != nil {
					return PollResult{JobID: cp.JobID, Attempts: cp.Attempts}, err
				}
				jobErr := &JobFailedError{Name: spec.Name, JobID: cp.JobID, Status: status}
				if spec.Reason != nil {
					jobErr.Reason = spec.Reason(ctx, cp.JobID)
				}
				span.SetStatus(codes.Error, jobErr.Error())
				return PollResult{JobID: cp.JobID, Status: status, Attempts: cp.Attempts}, jobErr
			}
		}

		if err := p.checkpoint(ctx, spec, cp); err != nil {
			return PollResult{JobID: cp.JobID, Attempts: cp.Attempts}, err
		}
		if err := p.sleep(ctx, p.Interval); err != nil {
			return PollResult{JobID: cp.JobID, Attempts: cp.Attempts}, err
		}
	}
}

func (p *Poller) submit(ctx context.Context, spec PollSpec, cp *Checkpoint) error {
	jobID, err := spec.Submit(ctx)
	if err != nil {
		return fmt.Errorf("submitting %s job: %w", spec.Name, err)
	}
	cp.JobID = jobID
	cp.Attempts = 0
	return p.checkpoint(ctx, spec, *cp)
}

func (p *Poller) checkpoint(ctx context.Context, spec PollSpec, cp Checkpoint) error {
	if spec.OnCheckpoint == nil {
		return nil
	}
	if err := spec.OnCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("checkpointing %s job %s: %w", spec.Name, cp.JobID, err)
	}
	return nil
}

func (p *Poller) maxErrors() int {
	if p.MaxPollErrors <= 0 {
		return DefaultMaxPollErrors
	}
	return p.MaxPollErrors
}

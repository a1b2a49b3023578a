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

package adapters

import (
	"context"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/jaycherian/gcp-go-long-video/internal/cloud"
	"github.com/jaycherian/gcp-go-long-video/internal/core/jobs"
	"github.com/jaycherian/gcp-go-long-video/internal/core/model"
)

const (
	OutputDirName    = "LongVideoOutput"
	OutputWidth      = 1920
	OutputHeight     = 1080
	OutputMaxBitrate = "5M"
	OutputBufSize    = "10M"
	AudioBitrate     = "96k"
	AudioSampleRate  = 48000
	AudioChannels    = 2
	videoContentType = "video/mp4"
)

// OutputKey is the object key of a presenter's rendered video.
func OutputKey(prefix, videoID string, presenter int) string {
	return path.Join(prefix, videoID, OutputDirName, fmt.Sprintf("presenter%d.mp4", presenter))
}

type RenderRequest struct {
	VideoID         string
	PresenterNumber int
	Title           string
	Description     string
	Bucket          string
	SourceKey       string
	Segments        []model.TimeRange
	// OutputKey defaults to OutputKey(prefix, VideoID, PresenterNumber).
	OutputKey string
}

type RenderResult struct {
	StorageLocation string
	OutputKey       string
	Clips           []model.Clip
	Duration        float64
}

// Renderer cuts the selected ranges out of the raw upload and concatenates
// them into one 1080p H.264/AAC file with ffmpeg.
type Renderer struct {
	runner     CommandRunner
	ffmpegPath string
	store      cloud.ObjectStore
	prefix     string
	jobs       *jobs.LocalJobs[*RenderResult]
}

func NewRenderer(runner CommandRunner, ffmpegPath string, store cloud.ObjectStore, storage cloud.Storage) *Renderer {
	if runner == nil {
		runner = ExecRunner{}
	}
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Renderer{
		runner:     runner,
		ffmpegPath: ffmpegPath,
		store:      store,
		prefix:     storage.Prefix(),
		jobs:       jobs.NewLocalJobs[*RenderResult](),
	}
}

func (r *Renderer) Name() string { return "renderer" }

func (r *Renderer) Submit(ctx context.Context, req RenderRequest) (string, error) {
	ranges := NormalizeRanges(req.Segments)
	if len(ranges) == 0 {
		return "", fmt.Errorf("%w: video %s presenter %d", model.ErrNoSegments, req.VideoID, req.PresenterNumber)
	}
	if !model.ValidPresenter(req.PresenterNumber) {
		return "", model.ErrInvalidPresenter
	}
	req.Segments = ranges
	if req.OutputKey == "" {
		req.OutputKey = OutputKey(r.prefix, req.VideoID, req.PresenterNumber)
	}
	return r.jobs.Start(ctx, "", func(ctx context.Context) (*RenderResult, error) {
		return r.render(ctx, req)
	}), nil
}

func (r *Renderer) render(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	source, err := r.store.DownloadToTemp(ctx, req.Bucket, req.SourceKey, "render-source-*.mp4")
	if err != nil {
		return nil, fmt.Errorf("downloading source: %w", err)
	}
	defer os.Remove(source)

	output, err := os.CreateTemp("", fmt.Sprintf("render-%s-*.mp4", model.PresenterLabel(req.PresenterNumber)))
	if err != nil {
		return nil, fmt.Errorf("could not create temp file: %w", err)
	}
	_ = output.Close()
	defer os.Remove(output.Name())

	args := FFmpegArgs(source, output.Name(), req.Segments, req.Title, req.Description)
	if err := r.runner.Run(ctx, r.ffmpegPath, args...); err != nil {
		return nil, err
	}
	if err := r.store.UploadFile(ctx, req.Bucket, req.OutputKey, videoContentType, output.Name()); err != nil {
		return nil, fmt.Errorf("uploading render: %w", err)
	}

	res := &RenderResult{
		StorageLocation: cloud.StorageLocation(req.Bucket, req.OutputKey),
		OutputKey:       req.OutputKey,
		Clips:           make([]model.Clip, 0, len(req.Segments)),
	}
	for _, tr := range req.Segments {
		res.Clips = append(res.Clips, model.Clip{
			StartTimecode: model.Timecode(tr.Start, model.DefaultFrameRate),
			EndTimecode:   model.Timecode(tr.End, model.DefaultFrameRate),
		})
		res.Duration += tr.End - tr.Start
	}
	return res, nil
}

func (r *Renderer) PollOrAwait(_ context.Context, jobID string) (jobs.JobStatus, error) {
	return r.jobs.Status(jobID)
}

// FailureReason consumes the finished job and returns its error text.
func (r *Renderer) FailureReason(_ context.Context, jobID string) string {
	if _, err := r.jobs.Take(jobID); err != nil {
		return err.Error()
	}
	return ""
}

func (r *Renderer) MapResult(_ context.Context, jobID string) (*RenderResult, error) {
	return r.jobs.Take(jobID)
}

func (r *Renderer) Forget(jobID string) {
	r.jobs.Forget(jobID)
}

// NormalizeRanges drops empty ranges and sorts the rest by start time.
func NormalizeRanges(in []model.TimeRange) []model.TimeRange {
	out := make([]model.TimeRange, 0, len(in))
	for _, tr := range in {
		if tr.Start < 0 || tr.Start >= tr.End {
			continue
		}
		out = append(out, tr)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func seconds3(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// FFmpegArgs builds the ffmpeg command line: every range is trimmed from the
// source, scaled and padded to 1920x1080 at 25 fps, and the pieces are
// concatenated.
func FFmpegArgs(input, output string, ranges []model.TimeRange, title, description string) []string {
	var filter strings.Builder
	var inputs strings.Builder
	for i, tr := range ranges {
		fmt.Fprintf(&filter,
			"[0:v]trim=start=%s:end=%s,setpts=PTS-STARTPTS,scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1,fps=%d[v%d];",
			seconds3(tr.Start), seconds3(tr.End), OutputWidth, OutputHeight, OutputWidth, OutputHeight, model.DefaultFrameRate, i)
		fmt.Fprintf(&filter,
			"[0:a]atrim=start=%s:end=%s,asetpts=PTS-STARTPTS[a%d];",
			seconds3(tr.Start), seconds3(tr.End), i)
		fmt.Fprintf(&inputs, "[v%d][a%d]", i, i)
	}
	fmt.Fprintf(&filter, "%sconcat=n=%d:v=1:a=1[outv][outa]", inputs.String(), len(ranges))

	args := []string{
		"-y", "-hide_banner",
		"-i", input,
		"-filter_complex", filter.String(),
		"-map", "[outv]", "-map", "[outa]",
		"-c:v", "libx264", "-preset", "veryfast", "-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(model.DefaultFrameRate),
		"-maxrate", OutputMaxBitrate, "-bufsize", OutputBufSize,
		"-c:a", "aac", "-b:a", AudioBitrate,
		"-ar", strconv.Itoa(AudioSampleRate), "-ac", strconv.Itoa(AudioChannels),
		"-movflags", "+faststart",
	}
	if title != "" {
		args = append(args, "-metadata", "title="+title)
	}
	if description != "" {
		args = append(args, "-metadata", "comment="+description)
	}
	return append(args, "-f", "mp4", output)
}

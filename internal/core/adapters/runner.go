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
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
)

// CommandRunner runs an external program. Tests replace it so no ffmpeg
// binary is needed.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) error
}

// maxStderr bounds how much of a failed command's stderr ends up in the error.
const maxStderr = 2048

// ExecRunner runs commands with os/exec and reports the tail of stderr when
// they fail.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	slog.DebugContext(ctx, "running command", "command", name, "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		out := stderr.String()
		if len(out) > maxStderr {
			out = out[len(out)-maxStderr:]
		}
		return fmt.Errorf("error running %s: %w: %s", name, err, strings.TrimSpace(out))
	}
	return nil
}

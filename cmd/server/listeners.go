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

package main

import (
	"context"
	"log/slog"

	"github.com/jaycherian/gcp-go-long-video/internal/cloud"
	"github.com/jaycherian/gcp-go-long-video/internal/core/workflow"
)

// rawUploadTopic is the subscription key of the raw upload notifications.
const rawUploadTopic = "RawUploadTopic"

// SetupListeners attaches the process workflow to the raw upload
// subscription and starts receiving.
func SetupListeners(ctx context.Context, cloudClients *cloud.ServiceClients, orchestrator *workflow.Orchestrator) {
	listener, ok := cloudClients.PubSubListeners[rawUploadTopic]
	if !ok {
		slog.Warn("no raw upload subscription configured, uploads will not be processed", "key", rawUploadTopic)
		return
	}
	listener.SetCommand(orchestrator.ProcessWorkflow())
	listener.Listen(ctx)
}

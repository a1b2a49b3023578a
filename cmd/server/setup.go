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
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/jaycherian/gcp-go-long-video/internal/cloud"
	"github.com/jaycherian/gcp-go-long-video/internal/core/adapters"
	"github.com/jaycherian/gcp-go-long-video/internal/core/events"
	"github.com/jaycherian/gcp-go-long-video/internal/core/jobs"
	"github.com/jaycherian/gcp-go-long-video/internal/core/services"
	"github.com/jaycherian/gcp-go-long-video/internal/core/workflow"
)

// agentModelName is the model every generative step runs on.
const agentModelName = "creative-flash"

// StateManager holds the shared components of the server.
type StateManager struct {
	config       *cloud.Config
	cloud        *cloud.ServiceClients
	stores       *services.Stores
	orchestrator *workflow.Orchestrator
	account      *adapters.YouTubeAccount
	stoppers     []func()
}

var state = &StateManager{}

// SetupOS points the config loader at the configs directory unless the
// environment already says otherwise.
func SetupOS() (err error) {
	if os.Getenv(cloud.EnvConfigFilePrefix) == "" {
		if err = os.Setenv(cloud.EnvConfigFilePrefix, "configs"); err != nil {
			return err
		}
	}
	if os.Getenv(cloud.EnvConfigRuntime) == "" {
		err = os.Setenv(cloud.EnvConfigRuntime, "local")
	}
	return err
}

func GetConfig() *cloud.Config {
	if state.config == nil {
		if err := SetupOS(); err != nil {
			log.Fatalf("failed to setup os: %v\n", err)
		}
		config := cloud.NewConfig()
		if err := cloud.LoadConfig(config); err != nil {
			log.Fatalf("failed to load configuration: %v\n", err)
		}
		state.config = config
	}
	return state.config
}

// InitState creates the clients, stores, adapters and the orchestrator, and
// starts the background listeners.
func InitState(ctx context.Context) error {
	config := GetConfig()

	cloudClients, err := cloud.NewCloudServiceClients(ctx, config)
	if err != nil {
		return err
	}
	state.cloud = cloudClients

	if cloudClients.DB != nil {
		if config.Database.MigrateOnStart {
			if err := services.ApplyMigrations(ctx, cloudClients.DB); err != nil {
				return fmt.Errorf("applying migrations: %w", err)
			}
		}
		state.stores = services.NewPgStores(cloudClients.DB)
	} else {
		slog.Warn("no database configured, using in-memory stores; state is lost on restart")
		state.stores = services.NewMemoryStores()
	}

	bus := events.NewBus(config.Events.SubscriberBuffer)
	if config.Events.Topic != "" {
		sink := events.NewPubSubSink(cloudClients.PubsubClient, config.Events.Topic)
		bus.AddSink(sink)
		state.stoppers = append(state.stoppers, sink.Stop)
	}
	if config.Events.BigQueryDataset != "" {
		bus.AddSink(events.NewBigQuerySink(cloudClients.BigQueryClient, config.Events.BigQueryDataset, config.Events.BigQueryTable))
	}

	genModel, ok := cloudClients.AgentModels[agentModelName]
	if !ok {
		return fmt.Errorf("agent model %q is not configured", agentModelName)
	}
	transcriptionPrompt, err := adapters.ParsePrompt("transcription", config.PromptTemplates.TranscriptionPrompt)
	if err != nil {
		return err
	}
	analysisPrompt, err := adapters.ParsePrompt("segment-analysis", config.PromptTemplates.SegmentAnalysisPrompt)
	if err != nil {
		return err
	}
	metadataPrompt, err := adapters.ParsePrompt("metadata", config.PromptTemplates.MetadataPrompt)
	if err != nil {
		return err
	}

	objects := cloud.NewGCSObjectStore(cloudClients.StorageClient)
	tokens := adapters.NewTokenManager(state.stores.Credentials, adapters.NewOAuthSettings(config.YouTube), config.YouTube.RefreshBuffer())
	publisher := &adapters.YouTubeDataPublisher{Endpoint: config.YouTube.APIEndpoint}
	state.account = adapters.NewYouTubeAccount(state.stores.Credentials, tokens, &adapters.GoogleAccountDirectory{Endpoint: config.YouTube.APIEndpoint})

	poller := jobs.NewPoller(config.Pipeline.PollInterval())
	poller.MaxPollErrors = config.Pipeline.PollErrors()

	state.orchestrator = workflow.NewOrchestrator(&workflow.Dependencies{
		Config:      config,
		Stores:      state.stores,
		Bus:         bus,
		Objects:     objects,
		Poller:      poller,
		Transcriber: adapters.NewTranscriber(genModel, objects, transcriptionPrompt, config.Storage),
		Detector:    adapters.NewBoundaryDetector(objects),
		Analyzer:    adapters.NewSegmentAnalyzer(genModel, objects, analysisPrompt),
		Renderer:    adapters.NewRenderer(adapters.ExecRunner{}, config.Pipeline.FFmpeg(), objects, config.Storage),
		Uploader:    adapters.NewYouTubeUploader(tokens, publisher, objects, config.YouTube),
		Metadata:    adapters.NewMetadataSuggester(genModel, metadataPrompt),
		Media: &services.MediaService{
			Signer:      services.StorageURLSigner{Client: cloudClients.StorageClient},
			IAMClient:   cloudClients.IAMClient,
			SignerEmail: config.Application.SignerServiceAccountEmail,
			Outputs:     state.stores.Outputs,
		},
		Workers: config.Application.ThreadPoolSize,
	})

	SetupListeners(ctx, cloudClients, state.orchestrator)
	state.orchestrator.Recovery().Start(ctx)
	return nil
}

// CloseState releases the clients opened by InitState.
func CloseState() {
	for _, stop := range state.stoppers {
		stop()
	}
	if state.cloud != nil {
		state.cloud.Close()
	}
}

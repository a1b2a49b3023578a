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

// Package cloud defines the application configuration loaded from TOML files
// and the clients used to reach Google Cloud, Postgres and the video platform.
//
// Structs:
//   - Storage: The media bucket and the object layout inside it.
//   - Database: Postgres connection settings.
//   - Pipeline: Timeouts and options of the processing pipeline.
//   - YouTube: Publishing defaults and the OAuth client.
//   - Events: Where stage-change events are mirrored.
//   - PromptTemplates: Holds the text templates for prompts sent to GenAI models.
//   - VertexAiLLMModel: Configuration for a Vertex AI Large Language Model (LLM).
//   - TopicSubscription: Configuration for a single Pub/Sub topic subscription.
//   - Config: The top-level struct that aggregates all other configuration structs.
package cloud

import (
	"time"

	"google.golang.org/genai"
)

// DefaultSafetySettings defines the default content safety thresholds for GenAI models.
// Presentation recordings are trusted input, so nothing is blocked.
var DefaultSafetySettings = []*genai.SafetySetting{
	{
		Category:  genai.HarmCategoryDangerousContent,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHarassment,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategoryHateSpeech,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
	{
		Category:  genai.HarmCategorySexuallyExplicit,
		Threshold: genai.HarmBlockThresholdBlockNone,
	},
}

// Defaults applied when a setting is left empty.
const (
	DefaultPollInterval     = 10 * time.Second
	DefaultAdapterTimeout   = 5 * time.Minute
	DefaultRenderTimeout    = 60 * time.Minute
	DefaultUploadTimeout    = 60 * time.Minute
	DefaultRefreshBuffer    = 5 * time.Minute
	DefaultRecoveryInterval = 5 * time.Minute
	DefaultStaleAfter       = 15 * time.Minute
	DefaultRawObjectSuffix  = "RAW.mp4"
	DefaultTranscriptPrefix = "videos"
	DefaultMaxSpeakers      = 10
	DefaultMaxPollErrors    = 3
	DefaultSignedURLExpiry  = 15 * time.Minute
	DefaultHTTPPort         = 8080
)

// DefaultLanguageOptions are the languages the transcriber is allowed to detect.
var DefaultLanguageOptions = []string{"en-US", "ko-KR"}

// PromptTemplates holds the templates for the prompts sent to GenAI models.
// Each is a text/template rendered with the request of its adapter.
type PromptTemplates struct {
	TranscriptionPrompt   string `toml:"transcription"`
	SegmentAnalysisPrompt string `toml:"segment_analysis"`
	MetadataPrompt        string `toml:"metadata"`
}

// VertexAiLLMModel represents the configuration for a Vertex AI large language model (LLM).
type VertexAiLLMModel struct {
	Model              string  `toml:"model"`               // The name of the Vertex AI LLM.
	SystemInstructions string  `toml:"system_instructions"` // The system instructions for the LLM.
	Temperature        float32 `toml:"temperature"`         // The temperature parameter for the LLM.
	TopP               float32 `toml:"top_p"`               // The top_p parameter for the LLM.
	TopK               float32 `toml:"top_k"`               // The top_k parameter for the LLM.
	MaxTokens          int32   `toml:"max_tokens"`          // The maximum number of tokens for the LLM output.
	OutputFormat       string  `toml:"output_format"`       // The desired output format for the LLM.
	RateLimit          int     `toml:"rate_limit"`          // The rate limit for the LLM in requests per second.
}

// TopicSubscription represents the configuration for a Pub/Sub topic subscription.
type TopicSubscription struct {
	Name             string `toml:"name"`               // The name of the Pub/Sub subscription.
	DeadLetterTopic  string `toml:"dead_letter_topic"`  // The name of the dead-letter topic for the subscription.
	TimeoutInSeconds int    `toml:"timeout_in_seconds"` // The timeout for the subscription in seconds.
}

// Storage describes where videos, transcripts and renders live.
type Storage struct {
	MediaBucket      string `toml:"media_bucket"`      // Bucket holding raw uploads, transcripts and outputs.
	RawObjectSuffix  string `toml:"raw_object_suffix"` // File name that marks a raw upload, e.g. RAW.mp4.
	TranscriptPrefix string `toml:"transcript_prefix"` // Key prefix for derived objects, e.g. videos.
}

// RawSuffix returns the configured raw-upload suffix or its default.
func (s Storage) RawSuffix() string {
	if s.RawObjectSuffix == "" {
		return DefaultRawObjectSuffix
	}
	return s.RawObjectSuffix
}

// Prefix returns the derived-object prefix or its default.
func (s Storage) Prefix() string {
	if s.TranscriptPrefix == "" {
		return DefaultTranscriptPrefix
	}
	return s.TranscriptPrefix
}

// Database holds the Postgres settings. An empty DSN selects the in-memory stores.
type Database struct {
	DSN            string `toml:"dsn"`
	MaxConns       int32  `toml:"max_conns"`
	MinConns       int32  `toml:"min_conns"`
	MigrateOnStart bool   `toml:"migrate_on_start"`
}

// Pipeline holds the knobs of the processing pipeline. Durations are seconds.
type Pipeline struct {
	PollIntervalSeconds     int      `toml:"poll_interval_seconds"`
	AdapterTimeoutSeconds   int      `toml:"adapter_timeout_seconds"`
	RenderTimeoutSeconds    int      `toml:"render_timeout_seconds"`
	UploadTimeoutSeconds    int      `toml:"upload_timeout_seconds"`
	LanguageOptions         []string `toml:"language_options"`
	MaxSpeakers             int      `toml:"max_speakers"`
	FFmpegPath              string   `toml:"ffmpeg_path"`
	RecoveryIntervalSeconds int      `toml:"recovery_interval_seconds"`
	StaleAfterSeconds       int      `toml:"stale_after_seconds"`
	MaxPollErrors           int      `toml:"max_poll_errors"`
	SignedURLExpirySeconds  int      `toml:"signed_url_expiry_seconds"`
}

func seconds(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Second
}

func (p Pipeline) PollInterval() time.Duration {
	return seconds(p.PollIntervalSeconds, DefaultPollInterval)
}

func (p Pipeline) AdapterTimeout() time.Duration {
	return seconds(p.AdapterTimeoutSeconds, DefaultAdapterTimeout)
}

func (p Pipeline) RenderTimeout() time.Duration {
	return seconds(p.RenderTimeoutSeconds, DefaultRenderTimeout)
}

func (p Pipeline) UploadTimeout() time.Duration {
	return seconds(p.UploadTimeoutSeconds, DefaultUploadTimeout)
}

func (p Pipeline) RecoveryInterval() time.Duration {
	return seconds(p.RecoveryIntervalSeconds, DefaultRecoveryInterval)
}

func (p Pipeline) StaleAfter() time.Duration {
	return seconds(p.StaleAfterSeconds, DefaultStaleAfter)
}

func (p Pipeline) SignedURLExpiry() time.Duration {
	return seconds(p.SignedURLExpirySeconds, DefaultSignedURLExpiry)
}

func (p Pipeline) Languages() []string {
	if len(p.LanguageOptions) == 0 {
		return append([]string(nil), DefaultLanguageOptions...)
	}
	return p.LanguageOptions
}

func (p Pipeline) Speakers() int {
	if p.MaxSpeakers <= 0 {
		return DefaultMaxSpeakers
	}
	return p.MaxSpeakers
}

func (p Pipeline) PollErrors() int {
	if p.MaxPollErrors <= 0 {
		return DefaultMaxPollErrors
	}
	return p.MaxPollErrors
}

func (p Pipeline) FFmpeg() string {
	if p.FFmpegPath == "" {
		return "ffmpeg"
	}
	return p.FFmpegPath
}

// YouTube holds the publishing defaults and the OAuth client used to refresh
// and exchange tokens.
type YouTube struct {
	CategoryID           string `toml:"category_id"`
	PrivacyStatus        string `toml:"privacy_status"`
	RefreshBufferSeconds int    `toml:"refresh_buffer_seconds"`
	TokenURL             string `toml:"token_url"`
	APIEndpoint          string `toml:"api_endpoint"`
	ClientID             string `toml:"client_id"`
	ClientSecret         string `toml:"client_secret"`
}

func (y YouTube) RefreshBuffer() time.Duration {
	return seconds(y.RefreshBufferSeconds, DefaultRefreshBuffer)
}

// Events configures the sinks that mirror stage-change events.
type Events struct {
	Topic            string `toml:"topic"`             // Pub/Sub topic; empty disables the sink.
	BigQueryDataset  string `toml:"big_query_dataset"` // Audit dataset; empty disables the sink.
	BigQueryTable    string `toml:"big_query_table"`
	SubscriberBuffer int    `toml:"subscriber_buffer"`
}

// Config is the root configuration object for the application.
type Config struct {
	Application struct {
		Name                      string `toml:"name"`                         // The name of the application.
		Version                   string `toml:"version"`                      // Reported as service.version.
		GoogleProjectId           string `toml:"google_project_id"`            // The Google Cloud project ID.
		GoogleLocation            string `toml:"location"`                     // The Google Cloud location.
		ThreadPoolSize            int    `toml:"thread_pool_size"`             // Concurrent renders and uploads.
		SignerServiceAccountEmail string `toml:"signer_service_account_email"` // The service account email used for signing GCS URLs.
		HTTPPort                  int    `toml:"http_port"`                    // Port of the HTTP API.
		LogLevel                  string `toml:"log_level"`                    // debug, info, warn or error.
	} `toml:"application"`
	Storage            Storage                      `toml:"storage"`
	Database           Database                     `toml:"database"`
	Pipeline           Pipeline                     `toml:"pipeline"`
	YouTube            YouTube                      `toml:"youtube"`
	Events             Events                       `toml:"events"`
	PromptTemplates    PromptTemplates              `toml:"prompt_templates"`
	TopicSubscriptions map[string]TopicSubscription `toml:"topic_subscriptions"` // Pub/Sub subscriptions keyed by a logical name (e.g., "RawUploadTopic").
	AgentModels        map[string]VertexAiLLMModel  `toml:"agent_models"`        // Vertex AI LLMs keyed by a logical name (e.g., "creative-flash").
}

// NewConfig is a constructor that initializes a new Config object with empty maps.
func NewConfig() *Config {
	return &Config{
		TopicSubscriptions: make(map[string]TopicSubscription),
		AgentModels:        make(map[string]VertexAiLLMModel),
	}
}

// Port returns the HTTP port or its default.
func (c *Config) Port() int {
	if c.Application.HTTPPort <= 0 {
		return DefaultHTTPPort
	}
	return c.Application.HTTPPort
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	serrors "github.com/p-blackswan/studio-agent/internal/errors"
)

// Environment targets. A target picks a default provider per capability.
const (
	TargetLocal = "local"
	TargetGCP   = "gcp"
)

// Provider names per capability.
const (
	StorageLocal = "local"
	StorageGCS   = "gcs"

	QueueMemory     = "memory"
	QueueCloudTasks = "cloudtasks"

	SearchLocal     = "local"
	SearchEmbedding = "embedding"

	EmbedderGenAI = "genai"
	EmbedderHTTP  = "http"

	LLMLocal     = "local"
	LLMGemini    = "gemini"
	LLMAnthropic = "anthropic"

	ImagePlaceholder = "placeholder"
	ImageGemini      = "gemini"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	EnvTarget   string `envconfig:"ENV_TARGET" default:"local"`

	// HTTP API
	HTTPAddr       string `envconfig:"HTTP_ADDR" default:":8080"`
	CORSOrigins    string `envconfig:"CORS_ORIGINS"`
	RateLimitRPS   int    `envconfig:"RATE_LIMIT_RPS" default:"50"`
	RateLimitBurst int    `envconfig:"RATE_LIMIT_BURST" default:"100"`

	// Relational store (SQLite file path or ":memory:")
	DatabasePath string `envconfig:"DATABASE_PATH" default:"studio.db"`

	// Blob storage
	StorageProvider  string `envconfig:"STORAGE_PROVIDER"`
	LocalStorageRoot string `envconfig:"LOCAL_STORAGE_ROOT" default:"storage"`
	GCSBucket        string `envconfig:"GCS_BUCKET"`
	GCSBasePath      string `envconfig:"GCS_BASE_PATH"`

	// Google Cloud shared identifiers
	GCPProject  string `envconfig:"GCP_PROJECT"`
	GCPLocation string `envconfig:"GCP_LOCATION" default:"asia-northeast1"`

	// Task queue
	QueueProvider                 string        `envconfig:"QUEUE_PROVIDER"`
	CloudTasksProject             string        `envconfig:"CLOUD_TASKS_PROJECT"`
	CloudTasksLocation            string        `envconfig:"CLOUD_TASKS_LOCATION"`
	CloudTasksQueueID             string        `envconfig:"CLOUD_TASKS_QUEUE_ID"`
	CloudTasksTargetURL           string        `envconfig:"CLOUD_TASKS_TARGET_URL"`
	CloudTasksServiceAccountEmail string        `envconfig:"CLOUD_TASKS_SERVICE_ACCOUNT_EMAIL"`
	AsyncImages                   bool          `envconfig:"ASYNC_IMAGES" default:"false"`
	LocalDrainInterval            time.Duration `envconfig:"LOCAL_DRAIN_INTERVAL" default:"2s"`

	// Vector search
	SearchProvider     string `envconfig:"SEARCH_PROVIDER"`
	Embedder           string `envconfig:"EMBEDDER" default:"genai"`
	EmbedderEndpoint   string `envconfig:"EMBEDDER_ENDPOINT"`
	EmbedderModel      string `envconfig:"EMBEDDER_MODEL"`
	EmbedderAPIKey     string `envconfig:"EMBEDDER_API_KEY"`
	EmbedderDimensions int    `envconfig:"EMBEDDER_DIMENSIONS" default:"0"`

	// Text generation
	LLMProvider     string  `envconfig:"LLM_PROVIDER"`
	LLMModel        string  `envconfig:"LLM_MODEL"`
	LLMOutputStyle  string  `envconfig:"LLM_OUTPUT_STYLE" default:"markdown"`
	LLMMaxTokens    int     `envconfig:"LLM_MAX_TOKENS" default:"2048"`
	GeminiAPIKey    string  `envconfig:"GEMINI_API_KEY"`
	AnthropicAPIKey string  `envconfig:"ANTHROPIC_API_KEY"`

	// Image generation
	ImageProvider string `envconfig:"IMAGE_PROVIDER"`
	ImageModel    string `envconfig:"IMAGE_MODEL"`

	// Backend adapter timeout applied to each remote call.
	BackendTimeout time.Duration `envconfig:"BACKEND_TIMEOUT" default:"120s"`

	// Prompt templates (YAML). Empty uses the embedded defaults.
	PromptsPath string `envconfig:"PROMPTS_PATH"`

	// Cache of immutable artifact content, in entries.
	ContentCacheSize int `envconfig:"CONTENT_CACHE_SIZE" default:"256"`
}

// Storage returns the effective blob storage provider.
func (c *Config) Storage() string {
	return pick(c.StorageProvider, c.EnvTarget, StorageLocal, StorageGCS)
}

// Queue returns the effective task queue provider.
func (c *Config) Queue() string {
	return pick(c.QueueProvider, c.EnvTarget, QueueMemory, QueueCloudTasks)
}

// Search returns the effective vector search provider.
func (c *Config) Search() string {
	return pick(c.SearchProvider, c.EnvTarget, SearchLocal, SearchEmbedding)
}

// LLM returns the effective text generation provider. Remote generation is
// opt-in on every target.
func (c *Config) LLM() string {
	return pick(c.LLMProvider, c.EnvTarget, LLMLocal, LLMLocal)
}

// Image returns the effective image generation provider.
func (c *Config) Image() string {
	return pick(c.ImageProvider, c.EnvTarget, ImagePlaceholder, ImagePlaceholder)
}

// TasksProject returns the Cloud Tasks project, defaulting to GCP_PROJECT.
func (c *Config) TasksProject() string {
	if c.CloudTasksProject != "" {
		return c.CloudTasksProject
	}
	return c.GCPProject
}

// TasksLocation returns the Cloud Tasks location, defaulting to GCP_LOCATION.
func (c *Config) TasksLocation() string {
	if c.CloudTasksLocation != "" {
		return c.CloudTasksLocation
	}
	return c.GCPLocation
}

// IsDevelopment reports whether human-readable console logging is wanted.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Validate fails fast when a selected remote provider lacks the identifiers it
// needs. It never downgrades to a local provider.
func (c *Config) Validate() error {
	var problems []string
	missing := func(name string) { problems = append(problems, name+" is required") }

	switch c.EnvTarget {
	case TargetLocal, TargetGCP:
	default:
		problems = append(problems, fmt.Sprintf("unsupported ENV_TARGET %q", c.EnvTarget))
	}

	switch c.Storage() {
	case StorageLocal:
		if c.LocalStorageRoot == "" {
			missing("LOCAL_STORAGE_ROOT")
		}
	case StorageGCS:
		if c.GCSBucket == "" {
			missing("GCS_BUCKET (storage provider gcs)")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported STORAGE_PROVIDER %q", c.Storage()))
	}

	switch c.Queue() {
	case QueueMemory:
	case QueueCloudTasks:
		if c.CloudTasksQueueID == "" {
			missing("CLOUD_TASKS_QUEUE_ID")
		}
		if c.CloudTasksTargetURL == "" {
			missing("CLOUD_TASKS_TARGET_URL")
		}
		if c.TasksProject() == "" {
			missing("CLOUD_TASKS_PROJECT or GCP_PROJECT")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported QUEUE_PROVIDER %q", c.Queue()))
	}

	switch c.Search() {
	case SearchLocal:
	case SearchEmbedding:
		switch c.Embedder {
		case EmbedderGenAI:
			if c.embedderKey() == "" {
				missing("EMBEDDER_API_KEY or GEMINI_API_KEY (genai embedder)")
			}
		case EmbedderHTTP:
			if c.EmbedderEndpoint == "" {
				missing("EMBEDDER_ENDPOINT (http embedder)")
			}
		default:
			problems = append(problems, fmt.Sprintf("unsupported EMBEDDER %q", c.Embedder))
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported SEARCH_PROVIDER %q", c.Search()))
	}

	switch c.LLM() {
	case LLMLocal:
	case LLMGemini:
		if c.GeminiAPIKey == "" {
			missing("GEMINI_API_KEY (llm provider gemini)")
		}
	case LLMAnthropic:
		if c.AnthropicAPIKey == "" {
			missing("ANTHROPIC_API_KEY (llm provider anthropic)")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported LLM_PROVIDER %q", c.LLM()))
	}

	switch c.Image() {
	case ImagePlaceholder:
	case ImageGemini:
		if c.GeminiAPIKey == "" {
			missing("GEMINI_API_KEY (image provider gemini)")
		}
	default:
		problems = append(problems, fmt.Sprintf("unsupported IMAGE_PROVIDER %q", c.Image()))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", serrors.ErrConfig, strings.Join(problems, "; "))
	}
	return nil
}

// EmbedderKey returns the key used by the genai embedder.
func (c *Config) EmbedderKey() string { return c.embedderKey() }

func (c *Config) embedderKey() string {
	if c.EmbedderAPIKey != "" {
		return c.EmbedderAPIKey
	}
	return c.GeminiAPIKey
}

func pick(explicit, target, local, gcp string) string {
	if explicit != "" {
		return strings.ToLower(explicit)
	}
	if target == TargetGCP {
		return gcp
	}
	return local
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}

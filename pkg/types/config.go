package types

import "time"

// AIConfig holds settings for the extractor backend.
type AIConfig struct {
	// Provider selects the backend: "anthropic" (default) or "openai".
	Provider string `json:"provider" yaml:"provider" mapstructure:"provider"`

	// Model is the AI model identifier (e.g. "claude-sonnet-4-5-20250929").
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey is the authentication key for the AI API.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// BaseURL overrides the provider endpoint (OpenAI-compatible gateways).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`

	// MaxRetries is the number of retry attempts for failed API calls (default 3).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// MaxTokens caps the response length (default 4096).
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" mapstructure:"max_tokens"`

	// Temperature is used on the first pass (default 0.0).
	Temperature float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature"`

	// RetryTemperature is used on the retry pass (default 0.1).
	RetryTemperature float64 `json:"retry_temperature" yaml:"retry_temperature" mapstructure:"retry_temperature"`

	// RequestsPerMinute limits extractor calls; zero disables limiting.
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute" mapstructure:"requests_per_minute"`

	// Timeout is the HTTP request timeout (default 120s).
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// BatchConfig holds the fragment batching budget.
type BatchConfig struct {
	// MaxBatchChars is the character budget per batch (default 12000).
	MaxBatchChars int `json:"max_batch_chars" yaml:"max_batch_chars" mapstructure:"max_batch_chars"`
}

// ExtractionConfig holds settings for the extraction stage.
type ExtractionConfig struct {
	AIConfig    `yaml:",inline" mapstructure:",squash"`
	BatchConfig `yaml:",inline" mapstructure:",squash"`

	// BatchFailureThreshold is the failed-batch fraction above which a run
	// fails (default 0.50).
	BatchFailureThreshold float64 `json:"batch_failure_threshold" yaml:"batch_failure_threshold" mapstructure:"batch_failure_threshold"`

	// Pass1MinConfidence is the acceptance threshold on the first pass (default 0.60).
	Pass1MinConfidence float64 `json:"pass1_min_confidence" yaml:"pass1_min_confidence" mapstructure:"pass1_min_confidence"`

	// Pass2MinConfidence is the acceptance threshold on the retry pass (default 0.75).
	Pass2MinConfidence float64 `json:"pass2_min_confidence" yaml:"pass2_min_confidence" mapstructure:"pass2_min_confidence"`

	// FragmentPronouns are leading words that mark a description as
	// depending on a neighbouring fragment.
	FragmentPronouns []string `json:"fragment_pronouns" yaml:"fragment_pronouns" mapstructure:"fragment_pronouns"`

	// PromptVersion overrides the pass-selected prompt version when set.
	PromptVersion string `json:"prompt_version,omitempty" yaml:"prompt_version,omitempty" mapstructure:"prompt_version"`
}

// MinConfidenceFor returns the acceptance threshold for an extraction pass.
func (c ExtractionConfig) MinConfidenceFor(pass int) float64 {
	if pass >= 2 {
		return c.Pass2MinConfidence
	}
	return c.Pass1MinConfidence
}

// TemperatureFor returns the sampling temperature for an extraction pass.
func (c ExtractionConfig) TemperatureFor(pass int) float64 {
	if pass >= 2 {
		return c.RetryTemperature
	}
	return c.Temperature
}

// DedupConfig holds deduplication settings.
type DedupConfig struct {
	// Threshold is the Jaccard similarity at which requirements merge (default 0.75).
	Threshold float64 `json:"threshold" yaml:"threshold" mapstructure:"threshold"`
}

// GateThresholds are the decision boundaries for one document format.
type GateThresholds struct {
	AutoAccept          float64 `json:"auto_accept" yaml:"auto_accept" mapstructure:"auto_accept"`
	HumanReview         float64 `json:"human_review" yaml:"human_review" mapstructure:"human_review"`
	MinSchemaCompliance float64 `json:"min_schema_compliance" yaml:"min_schema_compliance" mapstructure:"min_schema_compliance"`
	MinCoverage         float64 `json:"min_coverage" yaml:"min_coverage" mapstructure:"min_coverage"`
}

// DefaultThresholdsKey is the fallback entry in GateConfig.Thresholds.
const DefaultThresholdsKey = "default"

// GateConfig holds gate thresholds keyed by document format.
type GateConfig struct {
	Thresholds map[string]GateThresholds `json:"thresholds" yaml:"thresholds" mapstructure:"thresholds"`
}

// For returns the thresholds for a document format, falling back to the
// default entry and then to the built-in defaults.
func (c GateConfig) For(format string) GateThresholds {
	if t, ok := c.Thresholds[format]; ok {
		return t
	}
	if t, ok := c.Thresholds[DefaultThresholdsKey]; ok {
		return t
	}
	return DefaultGateThresholds()
}

// DefaultGateThresholds returns the built-in gate thresholds.
func DefaultGateThresholds() GateThresholds {
	return GateThresholds{
		AutoAccept:          0.85,
		HumanReview:         0.50,
		MinSchemaCompliance: 0.50,
		MinCoverage:         0.60,
	}
}

// StoreConfig holds settings for the requirement store.
type StoreConfig struct {
	// Dir is the directory holding compliance.db.
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`

	// MaxResults is the default maximum number of query results (default 20).
	MaxResults int `json:"max_results" yaml:"max_results" mapstructure:"max_results"`
}

// CacheConfig holds settings for the schema-map cache.
type CacheConfig struct {
	// Dir is the disk cache directory; empty disables the disk layer.
	Dir string `json:"dir" yaml:"dir" mapstructure:"dir"`

	// TTL is the entry lifetime (default 24h).
	TTL time.Duration `json:"ttl" yaml:"ttl" mapstructure:"ttl"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	// Level is debug, info, warn or error.
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// Format is json or console.
	Format string `json:"format" yaml:"format" mapstructure:"format"`
}

// PipelineConfig groups all stage configurations for the pipeline.
type PipelineConfig struct {
	Extraction ExtractionConfig `json:"extraction" yaml:"extraction" mapstructure:"extraction"`
	Dedup      DedupConfig      `json:"dedup" yaml:"dedup" mapstructure:"dedup"`
	Gate       GateConfig       `json:"gate" yaml:"gate" mapstructure:"gate"`
	Store      StoreConfig      `json:"store" yaml:"store" mapstructure:"store"`
	Cache      CacheConfig      `json:"cache" yaml:"cache" mapstructure:"cache"`
	Log        LogConfig        `json:"log" yaml:"log" mapstructure:"log"`
}

// DefaultPipelineConfig returns the documented defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Extraction: ExtractionConfig{
			AIConfig: AIConfig{
				Provider:         "anthropic",
				Model:            "claude-sonnet-4-5-20250929",
				MaxRetries:       3,
				MaxTokens:        4096,
				Temperature:      0.0,
				RetryTemperature: 0.1,
				Timeout:          120 * time.Second,
			},
			BatchConfig:           BatchConfig{MaxBatchChars: 12000},
			BatchFailureThreshold: 0.50,
			Pass1MinConfidence:    0.60,
			Pass2MinConfidence:    0.75,
			FragmentPronouns:      []string{"this", "that", "these", "those", "it", "such"},
		},
		Dedup: DedupConfig{Threshold: 0.75},
		Gate: GateConfig{Thresholds: map[string]GateThresholds{
			DefaultThresholdsKey: DefaultGateThresholds(),
		}},
		Store: StoreConfig{Dir: "output/store", MaxResults: 20},
		Cache: CacheConfig{TTL: 24 * time.Hour},
		Log:   LogConfig{Level: "info", Format: "console"},
	}
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"transcript-classifier-go/internal/types"
)

type Config struct {
	// generator
	Provider     string `yaml:"llm_provider"`
	Model        string `yaml:"llm_model"`
	GeminiKey    string `yaml:"gemini_api_key"`
	GatewayURL   string `yaml:"llm_gateway_url"`
	GatewayKey   string `yaml:"llm_api_key"`
	AnthropicKey string `yaml:"anthropic_api_key"`

	// throttling and retry
	Concurrency    int           `yaml:"concurrent_requests"`
	RequestDelay   time.Duration `yaml:"request_delay"`
	MaxRetries     int           `yaml:"max_retries"`
	BaseRetryDelay time.Duration `yaml:"base_retry_delay"`
	CallTimeout    time.Duration `yaml:"call_timeout"`

	// classification
	SaveInterval    int                `yaml:"save_interval"`
	TargetPerson    string             `yaml:"target_person"`
	AnalysisContext string             `yaml:"analysis_context"`
	WithExplanation bool               `yaml:"with_explanation"`
	Resume          bool               `yaml:"resume"`
	RetryErrors     bool               `yaml:"retry_errors"`
	Labels          []types.LabelField `yaml:"labels"`

	// dataset layout
	Sheet        string `yaml:"sheet"`
	TextColumn   string `yaml:"text_column"`
	EntityColumn string `yaml:"entity_column"`

	// storage
	WordsDir           string `yaml:"words_dir"`
	SummariesDir       string `yaml:"summaries_dir"`
	ExcelOutputDir     string `yaml:"excel_output_dir"`
	TranscriptURL      string `yaml:"transcript_url"`
	TranscriptBucket   string `yaml:"transcript_bucket"`
	TranscriptPrefix   string `yaml:"transcript_prefix"`
	SummaryConcurrency int    `yaml:"summary_concurrency"`

	// api
	JobsDB string `yaml:"jobs_db"`
	Port   string `yaml:"port"`
}

const defaultAnalysisContext = `Contexto adicional: Análise de conteúdo em vídeos do YouTube para identificar
possíveis casos de calúnia, injúria e difamação contra pessoas específicas.
Focus em detectar ataques à honra, reputação e dignidade pessoal.`

func Default() Config {
	return Config{
		Provider:           "gemini",
		Model:              "gemini-2.0-flash-lite-001",
		Concurrency:        5,
		RequestDelay:       500 * time.Millisecond,
		MaxRetries:         5,
		BaseRetryDelay:     10 * time.Second,
		CallTimeout:        60 * time.Second,
		SaveInterval:       100,
		AnalysisContext:    defaultAnalysisContext,
		Resume:             true,
		Labels:             types.DefaultLabelFields,
		Sheet:              "Sheet1",
		TextColumn:         "transcrição",
		EntityColumn:       "video_id",
		WordsDir:           "transcripts/words",
		SummariesDir:       "transcripts/summaries",
		ExcelOutputDir:     "excel_output",
		SummaryConcurrency: 5,
		JobsDB:             "api_jobs.db",
		Port:               "8080",
	}
}

// Load reads .env, then the YAML file (CONFIG_PATH or config.yaml, optional),
// then environment overrides.
func Load() (Config, error) {
	_ = godotenv.Load() // loads .env

	cfg := Default()
	path := "config.yaml"
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		path = p
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.Getenv("CONFIG_PATH") != "" {
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(&cfg)
	return cfg, cfg.Validate()
}

func applyEnv(cfg *Config) {
	envOverride(&cfg.Provider, "LLM_PROVIDER")
	envOverride(&cfg.Model, "LLM_MODEL")
	envOverride(&cfg.GeminiKey, "GOOGLE_API_KEY")
	envOverride(&cfg.GatewayURL, "LLM_GATEWAY_URL")
	envOverride(&cfg.GatewayKey, "LLM_API_KEY")
	envOverride(&cfg.AnthropicKey, "ANTHROPIC_API_KEY")
	envOverrideInt(&cfg.Concurrency, "AI_CONCURRENT_REQUESTS")
	envOverrideDuration(&cfg.RequestDelay, "AI_REQUEST_DELAY")
	envOverrideInt(&cfg.MaxRetries, "AI_MAX_RETRIES")
	envOverrideDuration(&cfg.BaseRetryDelay, "AI_BASE_RETRY_DELAY")
	envOverrideDuration(&cfg.CallTimeout, "AI_CALL_TIMEOUT")
	envOverrideInt(&cfg.SaveInterval, "AI_SAVE_INTERVAL")
	envOverride(&cfg.TargetPerson, "TARGET_PERSON_NAME")
	envOverride(&cfg.AnalysisContext, "ANALYSIS_CONTEXT")
	envOverrideBool(&cfg.WithExplanation, "CLASSIFICATION_WITH_EXPLANATION")
	envOverrideBool(&cfg.Resume, "AI_RESUME")
	envOverrideBool(&cfg.RetryErrors, "AI_RETRY_ERRORS")
	envOverride(&cfg.Sheet, "DATASET_SHEET")
	envOverride(&cfg.TextColumn, "TEXT_COLUMN")
	envOverride(&cfg.EntityColumn, "ENTITY_COLUMN")
	envOverride(&cfg.WordsDir, "WORDS_DIR")
	envOverride(&cfg.SummariesDir, "SUMMARIES_DIR")
	envOverride(&cfg.ExcelOutputDir, "EXCEL_OUTPUT_DIR")
	envOverride(&cfg.TranscriptURL, "TRANSCRIPT_URL")
	envOverride(&cfg.TranscriptBucket, "TRANSCRIPT_BUCKET")
	envOverride(&cfg.TranscriptPrefix, "TRANSCRIPT_PREFIX")
	envOverrideInt(&cfg.SummaryConcurrency, "SUMMARY_CONCURRENCY")
	envOverride(&cfg.JobsDB, "JOBS_DB")
	envOverride(&cfg.Port, "PORT")
}

func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrent_requests must be >= 1, got %d", c.Concurrency)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max_retries must be >= 1, got %d", c.MaxRetries)
	}
	if c.SaveInterval < 1 {
		return fmt.Errorf("save_interval must be >= 1, got %d", c.SaveInterval)
	}
	if c.RequestDelay < 0 || c.BaseRetryDelay < 0 || c.CallTimeout < 0 {
		return fmt.Errorf("delays and timeouts must not be negative")
	}
	if len(c.Labels) == 0 {
		return fmt.Errorf("at least one label field is required")
	}
	seen := map[string]bool{}
	for _, f := range c.Labels {
		if f.Key == "" || f.Prefix == "" || f.Column == "" {
			return fmt.Errorf("label field %q: key, prefix and column are required", f.Key)
		}
		if seen[f.Column] {
			return fmt.Errorf("label column %q declared twice", f.Column)
		}
		seen[f.Column] = true
	}
	return nil
}

// Target assembles the per-run classification target.
func (c Config) Target() types.Target {
	return types.Target{
		Person:          c.TargetPerson,
		Context:         c.AnalysisContext,
		WithExplanation: c.WithExplanation,
	}
}

func envOverride(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envOverrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func envOverrideBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			*dst = b
		}
	}
}

// Durations accept Go syntax ("500ms") or plain seconds ("0.5").
func envOverrideDuration(dst *time.Duration, key string) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
	}
}

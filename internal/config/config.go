package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"sessionsplit/internal/schedule"
	"sessionsplit/internal/segment"
)

const DefaultPath = "sessionsplit.yaml"

const defaultExternalHTTPTimeoutSeconds = 90

type Config struct {
	InputPath   string `yaml:"input_path"`
	OutputPath  string `yaml:"output_path"`
	MetricsPath string `yaml:"metrics_path"`
	DBPath      string `yaml:"db_path"`

	AutoSessionStartCount int    `yaml:"auto_session_start_count"`
	MinMessagesThreshold  int    `yaml:"min_messages_threshold"`
	MaxDatasetSize        int    `yaml:"max_dataset_size"`
	OracleMode            string `yaml:"oracle_mode"`
	BatchWindowSize       int    `yaml:"batch_window_size"`
	BatchOverlap          int    `yaml:"batch_overlap"`
	SlidingWindowSize     int    `yaml:"sliding_window_size"`
	VoteThreshold         int    `yaml:"vote_threshold"`
	MaxRetries            int    `yaml:"max_retries"`
	RetryBaseDelayMS      int    `yaml:"retry_base_delay_ms"`
	ChannelConcurrency    int    `yaml:"channel_concurrency"`

	LLMProvider     string  `yaml:"llm_provider"`
	LLMModel        string  `yaml:"llm_model"`
	LLMTemperature  float64 `yaml:"llm_temperature"`
	LLMMaxTokens    int     `yaml:"llm_max_tokens"`
	AnthropicAPIKey string  `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string  `yaml:"openai_api_key"`
	GeminiAPIKey    string  `yaml:"gemini_api_key"`
	LLMExamplesPath string  `yaml:"llm_examples_path"`
	LLMExampleCount int     `yaml:"llm_example_count"`

	ExternalHTTPTimeoutSeconds int `yaml:"external_http_timeout_seconds"`

	SavePromptsCount       int     `yaml:"save_prompts_count"`
	SavePromptsDir         string  `yaml:"save_prompts_dir"`
	SavePromptsProbability float64 `yaml:"save_prompts_probability"`
	SavePromptsSeed        uint64  `yaml:"save_prompts_seed"`

	ToleranceLevels      []int `yaml:"tolerance_levels"`
	EvaluationWindowSize int   `yaml:"evaluation_window_size"`
	EvaluationDetails    bool  `yaml:"evaluation_details"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`
	WatchSchedule  string `yaml:"watch_schedule"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Source is the file the config was read from, empty when none was found.
	Source string `yaml:"-"`
}

// Default returns the configuration used for every key the file and the
// environment leave unset. Zero is a meaningful value for several keys
// (auto_session_start_count, batch_overlap), so defaults are laid down
// before the YAML is decoded rather than filled in afterwards.
func Default() Config {
	seg := segment.DefaultOptions()
	return Config{
		DBPath:                     "./sessionsplit.db",
		AutoSessionStartCount:      seg.AutoMarkCount,
		MinMessagesThreshold:       seg.MinMessages,
		OracleMode:                 string(seg.Mode),
		BatchWindowSize:            seg.WindowSize,
		BatchOverlap:               seg.Overlap,
		SlidingWindowSize:          seg.ContextSize,
		VoteThreshold:              seg.VoteThreshold,
		MaxRetries:                 seg.MaxRetries,
		RetryBaseDelayMS:           int(seg.RetryBaseDelay / time.Millisecond),
		ChannelConcurrency:         seg.Concurrency,
		LLMProvider:                "anthropic",
		LLMTemperature:             0.1,
		LLMMaxTokens:               1024,
		LLMExampleCount:            5,
		ExternalHTTPTimeoutSeconds: defaultExternalHTTPTimeoutSeconds,
		SavePromptsDir:             "./prompts",
		SavePromptsProbability:     0.1,
		ToleranceLevels:            []int{1, 2, 3, 5},
		EvaluationWindowSize:       5,
		LogLevel:                   "info",
		LogFormat:                  "json",
	}
}

// Load reads path (or CONFIG_PATH, or sessionsplit.yaml when both are empty),
// applies environment overrides and validates the result. A missing file is
// only an error when the path was given explicitly.
func Load(path string) (Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
		if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
			path = envPath
			explicit = true
		}
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
		}
		cfg.Source = path
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var env overrides
	env.setString(&cfg.InputPath, "INPUT_PATH")
	env.setString(&cfg.OutputPath, "OUTPUT_PATH")
	env.setString(&cfg.MetricsPath, "METRICS_PATH")
	env.setString(&cfg.DBPath, "DB_PATH")
	env.setInt(&cfg.AutoSessionStartCount, "AUTO_SESSION_START_COUNT")
	env.setInt(&cfg.MinMessagesThreshold, "MIN_MESSAGES_THRESHOLD")
	env.setInt(&cfg.MaxDatasetSize, "MAX_DATASET_SIZE")
	env.setString(&cfg.OracleMode, "ORACLE_MODE")
	env.setInt(&cfg.BatchWindowSize, "BATCH_WINDOW_SIZE")
	env.setInt(&cfg.BatchOverlap, "BATCH_OVERLAP")
	env.setInt(&cfg.SlidingWindowSize, "SLIDING_WINDOW_SIZE")
	env.setInt(&cfg.VoteThreshold, "VOTE_THRESHOLD")
	env.setInt(&cfg.MaxRetries, "MAX_RETRIES")
	env.setInt(&cfg.RetryBaseDelayMS, "RETRY_BASE_DELAY_MS")
	env.setInt(&cfg.ChannelConcurrency, "CHANNEL_CONCURRENCY")
	env.setString(&cfg.LLMProvider, "LLM_PROVIDER")
	env.setString(&cfg.LLMModel, "LLM_MODEL")
	env.setFloat(&cfg.LLMTemperature, "LLM_TEMPERATURE")
	env.setInt(&cfg.LLMMaxTokens, "LLM_MAX_TOKENS")
	env.setString(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	env.setString(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	env.setString(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	env.setString(&cfg.LLMExamplesPath, "LLM_EXAMPLES_PATH")
	env.setInt(&cfg.LLMExampleCount, "LLM_EXAMPLE_COUNT")
	env.setInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS")
	env.setInt(&cfg.SavePromptsCount, "SAVE_PROMPTS_COUNT")
	env.setString(&cfg.SavePromptsDir, "SAVE_PROMPTS_DIR")
	env.setFloat(&cfg.SavePromptsProbability, "SAVE_PROMPTS_PROBABILITY")
	env.setUint(&cfg.SavePromptsSeed, "SAVE_PROMPTS_SEED")
	env.setInts(&cfg.ToleranceLevels, "TOLERANCE_LEVELS")
	env.setInt(&cfg.EvaluationWindowSize, "EVALUATION_WINDOW_SIZE")
	env.setBool(&cfg.EvaluationDetails, "EVALUATION_DETAILS")
	env.setString(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	env.setString(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	env.setString(&cfg.WatchSchedule, "WATCH_SCHEDULE")
	env.setString(&cfg.LogLevel, "LOG_LEVEL")
	env.setString(&cfg.LogFormat, "LOG_FORMAT")
	if len(env.errs) > 0 {
		return Config{}, fmt.Errorf("config: %s", strings.Join(env.errs, "; "))
	}

	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	cfg.OracleMode = strings.ToLower(strings.TrimSpace(cfg.OracleMode))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []string
	if err := c.SegmentOptions().Validate(); err != nil {
		errs = append(errs, err.Error())
	}
	switch c.LLMProvider {
	case "anthropic", "openai", "gemini":
	default:
		errs = append(errs, fmt.Sprintf("llm_provider must be 'anthropic', 'openai' or 'gemini', got '%s'", c.LLMProvider))
	}
	if c.LLMTemperature < 0 || c.LLMTemperature > 2 {
		errs = append(errs, fmt.Sprintf("invalid llm_temperature '%g': must be between 0 and 2", c.LLMTemperature))
	}
	if c.LLMMaxTokens < 1 {
		errs = append(errs, fmt.Sprintf("invalid llm_max_tokens '%d': must be >= 1", c.LLMMaxTokens))
	}
	if c.LLMExampleCount < 0 {
		errs = append(errs, fmt.Sprintf("invalid llm_example_count '%d': must be >= 0", c.LLMExampleCount))
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		errs = append(errs, fmt.Sprintf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds))
	}
	if c.SavePromptsCount < 0 {
		errs = append(errs, fmt.Sprintf("invalid save_prompts_count '%d': must be >= 0", c.SavePromptsCount))
	}
	if c.SavePromptsProbability < 0 || c.SavePromptsProbability > 1 {
		errs = append(errs, fmt.Sprintf("invalid save_prompts_probability '%g': must be between 0 and 1", c.SavePromptsProbability))
	}
	if len(c.ToleranceLevels) == 0 {
		errs = append(errs, "tolerance_levels must not be empty")
	}
	for _, k := range c.ToleranceLevels {
		if k < 0 {
			errs = append(errs, fmt.Sprintf("invalid tolerance level '%d': must be >= 0", k))
		}
	}
	if c.EvaluationWindowSize < 0 {
		errs = append(errs, fmt.Sprintf("invalid evaluation_window_size '%d': must be >= 0", c.EvaluationWindowSize))
	}
	if (c.SlackBotToken == "") != (c.SlackChannelID == "") {
		errs = append(errs, "slack_bot_token and slack_channel_id must be set together")
	}
	if c.WatchSchedule != "" {
		if _, err := schedule.Parse(c.WatchSchedule); err != nil {
			errs = append(errs, fmt.Sprintf("invalid watch_schedule '%s': %v", c.WatchSchedule, err))
		}
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Sprintf("invalid log_level '%s'", c.LogLevel))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log_format must be 'json' or 'console', got '%s'", c.LogFormat))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c Config) SegmentOptions() segment.Options {
	return segment.Options{
		Mode:           segment.Mode(c.OracleMode),
		AutoMarkCount:  c.AutoSessionStartCount,
		MinMessages:    c.MinMessagesThreshold,
		MaxDatasetSize: c.MaxDatasetSize,
		WindowSize:     c.BatchWindowSize,
		Overlap:        c.BatchOverlap,
		ContextSize:    c.SlidingWindowSize,
		VoteThreshold:  c.VoteThreshold,
		MaxRetries:     c.MaxRetries,
		RetryBaseDelay: time.Duration(c.RetryBaseDelayMS) * time.Millisecond,
		Concurrency:    c.ChannelConcurrency,
	}
}

// APIKey returns the key of the configured provider.
func (c Config) APIKey() string {
	switch c.LLMProvider {
	case "openai":
		return c.OpenAIAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return c.AnthropicAPIKey
	}
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

type overrides struct {
	errs []string
}

func (o *overrides) setString(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func (o *overrides) setInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			o.errs = append(o.errs, fmt.Sprintf("invalid %s '%s': %v", envKey, val, err))
			return
		}
		*field = parsed
	}
}

func (o *overrides) setUint(field *uint64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseUint(strings.TrimSpace(val), 10, 64)
		if err != nil {
			o.errs = append(o.errs, fmt.Sprintf("invalid %s '%s': %v", envKey, val, err))
			return
		}
		*field = parsed
	}
}

func (o *overrides) setFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			o.errs = append(o.errs, fmt.Sprintf("invalid %s '%s': %v", envKey, val, err))
			return
		}
		*field = parsed
	}
}

func (o *overrides) setBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = strings.EqualFold(val, "true") || val == "1"
	}
}

// setInts reads a comma-separated list such as "1,2,3,5".
func (o *overrides) setInts(field *[]int, envKey string) {
	val := os.Getenv(envKey)
	if val == "" {
		return
	}
	var out []int
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			o.errs = append(o.errs, fmt.Sprintf("invalid %s '%s': %v", envKey, val, err))
			return
		}
		out = append(out, n)
	}
	*field = out
}

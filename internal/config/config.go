// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/hyanglab/noticebot/internal/board"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Board   BoardConfig   `mapstructure:"board"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	OCR     OCRConfig     `mapstructure:"ocr"`
	Storage StorageConfig `mapstructure:"storage"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Answer  AnswerConfig  `mapstructure:"answer"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// BoardConfig points at the target bulletin board and its selectors. The
// listing is fetched from an AJAX endpoint when configured, with an HTML
// anchor scrape as fallback.
type BoardConfig struct {
	BaseURL          string            `mapstructure:"base_url"`
	AjaxListURL      string            `mapstructure:"ajax_list_url"`
	AjaxListParams   map[string]string `mapstructure:"ajax_list_params"`
	PagePerCount     int               `mapstructure:"page_per_count"`
	ListLinkSelector string            `mapstructure:"list_link_selector"`
	TitleSelectors   string            `mapstructure:"title_selectors"`
	ContentSelectors string            `mapstructure:"content_selectors"`
	DateSelectors    string            `mapstructure:"date_selectors"`
	PostIDParam      string            `mapstructure:"post_id_param"`
}

// HTTPConfig configures the fetcher's client and retry behavior.
type HTTPConfig struct {
	UserAgent        string  `mapstructure:"user_agent"`
	Proxy            string  `mapstructure:"proxy"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	RequestsPerSec   float64 `mapstructure:"requests_per_sec"`
}

// CrawlerConfig governs the crawl orchestrator.
type CrawlerConfig struct {
	MaxPagesDefault int `mapstructure:"max_pages_default"`
	Workers         int `mapstructure:"workers"`
	SafetyPageLimit int `mapstructure:"safety_page_limit"`
}

// OCRConfig configures the tesseract engine.
type OCRConfig struct {
	Binary         string `mapstructure:"binary"`
	Languages      string `mapstructure:"languages"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StorageConfig sets the on-disk data directory.
type StorageConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LLMConfig configures the embedding and generation provider.
type LLMConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKeyEnv      string `mapstructure:"api_key_env"`
	EmbedModel     string `mapstructure:"embed_model"`
	ChatModel      string `mapstructure:"chat_model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxRetries     int    `mapstructure:"max_retries"`
	BatchSize      int    `mapstructure:"batch_size"`
}

// AnswerConfig controls the chat answer path.
type AnswerConfig struct {
	TopKDefault     int `mapstructure:"top_k_default"`
	TimeoutSeconds  int `mapstructure:"timeout_seconds"`
	MaxContextChars int `mapstructure:"max_context_chars"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NOTICEBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.noticebot")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("board.base_url", "https://cs.kku.ac.kr/cms/FR_CON/index.do?MENU_ID=140")
	v.SetDefault("board.ajax_list_url", "https://cs.kku.ac.kr/ajax/FR_SVC/BBSViewList2.do")
	v.SetDefault("board.ajax_list_params", map[string]string{
		"MENU_ID":   "140",
		"SITE_NO":   "23",
		"BOARD_SEQ": "3",
	})
	v.SetDefault("board.page_per_count", 20)
	v.SetDefault("board.list_link_selector", "a[href*='index.do']")
	v.SetDefault("board.title_selectors", "h3, .subject, .title")
	v.SetDefault("board.content_selectors", "#contents, .contents, .bbs_view_content")
	v.SetDefault("board.date_selectors", ".date, .wdate")
	v.SetDefault("board.post_id_param", "BBS_SEQ")

	v.SetDefault("http.user_agent", "noticebot/1.0")
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 5000)
	v.SetDefault("http.requests_per_sec", 3)

	v.SetDefault("crawler.max_pages_default", 3)
	v.SetDefault("crawler.workers", 4)
	v.SetDefault("crawler.safety_page_limit", 200)

	v.SetDefault("ocr.binary", "tesseract")
	v.SetDefault("ocr.languages", "kor+eng")
	v.SetDefault("ocr.timeout_seconds", 30)

	v.SetDefault("storage.data_dir", "data")

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("llm.embed_model", "text-embedding-3-small")
	v.SetDefault("llm.chat_model", "gpt-4o-mini")
	v.SetDefault("llm.timeout_seconds", 30)
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.batch_size", 10)

	v.SetDefault("answer.top_k_default", 5)
	v.SetDefault("answer.timeout_seconds", 45)
	v.SetDefault("answer.max_context_chars", 1200)

	v.SetDefault("server.port", 8000)
	v.SetDefault("logging.development", false)
}

// Validate rejects configurations the pipeline cannot run with.
func (c Config) Validate() error {
	if c.Board.BaseURL == "" {
		return &board.ConfigurationError{Reason: "board.base_url is required"}
	}
	if c.Storage.DataDir == "" {
		return &board.ConfigurationError{Reason: "storage.data_dir is required"}
	}
	if c.Crawler.Workers < 1 {
		return &board.ConfigurationError{Reason: "crawler.workers must be positive"}
	}
	if c.Crawler.SafetyPageLimit < 1 {
		return &board.ConfigurationError{Reason: "crawler.safety_page_limit must be positive"}
	}
	if c.LLM.BatchSize < 1 {
		return &board.ConfigurationError{Reason: "llm.batch_size must be positive"}
	}
	if c.Answer.TopKDefault < 1 {
		return &board.ConfigurationError{Reason: "answer.top_k_default must be positive"}
	}
	return nil
}

// APIKey resolves the provider credential from the environment.
func (c LLMConfig) APIKey() (string, error) {
	key := os.Getenv(c.APIKeyEnv)
	if key == "" {
		return "", &board.ConfigurationError{Reason: c.APIKeyEnv + " is not set"}
	}
	return key, nil
}

// HTTPTimeout returns the fetcher timeout as a duration.
func (c HTTPConfig) HTTPTimeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

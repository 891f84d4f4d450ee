// Package config holds the engine configuration: criticality
// thresholds, NLP model settings, matcher tuning, rate limits and
// storage paths. Loaded from YAML with TENDERMATCH_* environment
// overrides on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	NLP       NLPConfig       `yaml:"nlp"`
	Matcher   MatcherConfig   `yaml:"matcher"`
	Search    SearchConfig    `yaml:"search"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StorageConfig locates the database and uploaded blobs.
type StorageConfig struct {
	Root                  string   `yaml:"root"`
	AllowedFileExtensions []string `yaml:"allowed_file_extensions"`
	MaxUploadSizeMB       int      `yaml:"max_upload_size_mb"`
}

// DatabasePath is the SQLite file under the storage root.
func (s StorageConfig) DatabasePath() string {
	return filepath.Join(s.Root, "tendermatch.db")
}

// AnalysisConfig carries the criticality thresholds. Alta must be at
// least media.
type AnalysisConfig struct {
	CriticitaMediaPercent float64 `yaml:"criticita_media_percent"`
	CriticitaAltaPercent  float64 `yaml:"criticita_alta_percent"`
}

// NLPConfig identifies the embedding model.
type NLPConfig struct {
	Provider       string `yaml:"provider"` // "ollama" or "genai"
	ModelID        string `yaml:"model_id"`
	MaxLength      int    `yaml:"max_length"`
	BatchSize      int    `yaml:"batch_size"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	GenAIAPIKey    string `yaml:"genai_api_key"`
}

// MatcherConfig exposes the empirical alignment thresholds. The
// defaults were tuned on production data; do not change them silently.
type MatcherConfig struct {
	PreferenceJaccard   float64 `yaml:"preference_jaccard"`    // wrapper preference threshold
	PreferenceMinDelta  float64 `yaml:"preference_min_delta"`  // tie-break margin
	BucketJaccard       float64 `yaml:"bucket_jaccard"`        // in-bucket acceptance
	LooseOverlap        float64 `yaml:"loose_overlap"`         // retry similarity
	DescriptionJaccard  float64 `yaml:"description_jaccard"`   // description-only fuzzy pass
	PriceStabilizeRatio float64 `yaml:"price_stabilize_ratio"` // |return|/|project| trigger
}

// SearchConfig tunes catalog search.
type SearchConfig struct {
	SemanticThreshold   float64 `yaml:"semantic_threshold"`
	MinScore            float64 `yaml:"min_score"`
	TopK                int     `yaml:"top_k"`
	LexicalFallbackFull bool    `yaml:"lexical_fallback_full"` // scan whole catalog instead of ANN candidates
}

// RateLimitConfig bounds login attempts and import requests with
// sliding windows keyed by client.
type RateLimitConfig struct {
	LoginAttempts      int `yaml:"login_rate_limit_attempts"`
	LoginWindowSeconds int `yaml:"login_rate_limit_window_seconds"`
	ImportPerMinute    int `yaml:"import_rate_limit_per_minute"`
}

// AuthConfig carries token lifetimes for the transport layer.
type AuthConfig struct {
	AccessTokenExpireMinutes  int `yaml:"access_token_expire_minutes"`
	RefreshTokenExpireMinutes int `yaml:"refresh_token_expire_minutes"`
}

// LoggingConfig gates debug output.
type LoggingConfig struct {
	DebugMode bool `yaml:"debug_mode"`
}

// DefaultConfig returns the stock configuration.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Root:                  "storage",
			AllowedFileExtensions: []string{".xls", ".xlsx", ".xlsm", ".six", ".xml"},
			MaxUploadSizeMB:       50,
		},
		Analysis: AnalysisConfig{
			CriticitaMediaPercent: 25,
			CriticitaAltaPercent:  50,
		},
		NLP: NLPConfig{
			Provider:       "ollama",
			ModelID:        "paraphrase-multilingual-mpnet-base-v2",
			MaxLength:      256,
			BatchSize:      32,
			OllamaEndpoint: "http://localhost:11434",
		},
		Matcher: MatcherConfig{
			PreferenceJaccard:   0.15,
			PreferenceMinDelta:  0.01,
			BucketJaccard:       0.05,
			LooseOverlap:        0.30,
			DescriptionJaccard:  0.30,
			PriceStabilizeRatio: 250,
		},
		Search: SearchConfig{
			SemanticThreshold:   0.58,
			MinScore:            0.2,
			TopK:                10,
			LexicalFallbackFull: false,
		},
		RateLimit: RateLimitConfig{
			LoginAttempts:      5,
			LoginWindowSeconds: 60,
			ImportPerMinute:    10,
		},
		Auth: AuthConfig{
			AccessTokenExpireMinutes:  30,
			RefreshTokenExpireMinutes: 60 * 24 * 7,
		},
	}
}

// Load reads configuration from path, falling back to defaults for
// anything unset, then applies environment overrides and validates.
// A missing file is not an error: defaults apply.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks internal consistency.
func (c *Config) Validate() error {
	if c.Analysis.CriticitaAltaPercent < c.Analysis.CriticitaMediaPercent {
		return fmt.Errorf("criticita_alta_percent (%.1f) must be >= criticita_media_percent (%.1f)",
			c.Analysis.CriticitaAltaPercent, c.Analysis.CriticitaMediaPercent)
	}
	if c.Search.MinScore < 0 || c.Search.MinScore > 1 {
		return fmt.Errorf("search min_score %.2f out of [0,1]", c.Search.MinScore)
	}
	if c.NLP.BatchSize <= 0 {
		return fmt.Errorf("nlp batch_size must be positive")
	}
	return nil
}

// applyEnvOverrides maps TENDERMATCH_* variables onto config fields.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("TENDERMATCH_STORAGE_ROOT"); v != "" {
		c.Storage.Root = v
	}
	if v := os.Getenv("TENDERMATCH_NLP_MODEL_ID"); v != "" {
		c.NLP.ModelID = v
	}
	if v := os.Getenv("TENDERMATCH_NLP_PROVIDER"); v != "" {
		c.NLP.Provider = v
	}
	if v := os.Getenv("TENDERMATCH_OLLAMA_ENDPOINT"); v != "" {
		c.NLP.OllamaEndpoint = v
	}
	if v := os.Getenv("TENDERMATCH_GENAI_API_KEY"); v != "" {
		c.NLP.GenAIAPIKey = v
	}
	if v, ok := envFloat("TENDERMATCH_CRITICITA_MEDIA_PERCENT"); ok {
		c.Analysis.CriticitaMediaPercent = v
	}
	if v, ok := envFloat("TENDERMATCH_CRITICITA_ALTA_PERCENT"); ok {
		c.Analysis.CriticitaAltaPercent = v
	}
	if v, ok := envInt("TENDERMATCH_IMPORT_RATE_LIMIT_PER_MINUTE"); ok {
		c.RateLimit.ImportPerMinute = v
	}
	if v := os.Getenv("TENDERMATCH_DEBUG"); v == "1" || v == "true" {
		c.Logging.DebugMode = true
	}
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return i, true
}

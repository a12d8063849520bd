package tenderlens

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration for the TenderLens engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.tenderlens/tenderlens.db.
	DBPath string `json:"db_path" yaml:"db_path"`

	// WorkDir is the base directory for per-document artifact directories.
	// If empty, defaults to ~/.tenderlens/work.
	WorkDir string `json:"work_dir" yaml:"work_dir"`

	// Vision configures the multimodal inference provider used for image
	// classification and field extraction.
	Vision LLMConfig `json:"vision" yaml:"vision"`

	// Automation configures the optional native-automation bridge. When
	// BridgeURL is empty or the bridge does not answer the health probe,
	// the package (library-only) backend is used.
	Automation AutomationConfig `json:"automation" yaml:"automation"`

	// HeadingStylePattern overrides the regexp used to match heading style
	// names in the package backend. Empty means the built-in default, which
	// accepts "Heading N", "heading N" and the Chinese "标题 N" styles.
	HeadingStylePattern string `json:"heading_style_pattern" yaml:"heading_style_pattern"`

	// SplitLevel is the outline level sections are split at. Defaults to 1.
	SplitLevel int `json:"split_level" yaml:"split_level"`

	// SingleSectionFallback makes a document with no detected headings
	// proceed as a single section covering the whole body instead of
	// failing the run. Off by default: the fallback must be explicit.
	SingleSectionFallback bool `json:"single_section_fallback" yaml:"single_section_fallback"`

	// ContextWindowChars bounds the text gathered on each side of an image
	// when building its classification context. Defaults to 400.
	ContextWindowChars int `json:"context_window_chars" yaml:"context_window_chars"`

	// MaxConcurrentRuns bounds parallel processing runs across documents.
	// Defaults to 2.
	MaxConcurrentRuns int `json:"max_concurrent_runs" yaml:"max_concurrent_runs"`

	// StageTimeout bounds a single pipeline stage, including its inference
	// calls. Defaults to 10 minutes.
	StageTimeout time.Duration `json:"stage_timeout" yaml:"stage_timeout"`

	// NameDistance is the maximum Levenshtein distance at which a project
	// name extracted from a bid document still counts as matching the
	// tender descriptor. Project numbers always require an exact match
	// after normalization. Defaults to 2.
	NameDistance int `json:"name_distance" yaml:"name_distance"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // dashscope, ark, openai, ollama, custom
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// AutomationConfig configures the native-automation bridge.
type AutomationConfig struct {
	BridgeURL string `json:"bridge_url" yaml:"bridge_url"`
	// RetryAttempts bounds busy-retries against the bridge. Defaults to 5.
	RetryAttempts int `json:"retry_attempts" yaml:"retry_attempts"`
}

// DefaultConfig returns a Config with sensible defaults for local use.
func DefaultConfig() Config {
	return Config{
		Vision: LLMConfig{
			Provider: "dashscope",
			Model:    "qwen-vl-max",
		},
		SplitLevel:         1,
		ContextWindowChars: 400,
		MaxConcurrentRuns:  2,
		StageTimeout:       10 * time.Minute,
		NameDistance:       2,
		Automation: AutomationConfig{
			RetryAttempts: 5,
		},
	}
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "tenderlens.db"
	}
	return filepath.Join(home, ".tenderlens", "tenderlens.db")
}

// resolveWorkDir computes the artifact base directory.
func (c *Config) resolveWorkDir() string {
	if c.WorkDir != "" {
		return c.WorkDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "tenderlens-work"
	}
	return filepath.Join(home, ".tenderlens", "work")
}

package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Known analysis section names for DisabledSections validation.
var KnownSections = []string{"tasks", "themes", "questions", "insights"}

// Config holds application configuration.
type Config struct {
	// DriveFolder is the name of the monitored Google Drive folder.
	DriveFolder string `json:"drive_folder"`

	// RetentionDays is the age in days after which remote files are deleted
	// by the post-pass sweep. Zero or negative disables the sweep.
	RetentionDays int `json:"retention_days"`

	// MinTextChars is the minimum extracted-text length considered useful.
	// Shorter extractions fall back to a filename-based placeholder; the
	// file is still analyzed and written.
	MinTextChars int `json:"min_text_chars"`

	// MaxTags caps the number of tags kept per note.
	MaxTags int `json:"max_tags"`

	// Model, MaxTokens, and Temperature are passed through to the analysis
	// service.
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`

	// RequestTimeoutSecs bounds every remote call (download, analysis,
	// retention delete). A timed-out file counts as a per-file failure.
	RequestTimeoutSecs int `json:"request_timeout_secs"`

	// DisabledSections lists analysis sections to omit entirely.
	// Known sections: tasks, themes, questions, insights.
	DisabledSections []string `json:"disabled_sections,omitempty"`

	// VaultPath is the root of the markdown vault. The INKSYNC_VAULT
	// environment variable takes precedence.
	VaultPath string `json:"vault_path,omitempty"`

	// TempDir and ProcessedPath default to locations under the base dir.
	TempDir       string `json:"temp_dir,omitempty"`
	ProcessedPath string `json:"processed_path,omitempty"`

	// DBMaxOpenConns limits open database connections. If set to 1, all
	// database access is serialized. 0 means use sql.DB default.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits idle database connections. 0 means default.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DriveFolder:        "Scans",
		RetentionDays:      30,
		MinTextChars:       20,
		MaxTags:            10,
		Model:              "claude-3-5-sonnet-latest",
		MaxTokens:          4000,
		Temperature:        0.3,
		RequestTimeoutSecs: 120,
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.inksync.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	merged := Merge(DefaultConfig(), cfg)
	merged.applyDefaults(baseDir)
	return merged, nil
}

// applyDefaults fills path fields and environment overrides.
func (c *Config) applyDefaults(baseDir string) {
	if env := os.Getenv("INKSYNC_VAULT"); env != "" {
		c.VaultPath = env
	}
	if c.TempDir == "" {
		c.TempDir = filepath.Join(baseDir, "tmp")
	}
	if c.ProcessedPath == "" {
		c.ProcessedPath = filepath.Join(baseDir, "processed.txt")
	}
}

// RequestTimeout returns the per-call timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSecs) * time.Second
}

// SectionEnabled reports whether an analysis section is enabled.
func (c *Config) SectionEnabled(name string) bool {
	for _, s := range c.DisabledSections {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return false
		}
	}
	return true
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Merge treats zero ints as unset, but an explicit "retention_days": 0
	// is an opt-out of the remote sweep. Carry it through as a negative
	// disable so the default cannot silently re-enable deletion.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err == nil {
		if _, ok := raw["retention_days"]; ok && cfg.RetentionDays == 0 {
			cfg.RetentionDays = -1
		}
	}

	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.DriveFolder = overlayString(base.DriveFolder, overlay.DriveFolder)
	result.Model = overlayString(base.Model, overlay.Model)
	result.VaultPath = overlayString(base.VaultPath, overlay.VaultPath)
	result.TempDir = overlayString(base.TempDir, overlay.TempDir)
	result.ProcessedPath = overlayString(base.ProcessedPath, overlay.ProcessedPath)

	result.RetentionDays = overlayInt(base.RetentionDays, overlay.RetentionDays)
	result.MinTextChars = overlayInt(base.MinTextChars, overlay.MinTextChars)
	result.MaxTags = overlayInt(base.MaxTags, overlay.MaxTags)
	result.MaxTokens = overlayInt(base.MaxTokens, overlay.MaxTokens)
	result.RequestTimeoutSecs = overlayInt(base.RequestTimeoutSecs, overlay.RequestTimeoutSecs)
	result.DBMaxOpenConns = overlayInt(base.DBMaxOpenConns, overlay.DBMaxOpenConns)
	result.DBMaxIdleConns = overlayInt(base.DBMaxIdleConns, overlay.DBMaxIdleConns)

	result.Temperature = overlay.Temperature
	if result.Temperature == 0 {
		result.Temperature = base.Temperature
	}

	result.DisabledSections = mergeStringSlice(base.DisabledSections, overlay.DisabledSections)

	return result
}

func overlayString(base, overlay string) string {
	if strings.TrimSpace(overlay) != "" {
		return overlay
	}
	return base
}

func overlayInt(base, overlay int) int {
	if overlay != 0 {
		return overlay
	}
	return base
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}

// ValidateDisabledSections returns unknown section names from the given list.
func ValidateDisabledSections(names []string) []string {
	known := make(map[string]bool, len(KnownSections))
	for _, s := range KnownSections {
		known[s] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[strings.ToLower(strings.TrimSpace(name))] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// AnalysisConfig tunes prompt construction. It is loaded from an optional
// analysis.yaml in the base dir; a missing file yields the defaults.
type AnalysisConfig struct {
	// TagCategories seeds the tag-suggestion portion of the prompt.
	TagCategories []string `yaml:"tag_categories"`

	// SectionHints adds per-section guidance lines to the prompt, keyed by
	// section name (tasks, themes, questions, insights).
	SectionHints map[string]string `yaml:"section_hints"`

	// Weekly controls the weekly rollup summary.
	Weekly struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"weekly"`
}

// DefaultAnalysisConfig returns the default analysis tuning.
func DefaultAnalysisConfig() *AnalysisConfig {
	cfg := &AnalysisConfig{
		TagCategories: []string{
			"work", "personal", "project", "meeting", "idea",
			"learning", "health", "finance", "journal",
		},
	}
	cfg.Weekly.Enabled = true
	return cfg
}

// LoadAnalysis loads analysis tuning from baseDir/analysis.yaml.
// Returns defaults if the file doesn't exist.
func LoadAnalysis(baseDir string) (*AnalysisConfig, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, "analysis.yaml"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAnalysisConfig(), nil
		}
		return nil, err
	}

	cfg := DefaultAnalysisConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if len(cfg.TagCategories) == 0 {
		cfg.TagCategories = DefaultAnalysisConfig().TagCategories
	}
	return cfg, nil
}

package analyze

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"inksync/internal/config"
	apperrors "inksync/internal/errors"
	syncer "inksync/internal/sync"
)

// Completer is the completion backend. *Client satisfies it; tests
// substitute a canned responder.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Analyzer implements sync.Analyzer on top of a Completer: it builds
// the analysis prompt, sends it, and parses the markdown response into
// structured sections.
type Analyzer struct {
	client        Completer
	maxTags       int
	disabled      map[string]bool
	hints         map[string]string
	tagCategories []string
	logger        *slog.Logger
}

// NewAnalyzer wires a Completer with the prompt tuning from config.
func NewAnalyzer(client Completer, cfg *config.Config, tuning *config.AnalysisConfig, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	disabled := make(map[string]bool, len(cfg.DisabledSections))
	for _, s := range cfg.DisabledSections {
		disabled[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return &Analyzer{
		client:        client,
		maxTags:       cfg.MaxTags,
		disabled:      disabled,
		hints:         tuning.SectionHints,
		tagCategories: tuning.TagCategories,
		logger:        logger,
	}
}

func (a *Analyzer) sectionEnabled(key string) bool {
	return !a.disabled[key]
}

// Analyze implements sync.Analyzer.
func (a *Analyzer) Analyze(ctx context.Context, text, filename string) (*syncer.Analysis, error) {
	a.logger.Info("analyzing note", "file", filename, "chars", len(text))

	response, err := a.client.Complete(ctx, a.buildPrompt(text))
	if err != nil {
		return nil, err
	}

	analysis := &syncer.Analysis{
		FullText:     response,
		OriginalText: text,
		Tags:         extractTags(response, a.maxTags),
		Summary:      ExtractSection(response, titleSummary),
		Metadata:     ExtractSection(response, titleMetadata),
	}
	if a.sectionEnabled("tasks") {
		analysis.Tasks = ExtractSection(response, titleTasks)
	}
	if a.sectionEnabled("themes") {
		analysis.Themes = ExtractSection(response, titleThemes)
	}
	if a.sectionEnabled("questions") {
		analysis.Questions = ExtractSection(response, titleQuestions)
	}
	if a.sectionEnabled("insights") {
		analysis.Insights = ExtractSection(response, titleInsights)
	}
	return analysis, nil
}

// WeeklySummary rolls a week's analyses into one summary document body.
// Empty input yields an empty summary without a model call.
func (a *Analyzer) WeeklySummary(ctx context.Context, analyses []*syncer.Analysis) (string, error) {
	if len(analyses) == 0 {
		return "", nil
	}

	var tasks, themes, questions []string
	for _, n := range analyses {
		if n.Tasks != "" {
			tasks = append(tasks, n.Tasks)
		}
		if n.Themes != "" {
			themes = append(themes, n.Themes)
		}
		if n.Questions != "" {
			questions = append(questions, n.Questions)
		}
	}

	a.logger.Info("generating weekly summary", "notes", len(analyses))
	summary, err := a.client.Complete(ctx, buildWeeklyPrompt(len(analyses), tasks, themes, questions))
	if err != nil {
		return "", apperrors.NewAnalysisFailed("weekly summary", err)
	}
	return summary, nil
}

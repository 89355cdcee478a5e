package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"inksync/internal/analyze"
	"inksync/internal/config"
	"inksync/internal/db"
	"inksync/internal/drive"
	apperrors "inksync/internal/errors"
	"inksync/internal/extract"
	syncer "inksync/internal/sync"
	"inksync/internal/vault"
	"inksync/internal/web"
)

// newCLIApp creates the CLI application with all commands.
func newCLIApp(database *sql.DB, cfg *config.Config, baseDir string) *cli.App {
	app := &cli.App{
		Name:    "inksync",
		Usage:   "Sync handwritten scans into a searchable markdown vault",
		Version: Version,
		Commands: []*cli.Command{
			syncCmd(database, cfg, baseDir),
			statusCmd(database),
			historyCmd(database),
			searchCmd(database),
			reprocessCmd(cfg),
			trackerCmd(database, cfg),
			weeklyCmd(database, cfg, baseDir),
			webCmd(database, cfg),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// noteOutput is the CLI JSON shape for one note index row.
type noteOutput struct {
	ID          string   `json:"id"`
	FileID      string   `json:"file_id"`
	FileName    string   `json:"file_name"`
	NotePath    string   `json:"note_path"`
	Summary     string   `json:"summary,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	ScannedAt   string   `json:"scanned_at"`
	ProcessedAt string   `json:"processed_at"`
}

// runOutput is the CLI JSON shape for one recorded sync pass.
type runOutput struct {
	ID         string            `json:"id"`
	StartedAt  string            `json:"started_at"`
	FinishedAt string            `json:"finished_at,omitempty"`
	Listed     int               `json:"listed"`
	Skipped    int               `json:"skipped"`
	Succeeded  int               `json:"succeeded"`
	Failed     int               `json:"failed"`
	Deleted    int               `json:"deleted"`
	Failures   map[string]string `json:"failures,omitempty"`
}

func noteToOutput(n *db.Note) noteOutput {
	return noteOutput{
		ID:          n.ID,
		FileID:      n.FileID,
		FileName:    n.FileName,
		NotePath:    n.NotePath,
		Summary:     n.Summary,
		Tags:        n.Tags,
		ScannedAt:   formatUnix(n.ScannedAt),
		ProcessedAt: formatUnix(n.ProcessedAt),
	}
}

func runToOutput(r *db.Run) runOutput {
	return runOutput{
		ID:         r.ID,
		StartedAt:  formatUnix(r.StartedAt),
		FinishedAt: formatUnix(r.FinishedAt),
		Listed:     r.Listed,
		Skipped:    r.Skipped,
		Succeeded:  r.Succeeded,
		Failed:     r.Failed,
		Deleted:    r.Deleted,
		Failures:   r.Failures,
	}
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}

// syncCmd creates the sync command.
func syncCmd(database *sql.DB, cfg *config.Config, baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run one sync pass: list, process new scans, sweep old remote files",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "folder", Aliases: []string{"f"}, Usage: "Override the monitored Drive folder"},
			&cli.BoolFlag{Name: "verbose", Usage: "Log progress to stderr"},
		},
		Action: func(c *cli.Context) error {
			logger := newLogger(c.Bool("verbose"))

			folder := cfg.DriveFolder
			if f := c.String("folder"); f != "" {
				folder = f
			}

			source, err := buildSource(logger)
			if err != nil {
				return outputError(err)
			}
			analyzer, err := buildAnalyzer(cfg, baseDir, logger)
			if err != nil {
				return outputError(err)
			}
			writer, err := buildWriter(cfg, logger)
			if err != nil {
				return outputError(err)
			}
			sink := vault.NewSink(writer, database, logger)

			store, err := syncer.OpenFileStore(cfg.ProcessedPath, logger)
			if err != nil {
				return outputError(err)
			}
			defer store.Close()

			orch := syncer.New(source, extract.NewPDF(), analyzer, sink, store, syncer.Options{
				Folder:        folder,
				RetentionDays: cfg.RetentionDays,
				MinTextChars:  cfg.MinTextChars,
				TempDir:       cfg.TempDir,
				Timeout:       cfg.RequestTimeout(),
			}, logger)

			outcome, runErr := orch.RunPass(c.Context)
			if outcome != nil {
				if err := recordRun(database, outcome); err != nil {
					logger.Error("failed to record run", "run_id", outcome.RunID, "error", err)
				}
			}
			if runErr != nil {
				return outputError(runErr)
			}

			if err := writer.RefreshTracker(database, time.Now()); err != nil {
				logger.Error("failed to refresh task tracker", "error", err)
			}
			return outputJSON(outcome)
		},
	}
}

// recordRun persists a pass outcome to the run history.
func recordRun(database *sql.DB, o *syncer.Outcome) error {
	var failures map[string]string
	if len(o.Failures) > 0 {
		failures = make(map[string]string, len(o.Failures))
		for _, f := range o.Failures {
			failures[f.FileID] = f.Reason
		}
	}
	return db.InsertRun(database, &db.Run{
		ID:         o.RunID,
		StartedAt:  o.StartedAt.Unix(),
		FinishedAt: o.FinishedAt.Unix(),
		Listed:     o.Listed,
		Skipped:    o.Skipped,
		Succeeded:  o.Succeeded,
		Failed:     o.Failed(),
		Deleted:    len(o.Deleted),
		Failures:   failures,
	})
}

// statusCmd creates the status command.
func statusCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the most recent sync pass",
		Action: func(c *cli.Context) error {
			run, err := db.LatestRun(database)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(runToOutput(run))
		},
	}
}

// historyCmd creates the history command.
func historyCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "List recent sync passes, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum runs to return"},
		},
		Action: func(c *cli.Context) error {
			runs, err := db.ListRuns(database, c.Int("limit"))
			if err != nil {
				return outputError(err)
			}
			out := make([]runOutput, 0, len(runs))
			for _, r := range runs {
				out = append(out, runToOutput(r))
			}
			return outputJSON(struct {
				Runs  []runOutput `json:"runs"`
				Count int         `json:"count"`
			}{out, len(out)})
		},
	}
}

// searchCmd creates the search command.
func searchCmd(database *sql.DB) *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search note summaries, file names, and tags",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Maximum notes to return"},
		},
		Action: func(c *cli.Context) error {
			query := strings.TrimSpace(c.Args().First())
			if query == "" {
				return outputError(apperrors.NewInvalidRequest("query is required"))
			}

			notes, err := db.SearchNotes(database, query, c.Int("limit"))
			if err != nil {
				return outputError(err)
			}
			out := make([]noteOutput, 0, len(notes))
			for _, n := range notes {
				out = append(out, noteToOutput(n))
			}
			return outputJSON(struct {
				Notes []noteOutput `json:"notes"`
				Count int          `json:"count"`
			}{out, len(out)})
		},
	}
}

// reprocessCmd creates the reprocess command.
func reprocessCmd(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:      "reprocess",
		Usage:     "Drop a file from the processed set so the next sync runs it again",
		ArgsUsage: "<file-id>",
		Action: func(c *cli.Context) error {
			fileID := strings.TrimSpace(c.Args().First())
			if fileID == "" {
				return outputError(apperrors.NewInvalidRequest("file-id is required"))
			}

			store, err := syncer.OpenFileStore(cfg.ProcessedPath, nil)
			if err != nil {
				return outputError(err)
			}
			defer store.Close()

			if err := store.Remove(fileID); err != nil {
				return outputError(err)
			}
			return outputJSON(struct {
				FileID  string `json:"file_id"`
				Removed bool   `json:"removed"`
			}{fileID, true})
		},
	}
}

// trackerCmd creates the tracker command.
func trackerCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "tracker",
		Usage: "Regenerate the task tracker from the task index",
		Action: func(c *cli.Context) error {
			writer, err := buildWriter(cfg, nil)
			if err != nil {
				return outputError(err)
			}
			if err := writer.RefreshTracker(database, time.Now()); err != nil {
				return outputError(err)
			}
			return outputJSON(struct {
				Tracker string `json:"tracker"`
			}{writer.TrackerPath()})
		},
	}
}

// weeklyCmd creates the weekly command.
func weeklyCmd(database *sql.DB, cfg *config.Config, baseDir string) *cli.Command {
	return &cli.Command{
		Name:  "weekly",
		Usage: "Generate the weekly summary from this week's notes",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Usage: "Log progress to stderr"},
		},
		Action: func(c *cli.Context) error {
			logger := newLogger(c.Bool("verbose"))

			tuning, err := config.LoadAnalysis(baseDir)
			if err != nil {
				return outputError(err)
			}
			if !tuning.Weekly.Enabled {
				return outputError(apperrors.NewInvalidRequest("weekly summaries are disabled in analysis.yaml"))
			}

			weekStart := startOfWeek(time.Now())

			notes, err := db.NotesSince(database, weekStart)
			if err != nil {
				return outputError(err)
			}

			analyses := make([]*syncer.Analysis, 0, len(notes))
			for _, n := range notes {
				a, err := analysisFromNoteFile(n.NotePath)
				if err != nil {
					logger.Warn("skipping unreadable note", "path", n.NotePath, "error", err)
					continue
				}
				analyses = append(analyses, a)
			}

			out := struct {
				WeekStart string `json:"week_start"`
				Notes     int    `json:"notes"`
				Path      string `json:"path,omitempty"`
			}{WeekStart: weekStart.Format("2006-01-02"), Notes: len(analyses)}

			if len(analyses) == 0 {
				return outputJSON(out)
			}

			analyzer, err := buildAnalyzer(cfg, baseDir, logger)
			if err != nil {
				return outputError(err)
			}
			writer, err := buildWriter(cfg, logger)
			if err != nil {
				return outputError(err)
			}

			summary, err := analyzer.WeeklySummary(c.Context, analyses)
			if err != nil {
				return outputError(err)
			}
			path, err := writer.WriteWeeklySummary(weekStart, summary, time.Now())
			if err != nil {
				return outputError(err)
			}

			out.Path = path
			return outputJSON(out)
		},
	}
}

// webCmd creates the web command.
func webCmd(database *sql.DB, cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "web",
		Usage: "Serve the status and browsing UI",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Bind address"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8080, Usage: "Listen port"},
		},
		Action: func(c *cli.Context) error {
			port := c.Int("port")
			if port < 1 || port > 65535 {
				return outputError(apperrors.NewInvalidRequest("port must be between 1 and 65535"))
			}
			srv := web.NewServer(database, cfg, Version, c.String("bind"), port)
			return web.Run(srv)
		},
	}
}

// Wiring helpers

func newLogger(verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func buildSource(logger *slog.Logger) (*drive.Source, error) {
	tokens, err := drive.NewOAuthTokenSourceFromEnv()
	if err != nil {
		return nil, err
	}
	return drive.NewSource(drive.NewClient(tokens, nil, logger)), nil
}

func buildAnalyzer(cfg *config.Config, baseDir string, logger *slog.Logger) (*analyze.Analyzer, error) {
	client, err := analyze.NewClientFromEnv(cfg.Model, cfg.MaxTokens, cfg.Temperature, logger)
	if err != nil {
		return nil, err
	}
	tuning, err := config.LoadAnalysis(baseDir)
	if err != nil {
		return nil, err
	}
	return analyze.NewAnalyzer(client, cfg, tuning, logger), nil
}

func buildWriter(cfg *config.Config, logger *slog.Logger) (*vault.Writer, error) {
	if strings.TrimSpace(cfg.VaultPath) == "" {
		return nil, apperrors.NewInvalidRequest("vault path not configured; set INKSYNC_VAULT or vault_path in config.json")
	}
	return vault.NewWriter(cfg.VaultPath, logger)
}

// startOfWeek returns midnight on the Monday of now's week.
func startOfWeek(now time.Time) time.Time {
	back := (int(now.Weekday()) + 6) % 7
	day := now.AddDate(0, 0, -back)
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
}

// analysisFromNoteFile reconstructs the analysis sections from a written
// vault note so the weekly rollup can reuse them without re-running the
// model per note.
func analysisFromNoteFile(path string) (*syncer.Analysis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := string(data)
	return &syncer.Analysis{
		Summary:   noteSection(text, "Summary"),
		Tasks:     noteSection(text, "Tasks & Action Items"),
		Themes:    noteSection(text, "Key Themes & Topics"),
		Questions: noteSection(text, "Questions & Open Items"),
	}, nil
}

// noteSection extracts a note section, treating the writer's "*No ...*"
// placeholder lines as empty.
func noteSection(text, title string) string {
	body := analyze.ExtractSection(text, title)
	if strings.HasPrefix(body, "*No ") {
		return ""
	}
	return body
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if syncErr, ok := err.(*apperrors.SyncError); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", syncErr.Code, syncErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

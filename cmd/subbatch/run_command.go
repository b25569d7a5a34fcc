package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"subbatch/internal/batch"
	"subbatch/internal/config"
	"subbatch/internal/engine"
	"subbatch/internal/history"
	"subbatch/internal/notifications"
	"subbatch/internal/runner"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var jobs int
	var timeout int
	var sourceLang string
	var targetLang string
	var engineCommand string
	var outputSuffix string
	var noVerify bool
	var noHistory bool
	var quiet bool

	cmd := &cobra.Command{
		Use:   "run <file|dir>...",
		Short: "Translate a batch of subtitle files",
		Long: `Run translates every listed SRT file, or every SRT file inside listed
directories, through the configured engine command. Jobs execute on a fixed
number of slots; interrupting the run cancels pending jobs and lets running
ones drain.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("jobs") {
				cfg.Batch.Concurrency = jobs
			}
			if flags.Changed("timeout") {
				cfg.Batch.PerJobTimeout = timeout
			}
			if flags.Changed("source") {
				cfg.Engine.SourceLang = sourceLang
			}
			if flags.Changed("target") {
				cfg.Engine.TargetLang = targetLang
			}
			if flags.Changed("engine") {
				cfg.Engine.Command = engineCommand
			}
			if flags.Changed("suffix") {
				cfg.Engine.OutputSuffix = outputSuffix
			}
			if noVerify {
				cfg.Verify.Enabled = false
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			reqs, labels, err := collectRequests(cfg, args)
			if err != nil {
				return err
			}

			logger, err := ctx.buildLogger()
			if err != nil {
				return err
			}

			var ledger *history.Store
			if cfg.History.Enabled && !noHistory {
				ledger, err = history.Open(cfg.HistoryPath())
				if err != nil {
					return fmt.Errorf("open history ledger: %w", err)
				}
				defer ledger.Close()
			}

			exec := engine.NewCommand(cfg, logger)
			notifier := notifications.NewService(cfg)
			run, err := runner.New(cfg, logger, exec, notifier, ledger)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			printer := &progressPrinter{
				out:      out,
				labels:   labels,
				colorize: shouldColorize(os.Stdout),
				quiet:    quiet,
			}

			fmt.Fprintf(out, "Translating %d file(s) on %d slot(s)\n", len(reqs), cfg.Batch.Concurrency)
			snap, err := run.Run(runCtx, reqs, printer.handle)
			if err != nil {
				return err
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, renderResults(snap, labels, printer.colorize))
			stats := snap.Stats
			fmt.Fprintf(out, "Completed %d, failed %d, cancelled %d of %d\n",
				stats.Completed, stats.Failed, stats.Cancelled, stats.Total)
			if stats.Failed > 0 {
				return fmt.Errorf("%d of %d jobs failed", stats.Failed, stats.Total)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "Number of concurrent translation slots")
	cmd.Flags().IntVar(&timeout, "timeout", 0, "Per-job timeout in seconds (0 disables)")
	cmd.Flags().StringVar(&sourceLang, "source", "", "Source language tag")
	cmd.Flags().StringVar(&targetLang, "target", "", "Target language tag")
	cmd.Flags().StringVar(&engineCommand, "engine", "", "Translation engine command")
	cmd.Flags().StringVar(&outputSuffix, "suffix", "", "Suffix inserted before the output file extension")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "Skip output verification")
	cmd.Flags().BoolVar(&noHistory, "no-history", false, "Skip recording the run in history")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress per-job progress lines")
	return cmd
}

// collectRequests expands the run arguments into one request per SRT file.
// Directory arguments contribute every *.srt file they contain, sorted by
// name. Duplicate paths collapse into a single request.
func collectRequests(cfg *config.Config, args []string) ([]batch.Request, map[string]string, error) {
	seen := make(map[string]bool)
	var paths []string
	for _, arg := range args {
		path, err := config.ExpandPath(arg)
		if err != nil {
			return nil, nil, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, nil, fmt.Errorf("inspect %q: %w", arg, err)
		}
		if info.IsDir() {
			matches, err := filepath.Glob(filepath.Join(path, "*.srt"))
			if err != nil {
				return nil, nil, err
			}
			if len(matches) == 0 {
				return nil, nil, fmt.Errorf("no .srt files found in %s", path)
			}
			sort.Strings(matches)
			for _, match := range matches {
				if !seen[match] {
					seen[match] = true
					paths = append(paths, match)
				}
			}
			continue
		}
		if !seen[path] {
			seen[path] = true
			paths = append(paths, path)
		}
	}

	reqs := make([]batch.Request, 0, len(paths))
	labels := make(map[string]string, len(paths))
	for _, path := range paths {
		id := uuid.NewString()
		reqs = append(reqs, batch.Request{
			ID: id,
			Source: batch.Source{
				Path:       path,
				Engine:     cfg.Engine.Command,
				SourceLang: cfg.Engine.SourceLang,
				TargetLang: cfg.Engine.TargetLang,
			},
		})
		labels[id] = filepath.Base(path)
	}
	return reqs, labels, nil
}

func renderResults(snap batch.Snapshot, labels map[string]string, colorize bool) string {
	rows := make([][]string, 0, len(snap.Jobs))
	for _, job := range snap.Jobs {
		label := labels[job.ID]
		if label == "" {
			label = job.ID
		}
		detail := job.OutputRef
		switch {
		case job.ErrorMessage != "":
			detail = job.ErrorMessage
		case job.Warning != "":
			detail = fmt.Sprintf("%s (%s)", job.OutputRef, job.Warning)
		}
		rows = append(rows, []string{
			label,
			colorizeStatus(job.Status, colorize),
			fmt.Sprintf("%d%%", job.ProgressPercent),
			detail,
		})
	}
	return renderTable([]string{"File", "Status", "Progress", "Detail"}, rows, 3)
}

// progressPrinter renders scheduler events as console lines. Handlers run on
// the dispatch goroutine, so no locking is needed.
type progressPrinter struct {
	out      io.Writer
	labels   map[string]string
	colorize bool
	quiet    bool
}

func (p *progressPrinter) label(id string) string {
	if label := p.labels[id]; label != "" {
		return label
	}
	return id
}

func (p *progressPrinter) handle(ev batch.Event) {
	switch ev.Type {
	case batch.EventJobStarted:
		fmt.Fprintf(p.out, "%-9s %s\n", colorizeStatus(batch.StatusRunning, p.colorize), p.label(ev.JobID))
	case batch.EventJobProgress:
		if p.quiet {
			return
		}
		line := fmt.Sprintf("%9d%% %s", ev.Percent, p.label(ev.JobID))
		if msg := strings.TrimSpace(ev.Message); msg != "" {
			line += " " + msg
		}
		fmt.Fprintln(p.out, line)
	case batch.EventJobCompleted:
		suffix := ""
		if ev.Warning != "" {
			suffix = " (" + ev.Warning + ")"
		}
		fmt.Fprintf(p.out, "%-9s %s%s\n", colorizeStatus(batch.StatusCompleted, p.colorize), p.label(ev.JobID), suffix)
	case batch.EventJobFailed:
		fmt.Fprintf(p.out, "%-9s %s: %s\n", colorizeStatus(batch.StatusFailed, p.colorize), p.label(ev.JobID), ev.Message)
	case batch.EventJobCancelled:
		fmt.Fprintf(p.out, "%-9s %s\n", colorizeStatus(batch.StatusCancelled, p.colorize), p.label(ev.JobID))
	case batch.EventBatchProgress:
		if p.quiet {
			return
		}
		fmt.Fprintf(p.out, "batch: %d/%d done\n", ev.Stats.CurrentIndex, ev.Stats.Total)
	}
}

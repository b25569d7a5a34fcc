package engine

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"subbatch/internal/batch"
	"subbatch/internal/config"
	"subbatch/internal/logging"
)

var commandContext = exec.CommandContext

// Command runs an external translation command per job and implements
// batch.Executor.
type Command struct {
	binary       string
	args         []string
	outputSuffix string
	outputDir    string
	logger       *slog.Logger
}

// NewCommand constructs a command executor from configuration. A nil logger
// falls back to a no-op.
func NewCommand(cfg *config.Config, logger *slog.Logger) *Command {
	return &Command{
		binary:       cfg.Engine.Command,
		args:         append([]string{}, cfg.Engine.Args...),
		outputSuffix: cfg.Engine.OutputSuffix,
		outputDir:    cfg.Paths.OutputDir,
		logger:       logging.NewComponentLogger(logger, "engine"),
	}
}

// OutputPath returns where the translated file for the given input lands.
func (c *Command) OutputPath(inputPath string) string {
	dir := filepath.Dir(inputPath)
	if strings.TrimSpace(c.outputDir) != "" {
		dir = c.outputDir
	}
	base := filepath.Base(inputPath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	if c.outputSuffix != "" {
		return filepath.Join(dir, stem+"."+c.outputSuffix+ext)
	}
	return filepath.Join(dir, stem+".out"+ext)
}

// Execute implements batch.Executor.
func (c *Command) Execute(ctx context.Context, src batch.Source, report batch.ProgressFunc) (batch.Result, error) {
	if c.binary == "" {
		return batch.Result{}, batch.Wrap(batch.ErrValidation, "engine", "no translation command configured", nil)
	}
	info, err := os.Stat(src.Path)
	if err != nil {
		return batch.Result{}, batch.Wrap(batch.ErrValidation, "engine", fmt.Sprintf("input %q unreadable", src.Path), err)
	}
	if info.IsDir() {
		return batch.Result{}, batch.Wrap(batch.ErrValidation, "engine", fmt.Sprintf("input %q is a directory", src.Path), nil)
	}

	outputPath := c.OutputPath(src.Path)
	args := c.buildArgs(src, outputPath)

	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return batch.Result{}, batch.Wrap(batch.ErrProcessing, "engine", "stdout pipe", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return batch.Result{}, batch.Wrap(batch.ErrProcessing, "engine", "start translation command", err)
	}

	var lastLine string
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		lastLine = line
		if percent, message, ok := parseProgress(line); ok && report != nil {
			report(percent, message)
		}
	}
	scanErr := scanner.Err()

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return batch.Result{}, fmt.Errorf("translation interrupted: %w", ctx.Err())
	}
	if scanErr != nil {
		return batch.Result{}, batch.Wrap(batch.ErrProcessing, "engine", "read command output", scanErr)
	}
	if waitErr != nil {
		detail := "translation command failed"
		if lastLine != "" {
			detail = fmt.Sprintf("translation command failed: %s", lastLine)
		}
		return batch.Result{}, batch.Wrap(batch.ErrProcessing, "engine", detail, waitErr)
	}

	if _, err := os.Stat(outputPath); err != nil {
		return batch.Result{}, batch.Wrap(batch.ErrIO, "engine", fmt.Sprintf("output %q missing after translation", outputPath), err)
	}

	c.logger.Debug("translation command finished",
		logging.String("input", src.Path),
		logging.String("output", outputPath),
	)
	return batch.Result{OutputRef: outputPath}, nil
}

func (c *Command) buildArgs(src batch.Source, outputPath string) []string {
	replacer := strings.NewReplacer(
		"{input}", src.Path,
		"{output}", outputPath,
		"{source_lang}", src.SourceLang,
		"{target_lang}", src.TargetLang,
	)
	args := make([]string, 0, len(c.args)+2)
	sawInput := false
	for _, arg := range c.args {
		if strings.Contains(arg, "{input}") {
			sawInput = true
		}
		args = append(args, replacer.Replace(arg))
	}
	if !sawInput {
		args = append(args, src.Path, outputPath)
	}
	return args
}

// parseProgress recognizes "PROGRESS <percent> [message]" lines.
func parseProgress(line string) (int, string, bool) {
	rest, ok := strings.CutPrefix(line, "PROGRESS")
	if !ok {
		return 0, "", false
	}
	rest = strings.TrimLeft(rest, " :\t")
	if rest == "" {
		return 0, "", false
	}
	fields := strings.SplitN(rest, " ", 2)
	percent, err := strconv.Atoi(strings.TrimSuffix(fields[0], "%"))
	if err != nil {
		return 0, "", false
	}
	message := ""
	if len(fields) > 1 {
		message = strings.TrimSpace(fields[1])
	}
	return percent, message, true
}

var _ batch.Executor = (*Command)(nil)

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"subbatch/internal/config"
	"subbatch/internal/verify"
)

func newVerifyCommand(ctx *commandContext) *cobra.Command {
	var pattern string

	cmd := &cobra.Command{
		Use:   "verify [path]",
		Short: "Check translated SRT files for empty cues",
		Long: `Verify parses SRT files and reports cues without text. With no argument
the configured output directory is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			target := cfg.Paths.OutputDir
			if len(args) == 1 {
				target, err = config.ExpandPath(args[0])
				if err != nil {
					return err
				}
			}

			info, err := os.Stat(target)
			if err != nil {
				return fmt.Errorf("inspect %q: %w", target, err)
			}

			out := cmd.OutOrStdout()
			if !info.IsDir() {
				report, err := verify.VerifyFile(target)
				if err != nil {
					return err
				}
				printFileReports(out, []verify.FileReport{report})
				if report.Outcome == verify.OutcomeFail {
					return fmt.Errorf("%s failed verification", target)
				}
				return nil
			}

			report, err := verify.VerifyDir(target, pattern)
			if err != nil {
				return err
			}
			if len(report.Files) == 0 {
				fmt.Fprintf(out, "No files matching %s in %s\n", report.Pattern, report.Dir)
				return nil
			}
			printFileReports(out, report.Files)
			fmt.Fprintf(out, "%d passed, %d partial, %d failed\n", report.Passed, report.Partial, report.Failed)
			if report.Failed > 0 {
				return fmt.Errorf("%d file(s) failed verification", report.Failed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", "", "Glob pattern for directory verification (default *.srt)")
	return cmd
}

func printFileReports(out io.Writer, reports []verify.FileReport) {
	rows := make([][]string, 0, len(reports))
	for _, report := range reports {
		detail := report.Warning()
		if detail == "" {
			detail = fmt.Sprintf("%d cues", report.Total)
		}
		rows = append(rows, []string{
			report.Path,
			string(report.Outcome),
			fmt.Sprintf("%.0f%%", report.Percent()),
			detail,
		})
	}
	fmt.Fprintln(out, renderTable([]string{"File", "Outcome", "Translated", "Detail"}, rows, 3))
}

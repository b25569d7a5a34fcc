package verify

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Outcome classifies a verified file.
type Outcome string

const (
	// OutcomePass means every cue carries text.
	OutcomePass Outcome = "pass"
	// OutcomePartial means some cues are empty.
	OutcomePartial Outcome = "partial"
	// OutcomeFail means no cue carries text.
	OutcomeFail Outcome = "fail"
)

// FileReport describes the verification result for one SRT file.
type FileReport struct {
	Path         string
	Outcome      Outcome
	Total        int
	Empty        int
	EmptyIndices []int
}

// Percent returns the share of cues that carry text, 0-100.
func (r FileReport) Percent() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Total-r.Empty) / float64(r.Total) * 100
}

// Warning renders a short description of an incomplete file, or "" when the
// file passed.
func (r FileReport) Warning() string {
	switch r.Outcome {
	case OutcomePass:
		return ""
	case OutcomeFail:
		if r.Total == 0 {
			return "no cues found in output"
		}
		return fmt.Sprintf("all %d cues are empty", r.Total)
	default:
		return fmt.Sprintf("%d of %d cues are empty", r.Empty, r.Total)
	}
}

// DirReport aggregates the verification of a directory of outputs.
type DirReport struct {
	Dir     string
	Pattern string
	Files   []FileReport
	Passed  int
	Partial int
	Failed  int
}

// VerifyFile parses an SRT file and counts empty cues.
func VerifyFile(path string) (FileReport, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return FileReport{}, fmt.Errorf("read srt: %w", err)
	}

	report := FileReport{Path: path}
	for i, cue := range parseSRT(string(content)) {
		report.Total++
		if cue == "" {
			report.Empty++
			report.EmptyIndices = append(report.EmptyIndices, i+1)
		}
	}

	switch {
	case report.Total == 0 || report.Empty == report.Total:
		report.Outcome = OutcomeFail
	case report.Empty > 0:
		report.Outcome = OutcomePartial
	default:
		report.Outcome = OutcomePass
	}
	return report, nil
}

// VerifyDir verifies every file in dir matching pattern (default "*.srt").
func VerifyDir(dir, pattern string) (DirReport, error) {
	if strings.TrimSpace(pattern) == "" {
		pattern = "*.srt"
	}
	info, err := os.Stat(dir)
	if err != nil {
		return DirReport{}, fmt.Errorf("stat directory: %w", err)
	}
	if !info.IsDir() {
		return DirReport{}, fmt.Errorf("%q is not a directory", dir)
	}

	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return DirReport{}, fmt.Errorf("glob pattern %q: %w", pattern, err)
	}
	sort.Strings(matches)

	report := DirReport{Dir: dir, Pattern: pattern}
	for _, path := range matches {
		fileReport, err := VerifyFile(path)
		if err != nil {
			return DirReport{}, err
		}
		report.Files = append(report.Files, fileReport)
		switch fileReport.Outcome {
		case OutcomePass:
			report.Passed++
		case OutcomePartial:
			report.Partial++
		case OutcomeFail:
			report.Failed++
		}
	}
	return report, nil
}

// parseSRT returns the text of each cue block, in order. Cue text may be
// empty when the block holds only an index and a timestamp.
func parseSRT(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	blocks := strings.Split(strings.TrimSpace(content), "\n\n")

	var cues []string
	for _, block := range blocks {
		lines := strings.Split(strings.TrimSpace(block), "\n")
		if len(lines) < 2 {
			continue
		}
		if !strings.Contains(lines[1], "-->") {
			continue
		}
		text := ""
		if len(lines) > 2 {
			text = strings.TrimSpace(strings.Join(lines[2:], "\n"))
		}
		cues = append(cues, text)
	}
	return cues
}

package main

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"

	"subbatch/internal/batch"
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func statusColor(status batch.Status) string {
	switch status {
	case batch.StatusCompleted:
		return ansiGreen
	case batch.StatusFailed:
		return ansiRed
	case batch.StatusCancelled:
		return ansiYellow
	case batch.StatusRunning:
		return ansiBlue
	default:
		return ""
	}
}

func colorizeStatus(status batch.Status, enabled bool) string {
	label := string(status)
	if !enabled {
		return label
	}
	color := statusColor(status)
	if color == "" {
		return label
	}
	return color + label + ansiReset
}

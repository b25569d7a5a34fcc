package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"subbatch/internal/batch"
	"subbatch/internal/config"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func writeInput(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "movie.srt")
	if err := os.WriteFile(path, []byte("1\n00:00:01,000 --> 00:00:02,000\nHello\n\n"), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return path
}

func newCommand(t *testing.T, script string) *Command {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Command = "/bin/sh"
	cfg.Engine.Args = []string{script, "{input}", "{output}"}
	cfg.Engine.OutputSuffix = "ar"
	return NewCommand(&cfg, nil)
}

func TestExecuteRunsCommandAndReportsProgress(t *testing.T) {
	script := writeScript(t, `
echo "PROGRESS 25 loading model"
echo "PROGRESS 80"
cp "$1" "$2"
echo "PROGRESS 100 done"
`)
	cmd := newCommand(t, script)
	input := writeInput(t)

	type update struct {
		percent int
		message string
	}
	var updates []update
	res, err := cmd.Execute(context.Background(), batch.Source{Path: input}, func(percent int, message string) {
		updates = append(updates, update{percent, message})
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.OutputRef != cmd.OutputPath(input) {
		t.Fatalf("output ref %q, want %q", res.OutputRef, cmd.OutputPath(input))
	}
	if _, err := os.Stat(res.OutputRef); err != nil {
		t.Fatalf("output file missing: %v", err)
	}
	want := []update{{25, "loading model"}, {80, ""}, {100, "done"}}
	if len(updates) != len(want) {
		t.Fatalf("progress updates %+v, want %+v", updates, want)
	}
	for i := range want {
		if updates[i] != want[i] {
			t.Fatalf("update %d = %+v, want %+v", i, updates[i], want[i])
		}
	}
}

func TestExecuteClassifiesFailures(t *testing.T) {
	input := writeInput(t)

	t.Run("missing input is validation", func(t *testing.T) {
		cmd := newCommand(t, writeScript(t, "exit 0\n"))
		_, err := cmd.Execute(context.Background(), batch.Source{Path: "/does/not/exist.srt"}, nil)
		if !errors.Is(err, batch.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})

	t.Run("nonzero exit is processing", func(t *testing.T) {
		cmd := newCommand(t, writeScript(t, "echo \"model load failed\" >&2\nexit 3\n"))
		_, err := cmd.Execute(context.Background(), batch.Source{Path: input}, nil)
		if !errors.Is(err, batch.ErrProcessing) {
			t.Fatalf("expected processing error, got %v", err)
		}
		if !strings.Contains(err.Error(), "model load failed") {
			t.Fatalf("error %q should carry the last command line", err)
		}
	})

	t.Run("missing output is io", func(t *testing.T) {
		cmd := newCommand(t, writeScript(t, "exit 0\n"))
		_, err := cmd.Execute(context.Background(), batch.Source{Path: input}, nil)
		if !errors.Is(err, batch.ErrIO) {
			t.Fatalf("expected io error, got %v", err)
		}
	})

	t.Run("no command configured is validation", func(t *testing.T) {
		cfg := config.Default()
		cfg.Engine.Command = ""
		cmd := NewCommand(&cfg, nil)
		_, err := cmd.Execute(context.Background(), batch.Source{Path: input}, nil)
		if !errors.Is(err, batch.ErrValidation) {
			t.Fatalf("expected validation error, got %v", err)
		}
	})
}

func TestExecutePreservesContextCancellation(t *testing.T) {
	cmd := newCommand(t, writeScript(t, "sleep 10\n"))
	input := writeInput(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	_, err := cmd.Execute(ctx, batch.Source{Path: input}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("cancellation must surface as context.Canceled, got %v", err)
	}
}

func TestOutputPath(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Command = "translate"
	cfg.Engine.OutputSuffix = "fr"
	cmd := NewCommand(&cfg, nil)

	if got := cmd.OutputPath("/media/movie.srt"); got != "/media/movie.fr.srt" {
		t.Fatalf("OutputPath = %q", got)
	}

	cfg.Paths.OutputDir = "/translated"
	cmd = NewCommand(&cfg, nil)
	if got := cmd.OutputPath("/media/movie.srt"); got != "/translated/movie.fr.srt" {
		t.Fatalf("OutputPath with output dir = %q", got)
	}
}

func TestBuildArgsSubstitutesPlaceholders(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Command = "translate"
	cfg.Engine.Args = []string{"--from", "{source_lang}", "--to", "{target_lang}", "{input}", "{output}"}
	cmd := NewCommand(&cfg, nil)

	src := batch.Source{Path: "/in/a.srt", SourceLang: "en", TargetLang: "ar"}
	got := cmd.buildArgs(src, "/out/a.ar.srt")
	want := []string{"--from", "en", "--to", "ar", "/in/a.srt", "/out/a.ar.srt"}
	if len(got) != len(want) {
		t.Fatalf("args %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("args %v, want %v", got, want)
		}
	}
}

func TestBuildArgsAppendsPathsWithoutPlaceholders(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.Command = "translate"
	cfg.Engine.Args = []string{"--quiet"}
	cmd := NewCommand(&cfg, nil)

	got := cmd.buildArgs(batch.Source{Path: "/in/a.srt"}, "/out/a.ar.srt")
	want := []string{"--quiet", "/in/a.srt", "/out/a.ar.srt"}
	if len(got) != len(want) {
		t.Fatalf("args %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("args %v, want %v", got, want)
		}
	}
}

func TestParseProgress(t *testing.T) {
	tests := []struct {
		line    string
		percent int
		message string
		ok      bool
	}{
		{"PROGRESS 42", 42, "", true},
		{"PROGRESS 42 translating cues", 42, "translating cues", true},
		{"PROGRESS: 90%", 90, "", true},
		{"PROGRESS", 0, "", false},
		{"PROGRESS abc", 0, "", false},
		{"loading model", 0, "", false},
	}
	for _, tt := range tests {
		percent, message, ok := parseProgress(tt.line)
		if ok != tt.ok || percent != tt.percent || message != tt.message {
			t.Fatalf("parseProgress(%q) = (%d, %q, %v), want (%d, %q, %v)",
				tt.line, percent, message, ok, tt.percent, tt.message, tt.ok)
		}
	}
}

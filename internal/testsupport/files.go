package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// WriteSRT writes a subtitle file with the requested number of cues. Indices
// listed in empty are written with no text line, which the verifier counts as
// untranslated.
func WriteSRT(t testing.TB, path string, cues int, empty ...int) {
	t.Helper()

	if cues <= 0 {
		cues = 1
	}
	emptySet := make(map[int]bool, len(empty))
	for _, idx := range empty {
		emptySet[idx] = true
	}

	var b strings.Builder
	for i := 1; i <= cues; i++ {
		fmt.Fprintf(&b, "%d\n", i)
		fmt.Fprintf(&b, "00:00:%02d,000 --> 00:00:%02d,500\n", i, i)
		if !emptySet[i] {
			fmt.Fprintf(&b, "Line %d\n", i)
		}
		b.WriteString("\n")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

package assistant

import (
	"strings"
	"testing"
	"unicode/utf8"

	"fable/internal/workspace"
)

func TestClipMemoryKeepsRunesIntact(t *testing.T) {
	t.Parallel()

	ws, err := workspace.New(t.TempDir(), "ws_test", workspace.Options{}, nil)
	if err != nil {
		t.Fatalf("workspace: %v", err)
	}
	r := NewRetriever(ws, nil)

	// The character budget lands inside the trailing multibyte rune, so a
	// plain byte-index slice would split it.
	content := strings.Repeat("memo ", memoryCharBudget/5-1) + "記記"
	if len(content) <= memoryCharBudget {
		t.Fatalf("fixture too short: %d bytes", len(content))
	}

	got := r.clipMemory(content)
	if !utf8.ValidString(got) {
		t.Fatalf("clipMemory split a rune: %q", got[len(got)-6:])
	}
	if len(got) > memoryCharBudget {
		t.Fatalf("clipped length = %d, over budget", len(got))
	}
}

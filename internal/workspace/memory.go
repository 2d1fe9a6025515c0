package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"fable/internal/logging"
)

const (
	memoryFileName = "global_memory.md"

	// DefaultMemoryCap is M_MAX: the hard cap on memory length in characters.
	DefaultMemoryCap = 100_000

	// softCutRatio bounds how far back a truncation may cut: the cut point
	// must land at or beyond softCutRatio * cap.
	softCutRatio = 0.9
)

const truncationNotice = "\n\n[NOTE] Earlier content was truncated to fit the memory limit."

// WriteResult reports the outcome of a memory write.
type WriteResult struct {
	Success        bool   `json:"success"`
	WasTruncated   bool   `json:"was_truncated"`
	OriginalLength int    `json:"original_length"`
	FinalLength    int    `json:"final_length"`
	Message        string `json:"message"`
}

// MemoryInfo summarizes the memory blob.
type MemoryInfo struct {
	Length    int       `json:"length"`
	Cap       int       `json:"cap"`
	IsFull    bool      `json:"is_full"`
	UpdatedAt time.Time `json:"updated_at"`
}

// MemoryManager maintains the single bounded markdown blob backed by
// global_memory.md.
type MemoryManager struct {
	mu     sync.Mutex
	path   string
	cap    int
	cache  string
	loaded bool
	logger logging.Logger
}

// NewMemoryManager creates a manager rooted in dir with the given cap
// (DefaultMemoryCap when maxChars <= 0).
func NewMemoryManager(dir string, maxChars int, logger logging.Logger) *MemoryManager {
	if maxChars <= 0 {
		maxChars = DefaultMemoryCap
	}
	return &MemoryManager{
		path:   filepath.Join(dir, memoryFileName),
		cap:    maxChars,
		logger: logging.OrNop(logger),
	}
}

func (mm *MemoryManager) loadLocked() string {
	if mm.loaded {
		return mm.cache
	}
	data, err := os.ReadFile(mm.path)
	if err == nil {
		mm.cache = string(data)
	}
	mm.loaded = true
	return mm.cache
}

// Read returns the current memory content.
func (mm *MemoryManager) Read() string {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return mm.loadLocked()
}

// Write replaces (or appends to) the memory blob, enforcing the cap with a
// soft-cut truncation at the nearest newline or period past 0.9*cap.
func (mm *MemoryManager) Write(content string, appendMode bool) WriteResult {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	next := content
	if appendMode {
		existing := mm.loadLocked()
		if existing != "" {
			next = existing + "\n\n" + content
		}
	}

	originalLen := len(next)
	truncated := false
	if originalLen > mm.cap {
		next = softCut(next, mm.cap)
		next += truncationNotice
		truncated = true
	}

	if err := mm.persistLocked(next); err != nil {
		mm.logger.Error("memory write failed: %v", err)
		return WriteResult{
			Success:        false,
			OriginalLength: originalLen,
			FinalLength:    len(mm.cache),
			Message:        fmt.Sprintf("failed to persist memory: %v", err),
		}
	}
	mm.cache = next
	msg := "memory updated"
	if truncated {
		msg = fmt.Sprintf("memory updated; content truncated from %d to %d characters", originalLen, len(next))
	}
	return WriteResult{
		Success:        true,
		WasTruncated:   truncated,
		OriginalLength: originalLen,
		FinalLength:    len(next),
		Message:        msg,
	}
}

// Append adds content to the end of memory.
func (mm *MemoryManager) Append(content string) WriteResult {
	return mm.Write(content, true)
}

// Clear empties the memory blob.
func (mm *MemoryManager) Clear() error {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	if err := mm.persistLocked(""); err != nil {
		return err
	}
	mm.cache = ""
	return nil
}

// Length returns the current content length in characters.
func (mm *MemoryManager) Length() int {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return len(mm.loadLocked())
}

// IsFull reports whether memory has reached 0.9 of its cap.
func (mm *MemoryManager) IsFull() bool {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	return float64(len(mm.loadLocked())) >= softCutRatio*float64(mm.cap)
}

// GetMemoryInfo returns length, cap, and fullness.
func (mm *MemoryManager) GetMemoryInfo() MemoryInfo {
	mm.mu.Lock()
	defer mm.mu.Unlock()

	content := mm.loadLocked()
	info := MemoryInfo{
		Length: len(content),
		Cap:    mm.cap,
		IsFull: float64(len(content)) >= softCutRatio*float64(mm.cap),
	}
	if stat, err := os.Stat(mm.path); err == nil {
		info.UpdatedAt = stat.ModTime()
	}
	return info
}

func (mm *MemoryManager) persistLocked(content string) error {
	tmp := mm.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write memory file: %w", err)
	}
	if err := os.Rename(tmp, mm.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename memory file: %w", err)
	}
	return nil
}

// softCut truncates s to at most max characters, preferring to cut at the
// last newline or period at or beyond softCutRatio*max. Falls back to a hard
// cut when no such boundary exists.
func softCut(s string, max int) string {
	if len(s) <= max {
		return s
	}
	// Never split a multibyte rune at the cut point.
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	window := s[:max]
	floor := int(softCutRatio * float64(max))

	if idx := strings.LastIndexByte(window, '\n'); idx >= floor {
		return window[:idx]
	}
	if idx := strings.LastIndexByte(window, '.'); idx >= floor {
		return window[:idx+1]
	}
	return window
}

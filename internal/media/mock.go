package media

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockImageService produces deterministic PNG-tagged byte payloads and
// records call counts. FailFirst makes the first N calls per prompt fail, for
// exercising retry paths.
type MockImageService struct {
	mu        sync.Mutex
	calls     int
	failures  map[string]int
	FailFirst int
}

// NewMockImageService creates an image mock that always succeeds.
func NewMockImageService() *MockImageService {
	return &MockImageService{failures: make(map[string]int)}
}

// Calls reports the total number of generate+edit calls.
func (m *MockImageService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockImageService) maybeFail(prompt string) error {
	if m.FailFirst <= 0 {
		return nil
	}
	if m.failures[prompt] < m.FailFirst {
		m.failures[prompt]++
		return fmt.Errorf("transient image backend failure (%d/%d)", m.failures[prompt], m.FailFirst)
	}
	return nil
}

// GenerateImage returns bytes derived from the prompt.
func (m *MockImageService) GenerateImage(_ context.Context, prompt string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.maybeFail(prompt); err != nil {
		return nil, err
	}
	return []byte("png:" + prompt), nil
}

// EditImage returns bytes derived from the prompt and reference count.
func (m *MockImageService) EditImage(_ context.Context, prompt string, references [][]byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if err := m.maybeFail(prompt); err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("png:%s:refs=%d", prompt, len(references))), nil
}

// MockAudioService returns deterministic audio payloads.
type MockAudioService struct {
	mu    sync.Mutex
	calls int
}

// NewMockAudioService creates an audio mock.
func NewMockAudioService() *MockAudioService {
	return &MockAudioService{}
}

// Calls reports the number of synthesize calls.
func (m *MockAudioService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Synthesize returns bytes derived from the text and voice.
func (m *MockAudioService) Synthesize(_ context.Context, text, voice string) ([]byte, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return []byte(fmt.Sprintf("wav:%s:%s", voice, text)), nil
}

// MockVideoService returns deterministic clip payloads.
type MockVideoService struct {
	mu    sync.Mutex
	calls int
}

// NewMockVideoService creates a video mock.
func NewMockVideoService() *MockVideoService {
	return &MockVideoService{}
}

// Calls reports the number of render calls.
func (m *MockVideoService) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// RenderClip returns bytes derived from the prompt and duration.
func (m *MockVideoService) RenderClip(_ context.Context, prompt string, keyframe []byte, duration time.Duration) ([]byte, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	return []byte(fmt.Sprintf("mp4:%s:%ds:kf=%d", prompt, int(duration.Seconds()), len(keyframe))), nil
}

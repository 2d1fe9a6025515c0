// Package media defines the adapter interfaces for binary generation
// backends (image, audio, video) and deterministic mocks for tests.
//
// Adapters are handed to materializers through descriptor service factories;
// nothing in this package touches the workspace.
package media

import (
	"context"
	"time"
)

// Service keys shared across descriptors. The first descriptor declaring a
// key wins; later declarations reuse the same instance.
const (
	ServiceKeyImage = "image_service"
	ServiceKeyAudio = "audio_service"
	ServiceKeyVideo = "video_service"
)

// ImageService generates and edits images.
type ImageService interface {
	// GenerateImage performs a text-to-image call.
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
	// EditImage performs an image edit seeded with reference images.
	EditImage(ctx context.Context, prompt string, references [][]byte) ([]byte, error)
}

// AudioService synthesizes speech or soundtrack audio.
type AudioService interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// VideoService renders short clips conditioned on a keyframe.
type VideoService interface {
	RenderClip(ctx context.Context, prompt string, keyframe []byte, duration time.Duration) ([]byte, error)
}

// RetryPolicy bounds the backoff used around media calls. Media calls retry
// until their enclosing layer gives up, so MaxDelay is the operative cap.
type RetryPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultRetryPolicy matches the materializer's expectations.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  15 * time.Second,
	}
}

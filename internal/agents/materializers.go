package agents

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"fable/internal/agent"
	"fable/internal/ids"
	"fable/internal/media"
)

const defaultClipSeconds = 4

// clipMaterializer renders each planned clip through the video backend. Clips
// are independent, so they fan out concurrently.
type clipMaterializer struct {
	video media.VideoService
}

func newClipMaterializer(video media.VideoService) *clipMaterializer {
	return &clipMaterializer{video: video}
}

func (m *clipMaterializer) Materialize(ctx context.Context, output map[string]any, mctx *agent.MaterializeContext) error {
	clips, err := clipSlots(output)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, slot := range clips {
		slot := slot
		g.Go(func() error {
			prompt, _ := slot["prompt"].(string)
			seconds := defaultClipSeconds
			if v, ok := slot["duration_seconds"].(float64); ok && v > 0 {
				seconds = int(v)
			}
			data, err := m.video.RenderClip(gctx, prompt, nil, time.Duration(seconds)*time.Second)
			if err != nil {
				slot["uri"] = fmt.Sprintf("error: %v", err)
				return nil
			}
			return emitClip(slot, data, ".mp4", mctx)
		})
	}
	return g.Wait()
}

// audioMaterializer synthesizes each planned audio clip.
type audioMaterializer struct {
	audio media.AudioService
}

func newAudioMaterializer(audio media.AudioService) *audioMaterializer {
	return &audioMaterializer{audio: audio}
}

func (m *audioMaterializer) Materialize(ctx context.Context, output map[string]any, mctx *agent.MaterializeContext) error {
	clips, err := clipSlots(output)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, slot := range clips {
		slot := slot
		g.Go(func() error {
			text, _ := slot["text"].(string)
			voice, _ := slot["voice"].(string)
			data, err := m.audio.Synthesize(gctx, text, voice)
			if err != nil {
				slot["uri"] = fmt.Sprintf("error: %v", err)
				return nil
			}
			return emitClip(slot, data, ".wav", mctx)
		})
	}
	return g.Wait()
}

func clipSlots(output map[string]any) ([]map[string]any, error) {
	raw, _ := output["clips"].([]any)
	slots := make([]map[string]any, 0, len(raw))
	for i, item := range raw {
		slot, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("clips[%d] is not an object", i)
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

func emitClip(slot map[string]any, data []byte, ext string, mctx *agent.MaterializeContext) error {
	sysID, _ := slot["sys_id"].(string)
	if sysID == "" {
		sysID = "clip_" + ids.RandSuffix()
		slot["sys_id"] = sysID
	}
	asset := &agent.MediaAsset{SysID: sysID, Bytes: data, Extension: ext, URIHolder: slot}
	if _, err := mctx.PersistBinary(asset); err != nil {
		return fmt.Errorf("persist %s: %w", sysID, err)
	}
	return nil
}

package agents

import (
	"context"
	"fmt"
	"testing"

	"fable/internal/agent"
	"fable/internal/llm"
	"fable/internal/registry"
)

func newTestRegistry(t *testing.T, responses ...string) *registry.Registry {
	t.Helper()
	r := registry.New(llm.NewMockClient(responses...), nil, nil)
	if err := Register(r); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return r
}

func TestRegisterPipeline(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	if r.Count() != 6 {
		t.Fatalf("registered = %d, want 6", r.Count())
	}

	catalog := r.ListAgents()
	byName := map[string]registry.CatalogEntry{}
	for _, entry := range catalog {
		byName[entry.AgentName] = entry
	}
	kf, ok := byName["keyframe_agent"]
	if !ok {
		t.Fatal("keyframe_agent missing from catalog")
	}
	if kf.AssetKey != AssetKeyframeSet || len(kf.UpstreamKeys) != 2 {
		t.Fatalf("keyframe entry = %+v", kf)
	}
}

func TestStoryAgentRun(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t,
		`{"title": "Dust", "logline": "A courier crosses a dead rail line.", "acts": [{"act": 1, "summary": "setup"}], "entities": {"hero": "a courier"}}`,
		`{"dimensions": [{"name": "coherence", "score": 0.9}, {"name": "originality", "score": 0.8}], "summary": "solid"}`,
	)
	equipped, err := r.GetAgent("story_agent")
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}

	assets := map[string]any{"draft_idea": "a courier story"}
	input, err := equipped.Descriptor.BuildInput("p1", "d1", assets, nil)
	if err != nil {
		t.Fatalf("BuildInput() error = %v", err)
	}
	typed, ok := input.(PipelineInput)
	if !ok || typed.UserText != "a courier story" {
		t.Fatalf("input = %#v", input)
	}

	output, err := equipped.Run(context.Background(), input, equipped.Descriptor.Upstream(assets), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if output["title"] != "Dust" {
		t.Fatalf("output = %v", output)
	}
}

func TestStoryAgentStructureGate(t *testing.T) {
	t.Parallel()

	// Missing "acts" must be caught by the structure check.
	r := newTestRegistry(t, `{"title": "Dust", "logline": "..."}`)
	equipped, err := r.GetAgent("story_agent")
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if _, err := equipped.Run(context.Background(), PipelineInput{}, nil, nil); err == nil {
		t.Fatal("expected structure failure")
	}
}

func TestKeyframeAgentMaterializes(t *testing.T) {
	t.Parallel()

	plan := `{
		"style_suffix": ", watercolor",
		"global_anchors": [{"sys_id": "a1", "entity_id": "hero", "entity_type": "character", "prompt_summary": "a courier"}],
		"scenes": [{
			"scene_id": "s1", "prompt": "night", "location": "hero",
			"stability_keyframes": [{"sys_id": "st1", "entity_id": "hero"}],
			"shots": [{"sys_id": "sh1", "shot_id": "s1-01", "prompt": "wide", "characters_in_frame": ["hero"]}]
		}]
	}`
	// Creative review is skipped (no dimensions); only the plan completion runs.
	r := newTestRegistry(t, plan)
	equipped, err := r.GetAgent("keyframe_agent")
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if equipped.Materializer == nil {
		t.Fatal("keyframe agent must carry a materializer")
	}

	persisted := 0
	mctx := &agent.MaterializeContext{
		PersistBinary: func(asset *agent.MediaAsset) (string, error) {
			persisted++
			path := fmt.Sprintf("ws/%s%s", asset.SysID, asset.Extension)
			asset.URIHolder["uri"] = path
			return path, nil
		},
	}

	input, err := equipped.Descriptor.BuildInput("p1", "d1", map[string]any{}, nil)
	if err != nil {
		t.Fatalf("BuildInput() error = %v", err)
	}
	output, err := equipped.Run(context.Background(), input, nil, mctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	// 1 anchor + 1 scene anchor + 1 shot.
	if persisted != 3 {
		t.Fatalf("persisted = %d, want 3", persisted)
	}
	anchors := output["global_anchors"].([]any)
	if uri, _ := anchors[0].(map[string]any)["uri"].(string); uri == "" {
		t.Fatal("anchor uri not written back")
	}
}

func TestAudioAgentMaterializes(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, `{"clips": [{"sys_id": "c1", "text": "hello", "voice": "mara"}]}`)
	equipped, err := r.GetAgent("audio_agent")
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}

	mctx := &agent.MaterializeContext{
		PersistBinary: func(asset *agent.MediaAsset) (string, error) {
			path := "ws/" + asset.SysID + asset.Extension
			asset.URIHolder["uri"] = path
			return path, nil
		},
	}
	output, err := equipped.Run(context.Background(), PipelineInput{}, nil, mctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	clip := output["clips"].([]any)[0].(map[string]any)
	if clip["uri"] != "ws/c1.wav" {
		t.Fatalf("clip uri = %v", clip["uri"])
	}
}

func TestSharedServicesAcrossAgents(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t)
	if _, err := r.GetAgent("video_agent"); err != nil {
		t.Fatalf("GetAgent(video_agent) error = %v", err)
	}
	if _, err := r.GetAgent("audio_agent"); err != nil {
		t.Fatalf("GetAgent(audio_agent) error = %v", err)
	}
}

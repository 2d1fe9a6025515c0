package agents

import (
	"fmt"

	"fable/internal/agent"
	"fable/internal/agent/eval"
	"fable/internal/llm"
	"fable/internal/logging"
	"fable/internal/materialize"
	"fable/internal/media"
	"fable/internal/registry"
)

// Asset keys of the default pipeline, in production order.
const (
	AssetStoryBlueprint = "story_blueprint"
	AssetScreenplay     = "screenplay"
	AssetStoryboard     = "storyboard"
	AssetKeyframeSet    = "keyframe_set"
	AssetVideoSet       = "video_set"
	AssetAudioSet       = "audio_set"
)

// PipelineInput is the base typed input shared by the pipeline agents.
type PipelineInput struct {
	ProjectID string         `json:"project_id"`
	DraftID   string         `json:"draft_id"`
	UserText  string         `json:"user_text,omitempty"`
	Config    map[string]any `json:"config,omitempty"`
}

// KeyframeInput adds the user-supplied reference images.
type KeyframeInput struct {
	PipelineInput
	ReferenceImages []any `json:"reference_images,omitempty"`
}

func baseInput(projectID, draftID string, assets, config map[string]any, userTextKey string) PipelineInput {
	in := PipelineInput{ProjectID: projectID, DraftID: draftID, Config: config}
	if userTextKey != "" {
		if text, ok := assets[userTextKey].(string); ok {
			in.UserText = text
		}
	}
	return in
}

// Register adds the six pipeline descriptors and the "plan" manifest builder
// to the registry.
func Register(r *registry.Registry) error {
	factories := map[string]registry.DescriptorFactory{
		"story_agent":      storyDescriptor,
		"screenplay_agent": screenplayDescriptor,
		"storyboard_agent": storyboardDescriptor,
		"keyframe_agent":   keyframeDescriptor,
		"video_agent":      videoDescriptor,
		"audio_agent":      audioDescriptor,
	}
	for name, factory := range factories {
		if err := r.Register(name, factory); err != nil {
			return err
		}
	}
	return r.RegisterBuilder("plan", planBuilder)
}

// planBuilder binds agent.yaml manifests to a generic plan agent. The
// manifest supplies the prompt, the asset contract and the evaluator config.
func planBuilder(m registry.Manifest) (*agent.Descriptor, error) {
	if m.Prompt == "" {
		return nil, fmt.Errorf("manifest %s missing prompt", m.Name)
	}
	name := m.Name
	return &agent.Descriptor{
		AgentName:    name,
		AssetKey:     m.AssetKey,
		AssetType:    m.AssetType,
		UpstreamKeys: m.UpstreamKeys,
		CatalogEntry: m.CatalogEntry,
		UserTextKey:  m.UserTextKey,
		AgentFactory: func(client llm.Client) agent.Agent {
			return newPlanAgent(name, m.Prompt, client)
		},
		EvaluatorFactory: func() agent.Evaluator {
			return eval.New(eval.Config{
				RequiredFields:     m.RequiredFields,
				CreativeDimensions: m.CreativeDimensions,
			})
		},
		BuildInput: func(projectID, draftID string, assets, config map[string]any) (any, error) {
			return baseInput(projectID, draftID, assets, config, m.UserTextKey), nil
		},
	}, nil
}

const storyPrompt = `You are a story architect. From the user's idea, produce a story blueprint.
Respond with JSON only: {"title": "...", "logline": "...", "acts": [{"act": 1, "summary": "..."}],
"entities": {"<entity_id>": "<description>"}}`

func storyDescriptor() (*agent.Descriptor, error) {
	return &agent.Descriptor{
		AgentName:    "story_agent",
		AssetKey:     AssetStoryBlueprint,
		AssetType:    "json_plan",
		CatalogEntry: "Turns a draft idea into a story blueprint: title, logline, acts, entities.",
		UserTextKey:  "draft_idea",
		AgentFactory: func(client llm.Client) agent.Agent {
			return newPlanAgent("story_agent", storyPrompt, client)
		},
		EvaluatorFactory: func() agent.Evaluator {
			return eval.New(eval.Config{
				RequiredFields:     []string{"title", "logline", "acts"},
				CreativeDimensions: []string{"coherence", "originality"},
			})
		},
		BuildInput: func(projectID, draftID string, assets, config map[string]any) (any, error) {
			return baseInput(projectID, draftID, assets, config, "draft_idea"), nil
		},
	}, nil
}

const screenplayPrompt = `You are a screenwriter. Expand the story blueprint into a screenplay.
Respond with JSON only: {"scenes": [{"scene_id": "...", "location": "...", "action": "...",
"dialogue": [{"speaker": "...", "line": "..."}]}]}`

func screenplayDescriptor() (*agent.Descriptor, error) {
	return &agent.Descriptor{
		AgentName:    "screenplay_agent",
		AssetKey:     AssetScreenplay,
		AssetType:    "json_plan",
		UpstreamKeys: []string{AssetStoryBlueprint},
		CatalogEntry: "Expands a story blueprint into scene-by-scene screenplay with dialogue.",
		AgentFactory: func(client llm.Client) agent.Agent {
			return newPlanAgent("screenplay_agent", screenplayPrompt, client)
		},
		EvaluatorFactory: func() agent.Evaluator {
			return eval.New(eval.Config{
				RequiredFields:     []string{"scenes"},
				CreativeDimensions: []string{"dialogue_quality", "pacing"},
			})
		},
		BuildInput: func(projectID, draftID string, assets, config map[string]any) (any, error) {
			return baseInput(projectID, draftID, assets, config, ""), nil
		},
	}, nil
}

const storyboardPrompt = `You are a storyboard artist. Break the screenplay into shots.
Respond with JSON only: {"scenes": [{"scene_id": "...", "prompt": "...", "location": "...",
"shots": [{"shot_id": "...", "prompt": "...", "characters_in_frame": [], "props_in_frame": []}]}]}`

func storyboardDescriptor() (*agent.Descriptor, error) {
	return &agent.Descriptor{
		AgentName:    "storyboard_agent",
		AssetKey:     AssetStoryboard,
		AssetType:    "json_plan",
		UpstreamKeys: []string{AssetScreenplay},
		CatalogEntry: "Breaks a screenplay into storyboard scenes and framed shots.",
		AgentFactory: func(client llm.Client) agent.Agent {
			return newPlanAgent("storyboard_agent", storyboardPrompt, client)
		},
		EvaluatorFactory: func() agent.Evaluator {
			return eval.New(eval.Config{
				RequiredFields:     []string{"scenes"},
				CreativeDimensions: []string{"visual_continuity"},
			})
		},
		BuildInput: func(projectID, draftID string, assets, config map[string]any) (any, error) {
			return baseInput(projectID, draftID, assets, config, ""), nil
		},
	}, nil
}

const keyframePrompt = `You are a keyframe planner. From the storyboard and blueprint, produce a
keyframe plan. Respond with JSON only: {"style_suffix": "...",
"global_anchors": [{"sys_id": "...", "entity_id": "...", "entity_type": "character|location|prop",
"name": "...", "description": "...", "prompt_summary": "..."}],
"scenes": [{"scene_id": "...", "prompt": "...", "location": "<entity_id>",
"stability_keyframes": [{"sys_id": "...", "entity_id": "...", "prompt": "..."}],
"shots": [{"sys_id": "...", "shot_id": "...", "prompt": "...", "characters_in_frame": [],
"props_in_frame": []}]}], "blueprint_text": {"<entity_id>": "..."}}`

func keyframeDescriptor() (*agent.Descriptor, error) {
	return &agent.Descriptor{
		AgentName:    "keyframe_agent",
		AssetKey:     AssetKeyframeSet,
		AssetType:    "image_set",
		UpstreamKeys: []string{AssetStoryboard, AssetStoryBlueprint},
		CatalogEntry: "Plans and renders keyframe images: global anchors, scene anchors, shot keyframes.",
		AgentFactory: func(client llm.Client) agent.Agent {
			a := newPlanAgent("keyframe_agent", keyframePrompt, client)
			// The plan carries the user's reference images through to the
			// materializer under a private key.
			a.augment = func(input any, output map[string]any) {
				if in, ok := input.(KeyframeInput); ok && len(in.ReferenceImages) > 0 {
					output["_reference_images"] = in.ReferenceImages
				}
			}
			return a
		},
		EvaluatorFactory: func() agent.Evaluator {
			return eval.New(eval.Config{
				RequiredFields: []string{"global_anchors", "scenes"},
			})
		},
		BuildInput: func(projectID, draftID string, assets, config map[string]any) (any, error) {
			in := KeyframeInput{PipelineInput: baseInput(projectID, draftID, assets, config, "")}
			if refs, ok := assets["_reference_images"].([]any); ok {
				in.ReferenceImages = refs
			}
			return in, nil
		},
		ServiceFactories: map[string]agent.ServiceFactory{
			media.ServiceKeyImage: func(*agent.ServiceContext) (any, error) {
				return media.NewMockImageService(), nil
			},
		},
		MaterializerFactory: func(services map[string]any) (agent.Materializer, error) {
			image, ok := services[media.ServiceKeyImage].(media.ImageService)
			if !ok {
				return nil, fmt.Errorf("service %s is not an ImageService", media.ServiceKeyImage)
			}
			return materialize.New(image,
				materialize.WithLogger(logging.NewComponentLogger("Materialize")),
			), nil
		},
	}, nil
}

const videoPrompt = `You are a video director. From the keyframes and storyboard, plan clips.
Respond with JSON only: {"clips": [{"sys_id": "...", "shot_id": "...", "prompt": "...",
"duration_seconds": 4}]}`

func videoDescriptor() (*agent.Descriptor, error) {
	return &agent.Descriptor{
		AgentName:    "video_agent",
		AssetKey:     AssetVideoSet,
		AssetType:    "video_set",
		UpstreamKeys: []string{AssetKeyframeSet, AssetStoryboard},
		CatalogEntry: "Renders short video clips from shot keyframes.",
		AgentFactory: func(client llm.Client) agent.Agent {
			return newPlanAgent("video_agent", videoPrompt, client)
		},
		EvaluatorFactory: func() agent.Evaluator {
			return eval.New(eval.Config{RequiredFields: []string{"clips"}})
		},
		BuildInput: func(projectID, draftID string, assets, config map[string]any) (any, error) {
			return baseInput(projectID, draftID, assets, config, ""), nil
		},
		ServiceFactories: map[string]agent.ServiceFactory{
			media.ServiceKeyVideo: func(*agent.ServiceContext) (any, error) {
				return media.NewMockVideoService(), nil
			},
		},
		MaterializerFactory: func(services map[string]any) (agent.Materializer, error) {
			video, ok := services[media.ServiceKeyVideo].(media.VideoService)
			if !ok {
				return nil, fmt.Errorf("service %s is not a VideoService", media.ServiceKeyVideo)
			}
			return newClipMaterializer(video), nil
		},
	}, nil
}

const audioPrompt = `You are a sound designer. From the screenplay and clips, plan audio.
Respond with JSON only: {"clips": [{"sys_id": "...", "text": "...", "voice": "..."}]}`

func audioDescriptor() (*agent.Descriptor, error) {
	return &agent.Descriptor{
		AgentName:    "audio_agent",
		AssetKey:     AssetAudioSet,
		AssetType:    "audio_set",
		UpstreamKeys: []string{AssetScreenplay, AssetVideoSet},
		CatalogEntry: "Synthesizes dialogue and soundtrack audio for the rendered clips.",
		AgentFactory: func(client llm.Client) agent.Agent {
			return newPlanAgent("audio_agent", audioPrompt, client)
		},
		EvaluatorFactory: func() agent.Evaluator {
			return eval.New(eval.Config{RequiredFields: []string{"clips"}})
		},
		BuildInput: func(projectID, draftID string, assets, config map[string]any) (any, error) {
			return baseInput(projectID, draftID, assets, config, ""), nil
		},
		ServiceFactories: map[string]agent.ServiceFactory{
			media.ServiceKeyAudio: func(*agent.ServiceContext) (any, error) {
				return media.NewMockAudioService(), nil
			},
		},
		MaterializerFactory: func(services map[string]any) (agent.Materializer, error) {
			audio, ok := services[media.ServiceKeyAudio].(media.AudioService)
			if !ok {
				return nil, fmt.Errorf("service %s is not an AudioService", media.ServiceKeyAudio)
			}
			return newAudioMaterializer(audio), nil
		},
	}, nil
}

package agent

import (
	"fmt"

	"fable/internal/llm"
)

// AgentFactory constructs the agent implementation around an LLM client.
type AgentFactory func(client llm.Client) Agent

// EvaluatorFactory constructs the descriptor's evaluator.
type EvaluatorFactory func() Evaluator

// ServiceFactory builds one shared backend service. Factories are keyed by
// service name; the first descriptor to declare a key provides the instance
// and every later declaration of the same key is ignored.
type ServiceFactory func(sc *ServiceContext) (any, error)

// MaterializerFactory builds the descriptor's materializer from the shared
// service instances.
type MaterializerFactory func(services map[string]any) (Materializer, error)

// InputBuilder assembles the agent's typed input from the shared asset map.
type InputBuilder func(projectID, draftID string, assets map[string]any, config map[string]any) (any, error)

// UpstreamBuilder selects the upstream asset slice handed to the agent.
// When nil, the descriptor derives it from UpstreamKeys.
type UpstreamBuilder func(assets map[string]any) map[string]any

// Descriptor is a sub-agent's manifest: identity, asset contract, and the
// factories the registry uses to equip it. Descriptors carry no live state.
type Descriptor struct {
	// AgentName is the unique registry key, e.g. "keyframe_agent".
	AgentName string
	// AssetKey names the record this agent contributes to the asset map.
	AssetKey string
	// AssetType describes the produced asset, e.g. "json_plan" or "image_set".
	AssetType string
	// UpstreamKeys lists the asset keys this agent consumes.
	UpstreamKeys []string
	// CatalogEntry is the one-line capability description shown to the
	// director when it plans delegation.
	CatalogEntry string
	// UserTextKey, when set, names the input field seeded from the task's
	// overall description for agents that start from raw user text.
	UserTextKey string

	AgentFactory        AgentFactory
	EvaluatorFactory    EvaluatorFactory
	BuildInput          InputBuilder
	BuildUpstream       UpstreamBuilder
	ServiceFactories    map[string]ServiceFactory
	MaterializerFactory MaterializerFactory
}

// Validate checks that the descriptor is complete enough to register.
func (d *Descriptor) Validate() error {
	if d.AgentName == "" {
		return fmt.Errorf("descriptor missing agent_name")
	}
	if d.AssetKey == "" {
		return fmt.Errorf("descriptor %s missing asset_key", d.AgentName)
	}
	if d.AgentFactory == nil {
		return fmt.Errorf("descriptor %s missing agent factory", d.AgentName)
	}
	if d.EvaluatorFactory == nil {
		return fmt.Errorf("descriptor %s missing evaluator factory", d.AgentName)
	}
	if d.BuildInput == nil {
		return fmt.Errorf("descriptor %s missing input builder", d.AgentName)
	}
	return nil
}

// Upstream returns the upstream asset slice for the agent: the custom builder
// when declared, otherwise the assets named by UpstreamKeys that are present.
func (d *Descriptor) Upstream(assets map[string]any) map[string]any {
	if d.BuildUpstream != nil {
		return d.BuildUpstream(assets)
	}
	upstream := make(map[string]any, len(d.UpstreamKeys))
	for _, key := range d.UpstreamKeys {
		if v, ok := assets[key]; ok {
			upstream[key] = v
		}
	}
	return upstream
}

package director

import (
	"context"
	"fmt"
	"sort"
)

// Plan names the agents to run for a message, in order.
type Plan struct {
	Notes    string
	AgentIDs []string
}

// Policy decides how to delegate a message. The default is a deterministic
// stub; an LLM-backed policy can be swapped in without touching the loop.
type Policy interface {
	Plan(ctx context.Context, msg Message, catalog []AgentInfo) (*Plan, error)
}

// pipelineOrder is the preferred delegation order when the default pipeline
// agents are present.
var pipelineOrder = []string{
	"story_agent",
	"screenplay_agent",
	"storyboard_agent",
	"keyframe_agent",
	"video_agent",
	"audio_agent",
}

// StubPolicy delegates to the known pipeline agents present in the catalog,
// in production order; unknown catalogs fall back to alphabetical order.
type StubPolicy struct{}

// Plan implements Policy.
func (StubPolicy) Plan(_ context.Context, msg Message, catalog []AgentInfo) (*Plan, error) {
	if len(catalog) == 0 {
		return nil, fmt.Errorf("no agents available to plan for message %s", msg.ID)
	}

	available := map[string]bool{}
	for _, info := range catalog {
		available[info.AgentName] = true
	}

	var agentIDs []string
	for _, name := range pipelineOrder {
		if available[name] {
			agentIDs = append(agentIDs, name)
		}
	}
	if len(agentIDs) == 0 {
		for _, info := range catalog {
			agentIDs = append(agentIDs, info.AgentName)
		}
		sort.Strings(agentIDs)
	}

	return &Plan{
		Notes:    fmt.Sprintf("delegating %d agent(s) for message %s", len(agentIDs), msg.ID),
		AgentIDs: agentIDs,
	}, nil
}

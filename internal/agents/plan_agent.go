// Package agents provides the default content pipeline: six descriptors
// covering story → screenplay → storyboard → keyframes → video → audio, plus
// the "plan" manifest builder used by directory discovery.
package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"fable/internal/agent"
	"fable/internal/llm"
)

// planAgent is the shared LLM agent shape: render a system prompt, hand the
// typed input and upstream assets to the model as JSON, and decode a JSON
// object back.
type planAgent struct {
	name    string
	system  string
	client  llm.Client
	augment func(input any, output map[string]any)
}

func newPlanAgent(name, system string, client llm.Client) *planAgent {
	return &planAgent{name: name, system: system, client: client}
}

func (a *planAgent) Name() string { return a.name }

func (a *planAgent) Run(ctx context.Context, input any, upstream map[string]any, _ *agent.MaterializeContext) (map[string]any, error) {
	payload := map[string]any{"input": input}
	if len(upstream) > 0 {
		payload["upstream"] = upstream
	}
	body, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize agent input: %w", err)
	}

	resp, err := a.client.Complete(ctx, llm.Request{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: a.system},
			{Role: llm.RoleUser, Content: string(body)},
		},
	})
	if err != nil {
		return nil, err
	}

	var output map[string]any
	if err := llm.DecodeJSON(resp.Content, &output); err != nil {
		return nil, fmt.Errorf("agent %s: %w", a.name, err)
	}
	if a.augment != nil {
		a.augment(input, output)
	}
	return output, nil
}

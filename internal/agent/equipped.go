package agent

import (
	"context"
	"fmt"

	"fable/internal/errors"
	"fable/internal/llm"
	"fable/internal/logging"
)

// ClientAware is implemented by evaluators that judge creative quality with
// an LLM. The equip step binds the shared client before first use.
type ClientAware interface {
	BindClient(client llm.Client)
}

// EquippedAgent is a descriptor instantiated against live backends: the agent
// itself, its evaluator, and (optionally) its materializer.
type EquippedAgent struct {
	Descriptor   *Descriptor
	Agent        Agent
	Evaluator    Evaluator
	Materializer Materializer

	logger logging.Logger
}

// BuildEquippedAgent instantiates the descriptor. services is the shared
// instance map managed by the registry; any service key the descriptor
// declares that is already present is reused, and newly built instances are
// added to the map for later descriptors.
func (d *Descriptor) BuildEquippedAgent(client llm.Client, services map[string]any, sc *ServiceContext, logger logging.Logger) (*EquippedAgent, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if sc == nil {
		sc = &ServiceContext{}
	}

	for key, factory := range d.ServiceFactories {
		if _, ok := services[key]; ok {
			continue
		}
		instance, err := factory(sc)
		if err != nil {
			return nil, fmt.Errorf("build service %s for %s: %w", key, d.AgentName, err)
		}
		services[key] = instance
	}

	evaluator := d.EvaluatorFactory()
	if aware, ok := evaluator.(ClientAware); ok {
		aware.BindClient(client)
	}

	equipped := &EquippedAgent{
		Descriptor: d,
		Agent:      d.AgentFactory(client),
		Evaluator:  evaluator,
		logger:     logging.OrNop(logger),
	}

	if d.MaterializerFactory != nil {
		materializer, err := d.MaterializerFactory(services)
		if err != nil {
			return nil, fmt.Errorf("build materializer for %s: %w", d.AgentName, err)
		}
		equipped.Materializer = materializer
	}
	return equipped, nil
}

// Run executes the full gated pipeline: generate, check structure, evaluate
// creative quality, materialize, evaluate assets. The returned map is the
// final annotated output.
func (ea *EquippedAgent) Run(ctx context.Context, input any, upstream map[string]any, mctx *MaterializeContext) (map[string]any, error) {
	name := ea.Descriptor.AgentName

	output, err := ea.Agent.Run(ctx, input, upstream, mctx)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", name, err)
	}

	if findings := ea.Evaluator.CheckStructure(output, upstream); len(findings) > 0 {
		ea.logger.Warn("Agent %s output failed structure check: %v", name, findings)
		return nil, &errors.StructureError{Findings: findings}
	}

	report, err := ea.Evaluator.EvaluateCreative(ctx, output, upstream)
	if err != nil {
		return nil, fmt.Errorf("agent %s creative evaluation: %w", name, err)
	}
	if report != nil && !report.OverallPass {
		ea.logger.Warn("Agent %s output rejected by creative evaluation: %s", name, report.Summary)
		return nil, &errors.CreativeRejectionError{Summary: report.Summary}
	}

	if ea.Materializer != nil {
		if mctx == nil {
			return nil, fmt.Errorf("agent %s declares a materializer but no materialize context was supplied", name)
		}
		if err := ea.Materializer.Materialize(ctx, output, mctx); err != nil {
			return nil, fmt.Errorf("agent %s materialization: %w", name, err)
		}
		assetReport, err := ea.Evaluator.EvaluateAsset(output, upstream)
		if err != nil {
			return nil, fmt.Errorf("agent %s asset evaluation: %w", name, err)
		}
		if assetReport != nil && !assetReport.OverallPass {
			return nil, &errors.AssetFailureError{Summary: assetReport.Summary}
		}
	}

	return output, nil
}

package agent

import (
	"context"
	"testing"

	"fable/internal/errors"
	"fable/internal/llm"
)

type stubAgent struct {
	name   string
	output map[string]any
	err    error
}

func (a *stubAgent) Name() string { return a.name }

func (a *stubAgent) Run(_ context.Context, _ any, _ map[string]any, _ *MaterializeContext) (map[string]any, error) {
	return a.output, a.err
}

type stubEvaluator struct {
	findings []string
	creative *EvalReport
	asset    *EvalReport
	client   llm.Client
}

func (e *stubEvaluator) BindClient(client llm.Client) { e.client = client }

func (e *stubEvaluator) CheckStructure(map[string]any, map[string]any) []string {
	return e.findings
}

func (e *stubEvaluator) EvaluateCreative(context.Context, map[string]any, map[string]any) (*EvalReport, error) {
	return e.creative, nil
}

func (e *stubEvaluator) EvaluateAsset(map[string]any, map[string]any) (*EvalReport, error) {
	return e.asset, nil
}

type stubMaterializer struct {
	called bool
}

func (m *stubMaterializer) Materialize(_ context.Context, output map[string]any, _ *MaterializeContext) error {
	m.called = true
	output["materialized"] = true
	return nil
}

func testDescriptor(ev *stubEvaluator) *Descriptor {
	return &Descriptor{
		AgentName: "test_agent",
		AssetKey:  "test_asset",
		AssetType: "json_plan",
		AgentFactory: func(llm.Client) Agent {
			return &stubAgent{name: "test_agent", output: map[string]any{"title": "Dust"}}
		},
		EvaluatorFactory: func() Evaluator { return ev },
		BuildInput: func(projectID, draftID string, assets, config map[string]any) (any, error) {
			return map[string]any{"project_id": projectID}, nil
		},
	}
}

func TestBuildEquippedAgentBindsClient(t *testing.T) {
	t.Parallel()

	ev := &stubEvaluator{}
	client := llm.NewMockClient()
	equipped, err := testDescriptor(ev).BuildEquippedAgent(client, map[string]any{}, nil, nil)
	if err != nil {
		t.Fatalf("BuildEquippedAgent() error = %v", err)
	}
	if ev.client != client {
		t.Fatal("evaluator did not receive the shared client")
	}
	if equipped.Agent.Name() != "test_agent" {
		t.Fatalf("agent name = %q", equipped.Agent.Name())
	}
}

func TestBuildEquippedAgentServiceDedup(t *testing.T) {
	t.Parallel()

	builds := 0
	desc := testDescriptor(&stubEvaluator{})
	desc.ServiceFactories = map[string]ServiceFactory{
		"image_service": func(*ServiceContext) (any, error) {
			builds++
			return "instance", nil
		},
	}

	services := map[string]any{}
	if _, err := desc.BuildEquippedAgent(llm.NewMockClient(), services, nil, nil); err != nil {
		t.Fatalf("BuildEquippedAgent() error = %v", err)
	}
	if _, err := desc.BuildEquippedAgent(llm.NewMockClient(), services, nil, nil); err != nil {
		t.Fatalf("BuildEquippedAgent() error = %v", err)
	}
	if builds != 1 {
		t.Fatalf("service built %d times, want 1: first declaration wins", builds)
	}
	if services["image_service"] != "instance" {
		t.Fatalf("services = %v", services)
	}
}

func TestEquippedRunStructureGate(t *testing.T) {
	t.Parallel()

	ev := &stubEvaluator{findings: []string{"missing required field \"scenes\""}}
	equipped, err := testDescriptor(ev).BuildEquippedAgent(llm.NewMockClient(), map[string]any{}, nil, nil)
	if err != nil {
		t.Fatalf("BuildEquippedAgent() error = %v", err)
	}

	_, err = equipped.Run(context.Background(), nil, nil, nil)
	var structureErr *errors.StructureError
	if !errors.As(err, &structureErr) {
		t.Fatalf("error = %v, want StructureError", err)
	}
	if len(structureErr.Findings) != 1 {
		t.Fatalf("findings = %v", structureErr.Findings)
	}
}

func TestEquippedRunCreativeGate(t *testing.T) {
	t.Parallel()

	ev := &stubEvaluator{creative: &EvalReport{OverallPass: false, Summary: "flat pacing"}}
	equipped, err := testDescriptor(ev).BuildEquippedAgent(llm.NewMockClient(), map[string]any{}, nil, nil)
	if err != nil {
		t.Fatalf("BuildEquippedAgent() error = %v", err)
	}

	_, err = equipped.Run(context.Background(), nil, nil, nil)
	var rejection *errors.CreativeRejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("error = %v, want CreativeRejectionError", err)
	}
}

func TestEquippedRunMaterializes(t *testing.T) {
	t.Parallel()

	ev := &stubEvaluator{
		creative: &EvalReport{OverallPass: true},
		asset:    &EvalReport{OverallPass: true, Summary: "1/1 assets materialized"},
	}
	mat := &stubMaterializer{}
	desc := testDescriptor(ev)
	desc.MaterializerFactory = func(map[string]any) (Materializer, error) { return mat, nil }

	equipped, err := desc.BuildEquippedAgent(llm.NewMockClient(), map[string]any{}, nil, nil)
	if err != nil {
		t.Fatalf("BuildEquippedAgent() error = %v", err)
	}

	// A materializing agent must be given a materialize context.
	if _, err := equipped.Run(context.Background(), nil, nil, nil); err == nil {
		t.Fatal("expected error when materialize context is missing")
	}

	mctx := &MaterializeContext{PersistBinary: func(*MediaAsset) (string, error) { return "path", nil }}
	output, err := equipped.Run(context.Background(), nil, nil, mctx)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !mat.called || output["materialized"] != true {
		t.Fatalf("materializer not invoked: output = %v", output)
	}
}

func TestDescriptorUpstream(t *testing.T) {
	t.Parallel()

	desc := &Descriptor{UpstreamKeys: []string{"story_blueprint", "screenplay"}}
	assets := map[string]any{
		"story_blueprint": map[string]any{"title": "Dust"},
		"unrelated":       map[string]any{},
	}
	upstream := desc.Upstream(assets)
	if len(upstream) != 1 {
		t.Fatalf("upstream = %v", upstream)
	}
	if _, ok := upstream["story_blueprint"]; !ok {
		t.Fatal("declared upstream key missing")
	}
}

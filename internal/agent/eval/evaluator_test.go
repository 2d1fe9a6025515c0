package eval

import (
	"context"
	"strings"
	"testing"

	"fable/internal/llm"
)

func TestCheckStructure(t *testing.T) {
	t.Parallel()

	ev := New(Config{
		RequiredFields: []string{"title", "scenes"},
		ExtraStructure: func(output, _ map[string]any) []string {
			if scenes, ok := output["scenes"].([]any); ok && len(scenes) == 0 {
				return []string{"scenes must not be empty"}
			}
			return nil
		},
	})

	findings := ev.CheckStructure(map[string]any{"title": "Dust", "scenes": []any{}}, nil)
	if len(findings) != 1 || !strings.Contains(findings[0], "scenes must not be empty") {
		t.Fatalf("findings = %v", findings)
	}

	findings = ev.CheckStructure(map[string]any{"scenes": []any{"s1"}}, nil)
	if len(findings) != 1 || !strings.Contains(findings[0], "title") {
		t.Fatalf("findings = %v", findings)
	}

	if findings := ev.CheckStructure(map[string]any{"title": "Dust", "scenes": []any{"s1"}}, nil); len(findings) != 0 {
		t.Fatalf("expected pass, got %v", findings)
	}
}

func TestEvaluateCreativeSkippedWithoutDimensions(t *testing.T) {
	t.Parallel()

	ev := New(Config{})
	report, err := ev.EvaluateCreative(context.Background(), map[string]any{"title": "Dust"}, nil)
	if err != nil {
		t.Fatalf("EvaluateCreative() error = %v", err)
	}
	if report != nil {
		t.Fatalf("expected skipped evaluation, got %+v", report)
	}
}

func TestEvaluateCreativeThreshold(t *testing.T) {
	t.Parallel()

	client := llm.NewMockClient(
		`{"dimensions": [{"name": "coherence", "score": 0.9}, {"name": "originality", "score": 0.4, "rationale": "derivative"}], "summary": "mixed"}`,
	)
	ev := New(Config{CreativeDimensions: []string{"coherence", "originality"}})
	ev.BindClient(client)

	report, err := ev.EvaluateCreative(context.Background(), map[string]any{"title": "Dust"}, nil)
	if err != nil {
		t.Fatalf("EvaluateCreative() error = %v", err)
	}
	if report.OverallPass {
		t.Fatal("expected rejection: originality scored below threshold")
	}
	if !report.Dimensions[0].Pass || report.Dimensions[1].Pass {
		t.Fatalf("dimension pass flags wrong: %+v", report.Dimensions)
	}
}

func TestEvaluateCreativeEmptyVerdictPasses(t *testing.T) {
	t.Parallel()

	client := llm.NewMockClient(`{"dimensions": [], "summary": "nothing to flag"}`)
	ev := New(Config{CreativeDimensions: []string{"coherence"}})
	ev.BindClient(client)

	report, err := ev.EvaluateCreative(context.Background(), map[string]any{}, nil)
	if err != nil {
		t.Fatalf("EvaluateCreative() error = %v", err)
	}
	if !report.OverallPass {
		t.Fatal("empty verdict must pass")
	}
}

func TestEvaluateAsset(t *testing.T) {
	t.Parallel()

	ev := New(Config{})

	output := map[string]any{
		"entities": []any{
			map[string]any{"sys_id": "e1", "uri": "runtime/ws/file_000001.png"},
			map[string]any{"sys_id": "e2", "uri": "error: backend exhausted"},
			map[string]any{"sys_id": "e3"},
		},
		"scenes": map[string]any{
			"anchor": map[string]any{"sys_id": "s1", "uri": "runtime/ws/file_000002.png"},
		},
	}

	report, err := ev.EvaluateAsset(output, nil)
	if err != nil {
		t.Fatalf("EvaluateAsset() error = %v", err)
	}
	// 2 of 4 succeeded: below the 0.65 threshold.
	if report.OverallPass {
		t.Fatalf("expected failure at 0.5 success rate, got %+v", report)
	}
	if report.Summary != "2/4 assets materialized" {
		t.Fatalf("summary = %q", report.Summary)
	}

	report, err = ev.EvaluateAsset(map[string]any{"plain": "no slots"}, nil)
	if err != nil {
		t.Fatalf("EvaluateAsset() error = %v", err)
	}
	if report != nil {
		t.Fatalf("expected nil report with no asset slots, got %+v", report)
	}
}

// Package eval implements the three-layer output gate shared by all
// sub-agents: deterministic structure checks, LLM-judged creative review, and
// post-materialization asset accounting.
package eval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"fable/internal/agent"
	"fable/internal/llm"
)

// DefaultPassThreshold is the per-dimension score below which creative output
// is rejected, and the minimum asset success rate.
const DefaultPassThreshold = 0.65

// StructureCheck is an agent-specific deterministic check. It returns
// findings; empty means pass.
type StructureCheck func(output map[string]any, upstream map[string]any) []string

// Config declares what an evaluator enforces.
type Config struct {
	// RequiredFields are top-level output keys that must be present and non-nil.
	RequiredFields []string
	// CreativeDimensions are the axes the LLM judge scores. Empty means the
	// creative layer is skipped entirely.
	CreativeDimensions []string
	// ExtraStructure runs after the required-field check.
	ExtraStructure StructureCheck
	// PassThreshold overrides DefaultPassThreshold when > 0.
	PassThreshold float64
}

// Evaluator is the standard gate implementation. The LLM client is bound at
// equip time through agent.ClientAware.
type Evaluator struct {
	cfg    Config
	client llm.Client
}

// New builds an evaluator from cfg.
func New(cfg Config) *Evaluator {
	if cfg.PassThreshold <= 0 {
		cfg.PassThreshold = DefaultPassThreshold
	}
	return &Evaluator{cfg: cfg}
}

// BindClient injects the shared LLM client used for creative review.
func (e *Evaluator) BindClient(client llm.Client) {
	e.client = client
}

// CheckStructure verifies required fields and runs the agent-specific check.
func (e *Evaluator) CheckStructure(output map[string]any, upstream map[string]any) []string {
	var findings []string
	for _, field := range e.cfg.RequiredFields {
		v, ok := output[field]
		if !ok || v == nil {
			findings = append(findings, fmt.Sprintf("missing required field %q", field))
		}
	}
	if e.cfg.ExtraStructure != nil {
		findings = append(findings, e.cfg.ExtraStructure(output, upstream)...)
	}
	return findings
}

type creativeVerdict struct {
	Dimensions []agent.Dimension `json:"dimensions"`
	Summary    string            `json:"summary"`
}

// EvaluateCreative asks the LLM judge to score each declared dimension in
// [0,1]. A dimension passes at or above the threshold; the output passes only
// when every dimension does. Returns (nil, nil) when no dimensions are
// declared.
func (e *Evaluator) EvaluateCreative(ctx context.Context, output map[string]any, upstream map[string]any) (*agent.EvalReport, error) {
	if len(e.cfg.CreativeDimensions) == 0 {
		return nil, nil
	}
	if e.client == nil {
		return nil, fmt.Errorf("creative evaluation requires an LLM client")
	}

	outputJSON, err := json.MarshalIndent(output, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("serialize output for review: %w", err)
	}
	upstreamJSON, _ := json.MarshalIndent(upstream, "", "  ")

	prompt := fmt.Sprintf(`You are a strict creative reviewer for a content production pipeline.

Score the OUTPUT below on each of these dimensions, 0.0 to 1.0:
%s

Judge the output on its own merits and its consistency with the UPSTREAM material.

UPSTREAM:
%s

OUTPUT:
%s

Respond with JSON only:
{"dimensions": [{"name": "...", "score": 0.0, "rationale": "..."}], "summary": "..."}`,
		"- "+strings.Join(e.cfg.CreativeDimensions, "\n- "), upstreamJSON, outputJSON)

	resp, err := e.client.Complete(ctx, llm.Request{
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("creative review call: %w", err)
	}

	var verdict creativeVerdict
	if err := llm.DecodeJSON(resp.Content, &verdict); err != nil {
		return nil, fmt.Errorf("parse creative review: %w", err)
	}

	report := &agent.EvalReport{
		Dimensions:  verdict.Dimensions,
		OverallPass: true,
		Summary:     verdict.Summary,
	}
	// A judge that returns no dimensions has nothing to object to.
	for i := range report.Dimensions {
		d := &report.Dimensions[i]
		d.Pass = d.Score >= e.cfg.PassThreshold
		if !d.Pass {
			report.OverallPass = false
			if report.Summary == "" {
				report.Summary = fmt.Sprintf("%s scored %.2f", d.Name, d.Score)
			}
		}
	}
	return report, nil
}

// EvaluateAsset walks the materialized output, classifies every asset slot
// (maps carrying a sys_id) as succeeded, failed, or missing by its uri, and
// passes when the success rate meets the threshold. Returns (nil, nil) when
// the output holds no asset slots.
func (e *Evaluator) EvaluateAsset(assetData map[string]any, upstream map[string]any) (*agent.EvalReport, error) {
	var succeeded, failed, missing int
	walkAssetSlots(assetData, func(slot map[string]any) {
		uri, _ := slot["uri"].(string)
		switch {
		case uri == "":
			missing++
		case strings.HasPrefix(uri, "error:"):
			failed++
		default:
			succeeded++
		}
	})

	total := succeeded + failed + missing
	if total == 0 {
		return nil, nil
	}

	rate := float64(succeeded) / float64(total)
	report := &agent.EvalReport{
		Dimensions: []agent.Dimension{{
			Name:      "asset_success_rate",
			Score:     rate,
			Pass:      rate >= e.cfg.PassThreshold,
			Rationale: fmt.Sprintf("%d succeeded, %d failed, %d missing", succeeded, failed, missing),
		}},
		OverallPass: rate >= e.cfg.PassThreshold,
		Summary:     fmt.Sprintf("%d/%d assets materialized", succeeded, total),
	}
	return report, nil
}

// walkAssetSlots visits every nested map that carries a "sys_id" key, the
// marker every materializable slot carries.
func walkAssetSlots(v any, visit func(slot map[string]any)) {
	switch node := v.(type) {
	case map[string]any:
		if _, ok := node["sys_id"]; ok {
			visit(node)
		}
		for _, child := range node {
			walkAssetSlots(child, visit)
		}
	case []any:
		for _, child := range node {
			walkAssetSlots(child, visit)
		}
	}
}

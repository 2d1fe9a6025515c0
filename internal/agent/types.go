// Package agent defines the sub-agent protocol: the descriptor manifest, the
// agent and evaluator contracts, and the materialization handshake types.
//
// Descriptors are immutable values; the registry holds descriptors and never
// the other way around.
package agent

import (
	"context"
)

// Agent runs one generation step. Implementations receive the typed input
// built by their descriptor and the upstream assets they declared.
type Agent interface {
	// Name returns the agent's unique name.
	Name() string
	// Run executes the agent. mctx is non-nil only when the descriptor
	// declares a materializer. The returned map becomes the execution result
	// and, stripped of private keys, the agent's asset record.
	Run(ctx context.Context, input any, upstream map[string]any, mctx *MaterializeContext) (map[string]any, error)
}

// MediaAsset is one binary emitted by a materializer. The materializer never
// writes files itself: the caller persists Bytes and writes the resulting URI
// back into URIHolder under "uri".
type MediaAsset struct {
	SysID     string
	Bytes     []byte
	Extension string
	URIHolder map[string]any
}

// MaterializeContext is supplied by the caller when the descriptor declares a
// materializer. PersistBinary writes the asset to a scratch location and
// returns its path.
type MaterializeContext struct {
	PersistBinary func(asset *MediaAsset) (string, error)
}

// Materializer generates binary assets from an already-validated plan. It
// emits MediaAssets through the context and annotates the output map; it
// never touches the filesystem.
type Materializer interface {
	Materialize(ctx context.Context, output map[string]any, mctx *MaterializeContext) error
}

// Dimension is one scored axis of a creative or asset evaluation.
type Dimension struct {
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
	Pass      bool    `json:"pass"`
	Rationale string  `json:"rationale,omitempty"`
}

// EvalReport is the outcome of a creative or asset evaluation.
type EvalReport struct {
	Dimensions  []Dimension `json:"dimensions"`
	OverallPass bool        `json:"overall_pass"`
	Summary     string      `json:"summary"`
}

// Evaluator gates agent output in three layers: deterministic structure
// checks, LLM-judged creative review, and post-materialization asset review.
type Evaluator interface {
	// CheckStructure returns deterministic structural findings; empty means pass.
	CheckStructure(output map[string]any, upstream map[string]any) []string
	// EvaluateCreative scores the declared creative dimensions. A nil report
	// means the evaluation was skipped (no dimensions declared).
	EvaluateCreative(ctx context.Context, output map[string]any, upstream map[string]any) (*EvalReport, error)
	// EvaluateAsset classifies materialized asset URIs and reports success rates.
	EvaluateAsset(assetData map[string]any, upstream map[string]any) (*EvalReport, error)
}

// ServiceContext is handed to service factories at construction time.
type ServiceContext struct {
	Config map[string]any
}

// Package materialize implements the keyframe materialization runtime: four
// sequential layers (reference injection, global anchors, scene anchors, shot
// keyframes) with full concurrency inside each layer and an all-complete
// barrier between layers.
//
// The runtime never writes files. It emits MediaAssets through the
// MaterializeContext; the caller persists bytes and writes the URI back into
// the slot the asset points at.
package materialize

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fable/internal/agent"
	"fable/internal/errors"
	"fable/internal/ids"
	"fable/internal/logging"
	"fable/internal/media"
)

const (
	// DefaultMaxPasses is how many full passes a layer gets over its failed
	// items before the materialization fails.
	DefaultMaxPasses = 10
	// DefaultConcurrency bounds simultaneous adapter calls within a layer.
	DefaultConcurrency = 8

	imageExtension = ".png"
)

// Option configures a Runtime.
type Option func(*Runtime)

// WithRetryPolicy sets the backoff between layer passes.
func WithRetryPolicy(policy media.RetryPolicy) Option {
	return func(rt *Runtime) {
		rt.retry.BaseDelay = policy.BaseDelay
		rt.retry.MaxDelay = policy.MaxDelay
	}
}

// WithMaxPasses overrides the per-layer pass ceiling.
func WithMaxPasses(n int) Option {
	return func(rt *Runtime) {
		if n > 0 {
			rt.maxPasses = n
		}
	}
}

// WithConcurrency bounds simultaneous adapter calls within a layer.
func WithConcurrency(n int) Option {
	return func(rt *Runtime) {
		if n > 0 {
			rt.concurrency = n
		}
	}
}

// WithLogger sets the runtime logger.
func WithLogger(logger logging.Logger) Option {
	return func(rt *Runtime) {
		rt.logger = logging.OrNop(logger)
	}
}

// Runtime drives keyframe materialization against an image backend.
type Runtime struct {
	image       media.ImageService
	retry       errors.RetryConfig
	maxPasses   int
	concurrency int
	logger      logging.Logger
}

// New builds a Runtime around the image service.
func New(image media.ImageService, opts ...Option) *Runtime {
	policy := media.DefaultRetryPolicy()
	rt := &Runtime{
		image: image,
		retry: errors.RetryConfig{
			BaseDelay:    policy.BaseDelay,
			MaxDelay:     policy.MaxDelay,
			JitterFactor: 0.25,
		},
		maxPasses:   DefaultMaxPasses,
		concurrency: DefaultConcurrency,
		logger:      logging.Nop(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Materialize runs the full layer sequence over the validated keyframe plan.
func (rt *Runtime) Materialize(ctx context.Context, output map[string]any, mctx *agent.MaterializeContext) error {
	if mctx == nil || mctx.PersistBinary == nil {
		return fmt.Errorf("materialize context with persist_binary is required")
	}
	p, err := parsePlan(output)
	if err != nil {
		return errors.Validation("invalid keyframe plan: %v", err)
	}

	rt.injectReferences(p, mctx)

	if err := rt.runLayer(ctx, "global_anchors", rt.anchorJobs(p, rt.pendingAnchors(p), mctx)); err != nil {
		return err
	}
	if err := rt.runLayer(ctx, "backfill", rt.anchorJobs(p, rt.backfillAnchors(p), mctx)); err != nil {
		return err
	}

	l2 := map[string]map[string][]byte{} // scene_id -> entity_id -> bytes
	var l2mu sync.Mutex
	if err := rt.runLayer(ctx, "scene_anchors", rt.sceneJobs(p, l2, &l2mu, mctx)); err != nil {
		return err
	}

	shotJobs, err := rt.shotJobs(p, l2, mctx)
	if err != nil {
		return err
	}
	return rt.runLayer(ctx, "shot_keyframes", shotJobs)
}

// injectReferences binds user-provided reference images to global anchor
// entities: type bucket first, then case-insensitive keyword match of the
// label against the entity's identifying text; an unmatched reference binds
// anyway when its bucket holds exactly one candidate. Anything else is
// skipped with a warning.
func (rt *Runtime) injectReferences(p *plan, mctx *agent.MaterializeContext) {
	for _, ref := range p.references {
		var bucket []*anchor
		for _, a := range p.anchors {
			if !a.satisfied && a.entityType == ref.entityType {
				bucket = append(bucket, a)
			}
		}

		var match *anchor
		for _, a := range bucket {
			if rt.keywordHit(p, ref.label, a) {
				match = a
				break
			}
		}
		if match == nil && len(bucket) == 1 {
			match = bucket[0]
		}
		if match == nil {
			rt.logger.Warn("Reference %q (%s) matched no anchor entity, skipping", ref.label, ref.entityType)
			continue
		}

		match.bytes = ref.data
		match.satisfied = true
		if err := rt.emit(match.sysID, ref.data, match.slot, mctx); err != nil {
			// The bytes are still usable downstream even if persistence failed.
			rt.logger.Warn("Persist reference image for %s failed: %v", match.entityID, err)
		}
		rt.logger.Info("Reference %q bound to entity %s", ref.label, match.entityID)
	}
}

func (rt *Runtime) keywordHit(p *plan, label string, a *anchor) bool {
	fields := []string{a.entityID, a.promptSummary, a.name, a.description, p.blueprint[a.entityID]}
	for _, f := range fields {
		if containsFold(f, label) || containsFold(label, f) {
			return true
		}
	}
	return false
}

func (rt *Runtime) pendingAnchors(p *plan) []*anchor {
	var out []*anchor
	for _, a := range p.anchors {
		if !a.satisfied {
			out = append(out, a)
		}
	}
	return out
}

// backfillAnchors creates anchors for scene-level entities absent from the
// global anchor list, appending their slots to the plan output so their URIs
// are recorded alongside the rest.
func (rt *Runtime) backfillAnchors(p *plan) []*anchor {
	var out []*anchor
	for _, entityID := range p.sceneEntityIDs() {
		if p.anchorByEntity(entityID) != nil {
			continue
		}
		prompt := p.blueprint[entityID]
		if prompt == "" {
			prompt = entityID
		}
		slot := map[string]any{
			"sys_id":         "kf_" + ids.RandSuffix(),
			"entity_id":      entityID,
			"prompt_summary": prompt,
			"backfilled":     true,
		}
		p.raw["global_anchors"] = append(getSlice(p.raw, "global_anchors"), any(slot))
		a := anchorFromSlot(slot)
		p.anchors = append(p.anchors, a)
		out = append(out, a)
		rt.logger.Info("Backfilling scene entity %s into global anchors", entityID)
	}
	return out
}

type job struct {
	describe string
	slot     map[string]any
	run      func(ctx context.Context) error
}

func (rt *Runtime) anchorJobs(p *plan, anchors []*anchor, mctx *agent.MaterializeContext) []job {
	jobs := make([]job, 0, len(anchors))
	for _, a := range anchors {
		a := a
		jobs = append(jobs, job{
			describe: "entity " + a.entityID,
			slot:     a.slot,
			run: func(ctx context.Context) error {
				data, err := rt.image.GenerateImage(ctx, a.promptSummary+p.styleSuffix)
				if err != nil {
					return err
				}
				a.bytes = data
				a.satisfied = true
				return rt.emit(a.sysID, data, a.slot, mctx)
			},
		})
	}
	return jobs
}

func (rt *Runtime) sceneJobs(p *plan, l2 map[string]map[string][]byte, mu *sync.Mutex, mctx *agent.MaterializeContext) []job {
	var jobs []job
	for _, sc := range p.scenes {
		sc := sc
		for _, entry := range sc.stability {
			entry := entry
			jobs = append(jobs, job{
				describe: fmt.Sprintf("scene %s entity %s", sc.sceneID, entry.entityID),
				slot:     entry.slot,
				run: func(ctx context.Context) error {
					a := p.anchorByEntity(entry.entityID)
					if a == nil || len(a.bytes) == 0 {
						return fmt.Errorf("no anchor bytes for entity %s", entry.entityID)
					}
					prompt := sc.prompt
					if entry.prompt != "" {
						prompt += " " + entry.prompt
					}
					data, err := rt.image.EditImage(ctx, prompt, [][]byte{a.bytes})
					if err != nil {
						return err
					}
					entry.bytes = data
					mu.Lock()
					if l2[sc.sceneID] == nil {
						l2[sc.sceneID] = map[string][]byte{}
					}
					l2[sc.sceneID][entry.entityID] = data
					mu.Unlock()
					return rt.emit(entry.sysID, data, entry.slot, mctx)
				},
			})
		}
	}
	return jobs
}

// shotJobs builds the L3 jobs. A shot with no scene-level references is a
// plan defect, not a transient failure, so it fails the materialization up
// front.
func (rt *Runtime) shotJobs(p *plan, l2 map[string]map[string][]byte, mctx *agent.MaterializeContext) ([]job, error) {
	var jobs []job
	for _, sc := range p.scenes {
		sc := sc
		sceneBytes := l2[sc.sceneID]
		for _, shot := range sc.shots {
			shot := shot
			refs := rt.shotReferences(p, sceneBytes, sc, shot)
			if len(refs) == 0 {
				return nil, errors.Validation("shot %s in scene %s has no keyframe references", shot.shotID, sc.sceneID)
			}
			jobs = append(jobs, job{
				describe: fmt.Sprintf("shot %s", shot.shotID),
				slot:     shot.slot,
				run: func(ctx context.Context) error {
					data, err := rt.image.EditImage(ctx, shot.prompt, refs)
					if err != nil {
						return err
					}
					return rt.emit(shot.sysID, data, shot.slot, mctx)
				},
			})
		}
	}
	return jobs, nil
}

// shotReferences collects scene-anchor bytes for characters in frame, the
// scene location, and props in frame, falling back to global-anchor bytes for
// entities without a scene anchor.
func (rt *Runtime) shotReferences(p *plan, sceneBytes map[string][]byte, sc *scene, shot *shotSlot) [][]byte {
	entityIDs := append([]string{}, shot.characters...)
	if sc.location != "" {
		entityIDs = append(entityIDs, sc.location)
	}
	entityIDs = append(entityIDs, shot.props...)

	var refs [][]byte
	for _, entityID := range entityIDs {
		if data, ok := sceneBytes[entityID]; ok {
			refs = append(refs, data)
			continue
		}
		if a := p.anchorByEntity(entityID); a != nil && len(a.bytes) > 0 {
			refs = append(refs, a.bytes)
		}
	}
	return refs
}

// runLayer fans jobs out with bounded concurrency and retries failures in
// whole-layer passes with capped backoff. The next layer never starts until
// this one returns.
func (rt *Runtime) runLayer(ctx context.Context, name string, jobs []job) error {
	pending := jobs
	var lastErr error

	for pass := 0; pass < rt.maxPasses && len(pending) > 0; pass++ {
		if pass > 0 {
			delay := errors.Backoff(pass-1, rt.retry)
			rt.logger.Warn("Layer %s: retrying %d item(s), pass %d/%d in %v", name, len(pending), pass+1, rt.maxPasses, delay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		var mu sync.Mutex
		var next []job
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(rt.concurrency)
		for _, j := range pending {
			j := j
			g.Go(func() error {
				if err := j.run(gctx); err != nil {
					mu.Lock()
					next = append(next, j)
					lastErr = err
					mu.Unlock()
					rt.logger.Warn("Layer %s: %s failed: %v", name, j.describe, err)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		pending = next
	}

	if len(pending) > 0 {
		for _, j := range pending {
			rt.logger.Error("Layer %s: %s unsatisfied after %d passes", name, j.describe, rt.maxPasses)
			if j.slot != nil {
				j.slot["uri"] = fmt.Sprintf("error: %v", lastErr)
			}
		}
		return errors.Adapter("image", fmt.Errorf("layer %s: %d item(s) unsatisfied after %d passes: %w", name, len(pending), rt.maxPasses, lastErr))
	}
	rt.logger.Info("Layer %s complete: %d item(s)", name, len(jobs))
	return nil
}

// emit hands one asset to the caller for persistence. Slots without a sys_id
// get one so asset accounting can find them.
func (rt *Runtime) emit(sysID string, data []byte, slot map[string]any, mctx *agent.MaterializeContext) error {
	if sysID == "" {
		sysID = "kf_" + ids.RandSuffix()
	}
	if _, ok := slot["sys_id"]; !ok {
		slot["sys_id"] = sysID
	}
	asset := &agent.MediaAsset{
		SysID:     sysID,
		Bytes:     data,
		Extension: imageExtension,
		URIHolder: slot,
	}
	if _, err := mctx.PersistBinary(asset); err != nil {
		return fmt.Errorf("persist %s: %w", sysID, err)
	}
	return nil
}

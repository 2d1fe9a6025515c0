package materialize

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"fable/internal/agent"
	"fable/internal/errors"
	"fable/internal/media"
)

// recordingImage wraps the media mock and tags every call so tests can check
// layer ordering.
type recordingImage struct {
	mu    sync.Mutex
	seq   []string
	inner *media.MockImageService
}

func newRecordingImage() *recordingImage {
	return &recordingImage{inner: media.NewMockImageService()}
}

func (r *recordingImage) record(kind string) {
	r.mu.Lock()
	r.seq = append(r.seq, kind)
	r.mu.Unlock()
}

func (r *recordingImage) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	r.record("generate")
	return r.inner.GenerateImage(ctx, prompt)
}

func (r *recordingImage) EditImage(ctx context.Context, prompt string, refs [][]byte) ([]byte, error) {
	r.record("edit")
	return r.inner.EditImage(ctx, prompt, refs)
}

func (r *recordingImage) sequence() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seq...)
}

func testMctx() (*agent.MaterializeContext, *[]string) {
	var mu sync.Mutex
	persisted := []string{}
	mctx := &agent.MaterializeContext{
		PersistBinary: func(asset *agent.MediaAsset) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			path := fmt.Sprintf("runtime/ws/%s.png", asset.SysID)
			persisted = append(persisted, asset.SysID)
			asset.URIHolder["uri"] = path
			return path, nil
		},
	}
	return mctx, &persisted
}

func testPlan() map[string]any {
	return map[string]any{
		"style_suffix": ", watercolor",
		"global_anchors": []any{
			map[string]any{"sys_id": "a1", "entity_id": "hero", "entity_type": "character", "name": "Mara", "prompt_summary": "a dust-covered courier"},
			map[string]any{"sys_id": "a2", "entity_id": "depot", "entity_type": "location", "name": "Depot", "prompt_summary": "an abandoned rail depot"},
		},
		"scenes": []any{
			map[string]any{
				"scene_id": "s1",
				"prompt":   "night, rain on the platform",
				"location": "depot",
				"stability_keyframes": []any{
					map[string]any{"sys_id": "st1", "entity_id": "hero", "prompt": "soaked coat"},
					map[string]any{"sys_id": "st2", "entity_id": "depot"},
				},
				"shots": []any{
					map[string]any{"sys_id": "sh1", "shot_id": "s1-01", "prompt": "wide shot", "characters_in_frame": []any{"hero"}},
					map[string]any{"sys_id": "sh2", "shot_id": "s1-02", "prompt": "close on hands", "characters_in_frame": []any{"hero"}},
				},
			},
		},
	}
}

func fastRetry() media.RetryPolicy {
	return media.RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func TestMaterializeLayerOrdering(t *testing.T) {
	t.Parallel()

	img := newRecordingImage()
	rt := New(img, WithRetryPolicy(fastRetry()))
	mctx, persisted := testMctx()

	output := testPlan()
	if err := rt.Materialize(context.Background(), output, mctx); err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	seq := img.sequence()
	// 2 anchors generated, then 2 scene edits, then 2 shot edits.
	if len(seq) != 6 {
		t.Fatalf("calls = %v, want 6", seq)
	}
	lastGenerate, firstEdit := -1, len(seq)
	for i, kind := range seq {
		if kind == "generate" && i > lastGenerate {
			lastGenerate = i
		}
		if kind == "edit" && i < firstEdit {
			firstEdit = i
		}
	}
	if lastGenerate > firstEdit {
		t.Fatalf("anchor generation after edits: %v", seq)
	}
	if len(*persisted) != 6 {
		t.Fatalf("persisted = %v, want 6 assets", *persisted)
	}

	// Every slot got a URI written back.
	for _, item := range output["global_anchors"].([]any) {
		slot := item.(map[string]any)
		if uri, _ := slot["uri"].(string); uri == "" {
			t.Fatalf("anchor %v missing uri", slot["entity_id"])
		}
	}
}

func TestMaterializeReferenceInjectionSkipsGeneration(t *testing.T) {
	t.Parallel()

	img := newRecordingImage()
	rt := New(img, WithRetryPolicy(fastRetry()))
	mctx, _ := testMctx()

	output := testPlan()
	output["_reference_images"] = []any{
		map[string]any{"label": "Mara", "entity_type": "character", "data": []byte("user-supplied")},
	}

	if err := rt.Materialize(context.Background(), output, mctx); err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	generates := 0
	for _, kind := range img.sequence() {
		if kind == "generate" {
			generates++
		}
	}
	// The hero anchor was satisfied by the reference; only the depot generates.
	if generates != 1 {
		t.Fatalf("generate calls = %d, want 1", generates)
	}
}

func TestMaterializeSingletonBucketBinds(t *testing.T) {
	t.Parallel()

	img := newRecordingImage()
	rt := New(img, WithRetryPolicy(fastRetry()))
	mctx, _ := testMctx()

	output := testPlan()
	// Label matches nothing, but the character bucket has exactly one candidate.
	output["_reference_images"] = []any{
		map[string]any{"label": "xyzzy", "entity_type": "character", "data": []byte("ref")},
	}

	if err := rt.Materialize(context.Background(), output, mctx); err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	generates := 0
	for _, kind := range img.sequence() {
		if kind == "generate" {
			generates++
		}
	}
	if generates != 1 {
		t.Fatalf("generate calls = %d, want 1: singleton bucket must bind", generates)
	}
}

func TestMaterializeBackfillsSceneEntities(t *testing.T) {
	t.Parallel()

	img := newRecordingImage()
	rt := New(img, WithRetryPolicy(fastRetry()))
	mctx, _ := testMctx()

	output := testPlan()
	scenes := output["scenes"].([]any)
	scene := scenes[0].(map[string]any)
	scene["stability_keyframes"] = append(scene["stability_keyframes"].([]any),
		map[string]any{"sys_id": "st3", "entity_id": "lantern"})
	output["blueprint_text"] = map[string]any{"lantern": "a cracked signal lantern"}

	if err := rt.Materialize(context.Background(), output, mctx); err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}

	anchors := output["global_anchors"].([]any)
	if len(anchors) != 3 {
		t.Fatalf("anchors = %d, want 3 after backfill", len(anchors))
	}
	found := false
	for _, item := range anchors {
		slot := item.(map[string]any)
		if slot["entity_id"] == "lantern" {
			found = true
			if slot["backfilled"] != true {
				t.Fatal("backfilled anchor not marked")
			}
			if uri, _ := slot["uri"].(string); uri == "" {
				t.Fatal("backfilled anchor missing uri")
			}
		}
	}
	if !found {
		t.Fatal("lantern anchor not appended to plan")
	}
}

func TestMaterializeRetriesTransientFailures(t *testing.T) {
	t.Parallel()

	img := newRecordingImage()
	img.inner.FailFirst = 2
	rt := New(img, WithRetryPolicy(fastRetry()), WithMaxPasses(5))
	mctx, _ := testMctx()

	if err := rt.Materialize(context.Background(), testPlan(), mctx); err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
}

func TestMaterializeFailsAfterPassCeiling(t *testing.T) {
	t.Parallel()

	img := newRecordingImage()
	img.inner.FailFirst = 100
	rt := New(img, WithRetryPolicy(fastRetry()), WithMaxPasses(3))
	mctx, _ := testMctx()

	output := testPlan()
	err := rt.Materialize(context.Background(), output, mctx)
	if !errors.IsAdapter(err) {
		t.Fatalf("error = %v, want AdapterError", err)
	}

	// Exhausted slots carry an error URI for asset accounting.
	slot := output["global_anchors"].([]any)[0].(map[string]any)
	if uri, _ := slot["uri"].(string); !strings.HasPrefix(uri, "error:") {
		t.Fatalf("uri = %q, want error prefix", uri)
	}
}

func TestMaterializeShotWithoutReferencesIsFatal(t *testing.T) {
	t.Parallel()

	img := newRecordingImage()
	rt := New(img, WithRetryPolicy(fastRetry()))
	mctx, _ := testMctx()

	output := map[string]any{
		"global_anchors": []any{
			map[string]any{"sys_id": "a1", "entity_id": "hero", "entity_type": "character", "prompt_summary": "a courier"},
		},
		"scenes": []any{
			map[string]any{
				"scene_id": "s1",
				"prompt":   "night",
				"shots": []any{
					map[string]any{"sys_id": "sh1", "shot_id": "s1-01", "prompt": "empty frame"},
				},
			},
		},
	}

	err := rt.Materialize(context.Background(), output, mctx)
	if !errors.IsValidation(err) {
		t.Fatalf("error = %v, want Validation", err)
	}
}

package materialize

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// The plan types are views over the agent's output map. Each slot keeps a
// pointer to its underlying map so URIs land in the output the caller already
// holds.

type anchor struct {
	slot          map[string]any
	sysID         string
	entityID      string
	entityType    string
	name          string
	description   string
	promptSummary string

	satisfied bool
	bytes     []byte
}

type stabilitySlot struct {
	slot     map[string]any
	sysID    string
	entityID string
	prompt   string

	bytes []byte
}

type shotSlot struct {
	slot       map[string]any
	sysID      string
	shotID     string
	prompt     string
	characters []string
	props      []string
}

type scene struct {
	sceneID   string
	prompt    string
	location  string
	stability []*stabilitySlot
	shots     []*shotSlot
}

type reference struct {
	label      string
	entityType string
	data       []byte
}

type plan struct {
	raw         map[string]any
	styleSuffix string
	anchors     []*anchor
	scenes      []*scene
	blueprint   map[string]string
	references  []reference
}

func parsePlan(output map[string]any) (*plan, error) {
	p := &plan{raw: output, blueprint: map[string]string{}}
	p.styleSuffix = getString(output, "style_suffix")

	for i, item := range getSlice(output, "global_anchors") {
		slot, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("global_anchors[%d] is not an object", i)
		}
		a := anchorFromSlot(slot)
		if a.entityID == "" {
			return nil, fmt.Errorf("global_anchors[%d] missing entity_id", i)
		}
		p.anchors = append(p.anchors, a)
	}

	for i, item := range getSlice(output, "scenes") {
		slot, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("scenes[%d] is not an object", i)
		}
		sc := &scene{
			sceneID:  getString(slot, "scene_id"),
			prompt:   getString(slot, "prompt"),
			location: getString(slot, "location"),
		}
		if sc.sceneID == "" {
			return nil, fmt.Errorf("scenes[%d] missing scene_id", i)
		}
		for j, kf := range getSlice(slot, "stability_keyframes") {
			kfSlot, ok := kf.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("scenes[%d].stability_keyframes[%d] is not an object", i, j)
			}
			entry := &stabilitySlot{
				slot:     kfSlot,
				sysID:    getString(kfSlot, "sys_id"),
				entityID: getString(kfSlot, "entity_id"),
				prompt:   getString(kfSlot, "prompt"),
			}
			if entry.entityID == "" {
				return nil, fmt.Errorf("scenes[%d].stability_keyframes[%d] missing entity_id", i, j)
			}
			sc.stability = append(sc.stability, entry)
		}
		for j, sh := range getSlice(slot, "shots") {
			shSlot, ok := sh.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("scenes[%d].shots[%d] is not an object", i, j)
			}
			sc.shots = append(sc.shots, &shotSlot{
				slot:       shSlot,
				sysID:      getString(shSlot, "sys_id"),
				shotID:     getString(shSlot, "shot_id"),
				prompt:     getString(shSlot, "prompt"),
				characters: getStringSlice(shSlot, "characters_in_frame"),
				props:      getStringSlice(shSlot, "props_in_frame"),
			})
		}
		p.scenes = append(p.scenes, sc)
	}

	if bp, ok := output["blueprint_text"].(map[string]any); ok {
		for k, v := range bp {
			if s, ok := v.(string); ok {
				p.blueprint[k] = s
			}
		}
	}

	for i, item := range getSlice(output, "_reference_images") {
		slot, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ref := reference{
			label:      getString(slot, "label"),
			entityType: getString(slot, "entity_type"),
		}
		switch data := slot["data"].(type) {
		case []byte:
			ref.data = data
		case string:
			decoded, err := base64.StdEncoding.DecodeString(data)
			if err != nil {
				return nil, fmt.Errorf("_reference_images[%d]: bad base64 data: %w", i, err)
			}
			ref.data = decoded
		}
		if len(ref.data) > 0 {
			p.references = append(p.references, ref)
		}
	}

	return p, nil
}

func anchorFromSlot(slot map[string]any) *anchor {
	return &anchor{
		slot:          slot,
		sysID:         getString(slot, "sys_id"),
		entityID:      getString(slot, "entity_id"),
		entityType:    getString(slot, "entity_type"),
		name:          getString(slot, "name"),
		description:   getString(slot, "description"),
		promptSummary: getString(slot, "prompt_summary"),
	}
}

func (p *plan) anchorByEntity(entityID string) *anchor {
	for _, a := range p.anchors {
		if a.entityID == entityID {
			return a
		}
	}
	return nil
}

// sceneEntityIDs returns the entity ids referenced by any scene's stability
// keyframes, in first-seen order.
func (p *plan) sceneEntityIDs() []string {
	seen := map[string]bool{}
	var out []string
	for _, sc := range p.scenes {
		for _, entry := range sc.stability {
			if !seen[entry.entityID] {
				seen[entry.entityID] = true
				out = append(out, entry.entityID)
			}
		}
	}
	return out
}

func getString(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func getSlice(m map[string]any, key string) []any {
	s, _ := m[key].([]any)
	return s
}

func getStringSlice(m map[string]any, key string) []string {
	var out []string
	for _, v := range getSlice(m, key) {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func containsFold(haystack, needle string) bool {
	if haystack == "" || needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

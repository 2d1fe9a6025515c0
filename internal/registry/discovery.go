package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"fable/internal/agent"
	"fable/internal/errors"
)

// Manifest is the on-disk agent declaration, agents/<name>/agent.yaml.
type Manifest struct {
	Name               string         `yaml:"name"`
	Builder            string         `yaml:"builder"`
	AssetKey           string         `yaml:"asset_key"`
	AssetType          string         `yaml:"asset_type"`
	UpstreamKeys       []string       `yaml:"upstream_keys"`
	CatalogEntry       string         `yaml:"catalog_entry"`
	UserTextKey        string         `yaml:"user_text_key"`
	Prompt             string         `yaml:"prompt"`
	RequiredFields     []string       `yaml:"required_fields"`
	CreativeDimensions []string       `yaml:"creative_dimensions"`
	Extra              map[string]any `yaml:"extra"`
}

// ManifestBuilder turns a parsed manifest into a descriptor. Builders are
// registered in code; manifests reference them by name.
type ManifestBuilder func(m Manifest) (*agent.Descriptor, error)

// DiscoverDir walks dir for <agent>/agent.yaml manifests, binds each to its
// builder and registers the result. A broken manifest is logged and skipped;
// one bad agent never blocks the rest. Returns the number registered. A
// missing directory is not an error.
func (r *Registry) DiscoverDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read agents directory %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		agentDir := filepath.Join(dir, entry.Name())
		if err := r.loadManifest(agentDir); err != nil {
			r.logger.Warn("%v", &errors.DiscoveryError{AgentDir: agentDir, Err: err})
			continue
		}
		loaded++
	}
	r.logger.Info("Discovered %d agent(s) under %s", loaded, dir)
	return loaded, nil
}

func (r *Registry) loadManifest(agentDir string) error {
	path := filepath.Join(agentDir, "agent.yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("parse manifest: %w", err)
	}
	if m.Name == "" {
		return fmt.Errorf("manifest missing name")
	}
	if m.Builder == "" {
		return fmt.Errorf("manifest %s missing builder", m.Name)
	}

	r.mu.Lock()
	builder, ok := r.builders[m.Builder]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("manifest %s references unknown builder %q", m.Name, m.Builder)
	}

	return r.Register(m.Name, func() (*agent.Descriptor, error) {
		return builder(m)
	})
}

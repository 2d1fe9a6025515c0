// Package registry holds agent descriptors and lazily-built equipped agents.
//
// Registration happens in code (factories) or via agent.yaml manifests bound
// to registered builders. Equipped agents are singletons: the first GetAgent
// builds, every later call reuses. Shared backend services are deduplicated
// across descriptors by service key, first declaration wins.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"fable/internal/agent"
	"fable/internal/errors"
	"fable/internal/llm"
	"fable/internal/logging"
)

// DescriptorFactory produces a descriptor at registration time.
type DescriptorFactory func() (*agent.Descriptor, error)

// CatalogEntry is one row of the capability catalog shown to the director.
type CatalogEntry struct {
	AgentName    string   `json:"agent_name"`
	AssetKey     string   `json:"asset_key"`
	AssetType    string   `json:"asset_type"`
	UpstreamKeys []string `json:"upstream_keys"`
	Description  string   `json:"description"`
}

// Registry is the process-wide agent registry.
type Registry struct {
	mu          sync.Mutex
	factories   map[string]DescriptorFactory
	descriptors map[string]*agent.Descriptor
	instances   map[string]*agent.EquippedAgent
	builders    map[string]ManifestBuilder
	services    map[string]any

	client llm.Client
	sc     *agent.ServiceContext
	logger logging.Logger
}

// New creates a registry that equips agents against the given LLM client.
func New(client llm.Client, sc *agent.ServiceContext, logger logging.Logger) *Registry {
	return &Registry{
		factories:   make(map[string]DescriptorFactory),
		descriptors: make(map[string]*agent.Descriptor),
		instances:   make(map[string]*agent.EquippedAgent),
		builders:    make(map[string]ManifestBuilder),
		services:    make(map[string]any),
		client:      client,
		sc:          sc,
		logger:      logging.OrNop(logger),
	}
}

// Register adds a descriptor factory under name. Duplicate names are rejected.
func (r *Registry) Register(name string, factory DescriptorFactory) error {
	if name == "" || factory == nil {
		return errors.Validation("registration requires a name and a factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return errors.Validation("agent %s is already registered", name)
	}
	r.factories[name] = factory
	r.logger.Info("Registered agent factory: %s", name)
	return nil
}

// RegisterBuilder adds a manifest builder. Manifests reference builders by
// name during directory discovery.
func (r *Registry) RegisterBuilder(name string, builder ManifestBuilder) error {
	if name == "" || builder == nil {
		return errors.Validation("builder registration requires a name and a builder")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.builders[name]; ok {
		return errors.Validation("builder %s is already registered", name)
	}
	r.builders[name] = builder
	return nil
}

// Descriptor resolves the named descriptor, invoking its factory on first use.
func (r *Registry) Descriptor(name string) (*agent.Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.descriptorLocked(name)
}

func (r *Registry) descriptorLocked(name string) (*agent.Descriptor, error) {
	if d, ok := r.descriptors[name]; ok {
		return d, nil
	}
	factory, ok := r.factories[name]
	if !ok {
		return nil, errors.NotFound("agent", name)
	}
	d, err := factory()
	if err != nil {
		return nil, fmt.Errorf("build descriptor %s: %w", name, err)
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	for other, existing := range r.descriptors {
		if existing.AssetKey == d.AssetKey {
			return nil, errors.Validation("asset key %s of agent %s is already claimed by %s", d.AssetKey, name, other)
		}
	}
	r.descriptors[name] = d
	return d, nil
}

// GetAgent returns the equipped agent for name, building it on first use.
func (r *Registry) GetAgent(name string) (*agent.EquippedAgent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if inst, ok := r.instances[name]; ok {
		return inst, nil
	}
	d, err := r.descriptorLocked(name)
	if err != nil {
		return nil, err
	}
	inst, err := d.BuildEquippedAgent(r.client, r.services, r.sc, r.logger)
	if err != nil {
		return nil, fmt.Errorf("equip agent %s: %w", name, err)
	}
	r.instances[name] = inst
	r.logger.Info("Equipped agent: %s", name)
	return inst, nil
}

// ListAgents returns the capability catalog, sorted by agent name. Descriptors
// whose factories fail are skipped with a warning.
func (r *Registry) ListAgents() []CatalogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)

	catalog := make([]CatalogEntry, 0, len(names))
	for _, name := range names {
		d, err := r.descriptorLocked(name)
		if err != nil {
			r.logger.Warn("Skipping %s in catalog: %v", name, err)
			continue
		}
		catalog = append(catalog, CatalogEntry{
			AgentName:    d.AgentName,
			AssetKey:     d.AssetKey,
			AssetType:    d.AssetType,
			UpstreamKeys: append([]string(nil), d.UpstreamKeys...),
			Description:  d.CatalogEntry,
		})
	}
	return catalog
}

// Reload drops all resolved descriptors, equipped instances and shared
// services, keeping registrations. The next GetAgent rebuilds from factories.
func (r *Registry) Reload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors = make(map[string]*agent.Descriptor)
	r.instances = make(map[string]*agent.EquippedAgent)
	r.services = make(map[string]any)
	r.logger.Info("Registry reloaded: %d factories retained", len(r.factories))
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.factories)
}

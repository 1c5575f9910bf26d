package analyzer

import (
	_ "embed"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

//go:embed registry.yaml
var defaultRegistryYAML []byte

// Agent is one analysis role's configuration: which model to call, with
// what prompt, and whether the role participates in team estimation.
type Agent struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Prompt      string  `yaml:"prompt"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	Estimation  bool    `yaml:"estimation"`
}

// Registry maps role identifiers to agent configurations.
type Registry struct {
	agents map[string]Agent
}

// registryFile is the on-disk registry shape.
type registryFile struct {
	Agents map[string]Agent `yaml:"agents"`
}

// ParseRegistry loads a registry from YAML.
func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("analyzer: invalid registry YAML: %w", err)
	}
	if len(file.Agents) == 0 {
		return nil, fmt.Errorf("analyzer: registry defines no agents")
	}
	for id, agent := range file.Agents {
		if agent.Prompt == "" {
			return nil, fmt.Errorf("analyzer: agent %q has no prompt", id)
		}
	}
	return &Registry{agents: file.Agents}, nil
}

// DefaultRegistry returns the registry embedded in the binary.
func DefaultRegistry() *Registry {
	reg, err := ParseRegistry(defaultRegistryYAML)
	if err != nil {
		// The embedded file is validated by tests; a parse failure here
		// is a build defect.
		panic(fmt.Sprintf("analyzer: embedded registry: %v", err))
	}
	return reg
}

// Agent returns the configuration for a role.
func (r *Registry) Agent(id string) (Agent, bool) {
	agent, ok := r.agents[id]
	return agent, ok
}

// Known reports whether the role exists in the registry.
func (r *Registry) Known(id string) bool {
	_, ok := r.agents[id]
	return ok
}

// EstimationTeam returns the roles that participate in team estimation,
// sorted for deterministic dispatch order.
func (r *Registry) EstimationTeam() []string {
	var team []string
	for id, agent := range r.agents {
		if agent.Estimation {
			team = append(team, id)
		}
	}
	sort.Strings(team)
	return team
}

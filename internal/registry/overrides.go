package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Overrides adjusts registered agents and validators from a YAML file.
type Overrides struct {
	Agents     map[string]AgentOverride     `yaml:"agents"`
	Validators map[string]ValidatorOverride `yaml:"validators"`
}

// AgentOverride changes one agent.
type AgentOverride struct {
	MaxSteps int `yaml:"max_steps"`
}

// ValidatorOverride changes one validator binding.
type ValidatorOverride struct {
	MaxAttempts *int     `yaml:"max_attempts"`
	Tools       []string `yaml:"tools"`
	Agents      []string `yaml:"agents"`
	Disabled    bool     `yaml:"disabled"`
}

// ParseOverrides decodes overrides from YAML.
func ParseOverrides(data []byte) (*Overrides, error) {
	var o Overrides
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse agent overrides: %w", err)
	}
	return &o, nil
}

// LoadOverrides reads overrides from path.
func LoadOverrides(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read agent overrides: %w", err)
	}
	return ParseOverrides(data)
}

// Apply returns a copy of r with the overrides applied. Names that do not
// match a registered agent or validator are errors.
func (r *Registry) Apply(o *Overrides) (*Registry, error) {
	out := &Registry{
		Benchmark: r.Benchmark,
		Entry:     r.Entry,
		agents:    make(map[string]*Agent, len(r.agents)),
		delegates: r.delegates,
	}
	for name, a := range r.agents {
		cp := *a
		out.agents[name] = &cp
	}
	if o == nil {
		out.Validators = append(out.Validators, r.Validators...)
		return out, nil
	}

	for name, ao := range o.Agents {
		a, ok := out.agents[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, name)
		}
		if ao.MaxSteps > 0 {
			a.MaxSteps = ao.MaxSteps
		}
	}

	seen := map[string]bool{}
	for _, b := range r.Validators {
		vo, ok := o.Validators[b.Name]
		if !ok {
			out.Validators = append(out.Validators, b)
			continue
		}
		seen[b.Name] = true
		if vo.Disabled {
			continue
		}
		if vo.MaxAttempts != nil {
			b.MaxAttempts = *vo.MaxAttempts
		}
		if len(vo.Tools) > 0 {
			b.Tools = vo.Tools
		}
		if len(vo.Agents) > 0 {
			b.Agents = vo.Agents
		}
		out.Validators = append(out.Validators, b)
	}
	for name := range o.Validators {
		if !seen[name] {
			return nil, fmt.Errorf("unknown validator: %s", name)
		}
	}
	return out, nil
}

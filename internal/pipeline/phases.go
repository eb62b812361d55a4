package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Phase is one node of the phase coordinator's list.
type Phase struct {
	Name string `yaml:"name" json:"name"`
	// Orchestrator is a Ref string such as "stage:implement".
	Orchestrator string `yaml:"orchestrator" json:"orchestrator"`
	// Modifier is extra instruction text passed through to every stage or
	// worker of the phase.
	Modifier  string   `yaml:"modifier,omitempty" json:"modifier,omitempty"`
	Target    string   `yaml:"target,omitempty" json:"target,omitempty"`
	DependsOn []string `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
}

// Ref parses the phase's orchestrator reference.
func (p Phase) Ref() (Ref, error) {
	return ParseRef(p.Orchestrator)
}

type phaseDoc struct {
	Phases []Phase `yaml:"phases"`
}

// ParsePhases decodes a phase list. Both a bare list and an object with a
// "phases" key are accepted, in YAML or JSON.
func ParsePhases(data []byte) ([]Phase, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty phase list")
	}
	var phases []Phase
	if data[0] == '[' || data[0] == '-' {
		if err := yaml.Unmarshal(data, &phases); err != nil {
			return nil, fmt.Errorf("parse phase list: %w", err)
		}
	} else {
		var doc phaseDoc
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse phase list: %w", err)
		}
		phases = doc.Phases
	}
	if err := ValidatePhases(phases); err != nil {
		return nil, err
	}
	return phases, nil
}

// LoadPhases reads and parses a phase list file.
func LoadPhases(path string) ([]Phase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read phase list: %w", err)
	}
	return ParsePhases(data)
}

// ValidatePhases checks names and references. Dependencies on unknown or
// later phases are allowed; the coordinator skips such phases at run time.
func ValidatePhases(phases []Phase) error {
	if len(phases) == 0 {
		return errors.New("phase list is empty")
	}
	var errs []error
	seen := make(map[string]bool, len(phases))
	for i, p := range phases {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("phase %d has no name", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("duplicate phase %q", p.Name))
		}
		seen[p.Name] = true
		if _, err := p.Ref(); err != nil {
			errs = append(errs, fmt.Errorf("phase %q: %w", p.Name, err))
		}
	}
	return errors.Join(errs...)
}

// CheckRefs reports phases whose orchestrator reference is not defined.
func (d *Definitions) CheckRefs(phases []Phase) error {
	var errs []error
	for _, p := range phases {
		ref, err := p.Ref()
		if err != nil {
			errs = append(errs, fmt.Errorf("phase %q: %w", p.Name, err))
			continue
		}
		if err := d.Resolve(ref); err != nil {
			errs = append(errs, fmt.Errorf("phase %q: %w", p.Name, err))
		}
	}
	return errors.Join(errs...)
}

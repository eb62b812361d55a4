package pipeline

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/conductor/internal/invoke"
	"github.com/Iron-Ham/conductor/internal/util"
)

var (
	ErrInvalidRef       = errors.New("invalid orchestrator reference")
	ErrUnknownPipeline  = errors.New("unknown pipeline")
	ErrUnknownWorkerSet = errors.New("unknown worker set")
)

// Definitions holds every pipeline and worker set known to a run.
type Definitions struct {
	Pipelines  map[string]*Pipeline  `yaml:"pipelines"`
	WorkerSets map[string]*WorkerSet `yaml:"worker_sets"`
}

// Defaults returns the built-in definitions.
func Defaults() *Definitions {
	no := false
	two := 2
	d := &Definitions{
		Pipelines: map[string]*Pipeline{
			"implement": {
				Description: "implement, test and review a change",
				Stages: []Stage{
					{Name: "implement", Tier: "high", Instructions: "Make the change described by the target. Keep the diff focused."},
					{Name: "test", Tier: "medium", Retries: &two, Instructions: "Run and fix the tests affected by the change."},
					{Name: "review", Tier: "medium", Required: &no, Instructions: "Review the change for correctness and style. Fix what you find."},
				},
			},
			"review": {
				Description: "analyze and critique a target",
				Stages: []Stage{
					{Name: "analyze", Tier: "medium"},
					{Name: "critique", Tier: "high", Required: &no},
				},
			},
		},
		WorkerSets: map[string]*WorkerSet{
			"research": {
				Description: "independent research perspectives",
				Workers: []Worker{
					{Domain: "architecture", Focus: "structure, boundaries and data flow"},
					{Domain: "risks", Focus: "failure modes, migration and rollback"},
					{Domain: "prior-art", Focus: "existing solutions and conventions in the codebase"},
				},
				ConsolidationTier: "high",
			},
		},
	}
	d.assignNames()
	return d
}

// Parse decodes YAML definitions and validates them.
func Parse(data []byte) (*Definitions, error) {
	var d Definitions
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("parse pipeline definitions: %w", err)
	}
	d.assignNames()
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Load returns the defaults merged with the definitions in path. An empty
// path yields the defaults.
func Load(path string) (*Definitions, error) {
	defs := Defaults()
	if path == "" {
		return defs, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline definitions: %w", err)
	}
	loaded, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defs.Merge(loaded)
	return defs, nil
}

// Merge overlays other onto d, replacing entries with the same name.
func (d *Definitions) Merge(other *Definitions) {
	if other == nil {
		return
	}
	if d.Pipelines == nil {
		d.Pipelines = make(map[string]*Pipeline)
	}
	if d.WorkerSets == nil {
		d.WorkerSets = make(map[string]*WorkerSet)
	}
	for name, p := range other.Pipelines {
		d.Pipelines[name] = p
	}
	for name, ws := range other.WorkerSets {
		d.WorkerSets[name] = ws
	}
}

func (d *Definitions) assignNames() {
	for name, p := range d.Pipelines {
		if p != nil {
			p.Name = name
		}
	}
	for name, ws := range d.WorkerSets {
		if ws != nil {
			ws.Name = name
		}
	}
}

// Pipeline looks up a pipeline by name.
func (d *Definitions) Pipeline(name string) (*Pipeline, error) {
	p, ok := d.Pipelines[name]
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPipeline, name)
	}
	return p, nil
}

// WorkerSet looks up a worker set by name.
func (d *Definitions) WorkerSet(name string) (*WorkerSet, error) {
	ws, ok := d.WorkerSets[name]
	if !ok || ws == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorkerSet, name)
	}
	return ws, nil
}

// Resolve checks that ref names a defined pipeline or worker set.
func (d *Definitions) Resolve(ref Ref) error {
	switch ref.Kind {
	case KindStage:
		_, err := d.Pipeline(ref.Name)
		return err
	case KindFanout:
		_, err := d.WorkerSet(ref.Name)
		return err
	}
	return fmt.Errorf("%w: %s", ErrInvalidRef, ref)
}

// Names returns the sorted pipeline and worker set names.
func (d *Definitions) Names() (pipelines, workerSets []string) {
	for name := range d.Pipelines {
		pipelines = append(pipelines, name)
	}
	for name := range d.WorkerSets {
		workerSets = append(workerSets, name)
	}
	sort.Strings(pipelines)
	sort.Strings(workerSets)
	return pipelines, workerSets
}

// Validate checks every pipeline and worker set.
func (d *Definitions) Validate() error {
	var errs []error
	for name, p := range d.Pipelines {
		if p == nil || len(p.Stages) == 0 {
			errs = append(errs, fmt.Errorf("pipeline %q: no stages", name))
			continue
		}
		seen := make(map[string]bool, len(p.Stages))
		for i, s := range p.Stages {
			if s.Name == "" {
				errs = append(errs, fmt.Errorf("pipeline %q: stage %d has no name", name, i))
				continue
			}
			if seen[s.Name] {
				errs = append(errs, fmt.Errorf("pipeline %q: duplicate stage %q", name, s.Name))
			}
			seen[s.Name] = true
			if err := validTier(s.Tier); err != nil {
				errs = append(errs, fmt.Errorf("pipeline %q stage %q: %w", name, s.Name, err))
			}
			if s.Retries != nil && *s.Retries < 0 {
				errs = append(errs, fmt.Errorf("pipeline %q stage %q: retries must be >= 0", name, s.Name))
			}
			if s.Timeout < 0 {
				errs = append(errs, fmt.Errorf("pipeline %q stage %q: timeout must be >= 0", name, s.Name))
			}
		}
	}
	for name, ws := range d.WorkerSets {
		if ws == nil {
			errs = append(errs, fmt.Errorf("worker set %q: no workers", name))
			continue
		}
		if err := ws.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Validate checks the set's workers. Domains must be unique after
// slugging, since each worker's artifact and signal are named by the slug.
func (ws *WorkerSet) Validate() error {
	if ws == nil {
		return errors.New("no worker set")
	}
	if len(ws.Workers) == 0 {
		return fmt.Errorf("worker set %q: no workers", ws.Name)
	}
	var errs []error
	seen := make(map[string]string, len(ws.Workers))
	for i, w := range ws.Workers {
		if w.Domain == "" {
			errs = append(errs, fmt.Errorf("worker set %q: worker %d has no domain", ws.Name, i))
			continue
		}
		slug := util.Slug(w.Domain)
		if prev, ok := seen[slug]; ok {
			errs = append(errs, fmt.Errorf("worker set %q: domain %q collides with %q", ws.Name, w.Domain, prev))
		} else {
			seen[slug] = w.Domain
		}
		if err := validTier(w.Tier); err != nil {
			errs = append(errs, fmt.Errorf("worker set %q domain %q: %w", ws.Name, w.Domain, err))
		}
	}
	if err := validTier(ws.ConsolidationTier); err != nil {
		errs = append(errs, fmt.Errorf("worker set %q consolidation: %w", ws.Name, err))
	}
	return errors.Join(errs...)
}

func validTier(t string) error {
	if t == "" {
		return nil
	}
	_, err := invoke.ParseTier(t)
	return err
}

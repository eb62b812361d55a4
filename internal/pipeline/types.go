package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// Stage is one sequential step of a Pipeline.
type Stage struct {
	Name         string        `yaml:"name" json:"name"`
	Tier         string        `yaml:"tier,omitempty" json:"tier,omitempty"`
	Retries      *int          `yaml:"retries,omitempty" json:"retries,omitempty"`
	Required     *bool         `yaml:"required,omitempty" json:"required,omitempty"`
	Timeout      time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	AgentType    string        `yaml:"agent_type,omitempty" json:"agent_type,omitempty"`
	Instructions string        `yaml:"instructions,omitempty" json:"instructions,omitempty"`
}

// IsRequired reports whether a failure of this stage aborts the pipeline.
// Stages are required unless marked otherwise.
func (s Stage) IsRequired() bool {
	return s.Required == nil || *s.Required
}

// RetryCount returns the configured retries, or def when unset.
func (s Stage) RetryCount(def int) int {
	if s.Retries == nil {
		return def
	}
	return *s.Retries
}

// Pipeline is a named, ordered list of stages.
type Pipeline struct {
	Name        string  `yaml:"-" json:"name"`
	Description string  `yaml:"description,omitempty" json:"description,omitempty"`
	Stages      []Stage `yaml:"stages" json:"stages"`
}

// Worker is one concurrent member of a WorkerSet.
type Worker struct {
	Domain    string `yaml:"domain" json:"domain"`
	Tier      string `yaml:"tier,omitempty" json:"tier,omitempty"`
	Focus     string `yaml:"focus,omitempty" json:"focus,omitempty"`
	AgentType string `yaml:"agent_type,omitempty" json:"agent_type,omitempty"`
}

// WorkerSet is a named group of workers whose findings are consolidated.
type WorkerSet struct {
	Name              string   `yaml:"-" json:"name"`
	Description       string   `yaml:"description,omitempty" json:"description,omitempty"`
	Workers           []Worker `yaml:"workers" json:"workers"`
	ConsolidationTier string   `yaml:"consolidation_tier,omitempty" json:"consolidation_tier,omitempty"`
}

// Kind distinguishes the two orchestrators a phase can delegate to.
type Kind string

const (
	KindStage  Kind = "stage"
	KindFanout Kind = "fanout"
)

// Ref is a parsed orchestrator reference, "<kind>:<name>".
type Ref struct {
	Kind Kind
	Name string
}

func (r Ref) String() string {
	return string(r.Kind) + ":" + r.Name
}

// ParseRef parses an orchestrator reference.
func ParseRef(s string) (Ref, error) {
	kind, name, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || name == "" {
		return Ref{}, fmt.Errorf("%w: %q (want stage:<pipeline> or fanout:<worker set>)", ErrInvalidRef, s)
	}
	switch Kind(kind) {
	case KindStage, KindFanout:
		return Ref{Kind: Kind(kind), Name: name}, nil
	default:
		return Ref{}, fmt.Errorf("%w: unknown kind %q in %q", ErrInvalidRef, kind, s)
	}
}

// Package manifest defines the JSON document every orchestration layer
// prints on stdout when it finishes.
package manifest

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/Iron-Ham/conductor/internal/exitcode"
)

// Kind names the array a manifest carries its entries in.
type Kind string

const (
	KindStages  Kind = "stages"
	KindWorkers Kind = "workers"
	KindPhases  Kind = "phases"
)

// Entry status values beyond the taxonomy codes.
const (
	StatusSkipped = "skipped"
)

// Entry records the outcome of one stage, worker or phase.
type Entry struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	ExitCode int    `json:"exit_code"`
	Artifact string `json:"artifact,omitempty"`
	Error    string `json:"error,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	// Required is only meaningful for stages.
	Required *bool `json:"required,omitempty"`
}

// Summary aggregates a manifest's entries.
type Summary struct {
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	ExitCode int           `json:"exit_code"`
	Code     exitcode.Code `json:"code"`
}

// Manifest is the result document of one orchestration layer.
type Manifest struct {
	Stages  []Entry `json:"stages,omitempty"`
	Workers []Entry `json:"workers,omitempty"`
	Phases  []Entry `json:"phases,omitempty"`
	// Consolidation is set by the fan-out orchestrator.
	Consolidation *Entry    `json:"consolidation,omitempty"`
	TraceID       string    `json:"trace_id,omitempty"`
	FinishedAt    time.Time `json:"finished_at"`
	Summary       Summary   `json:"summary"`

	kind Kind
}

// New creates an empty manifest whose entries go in the given array.
func New(kind Kind) *Manifest {
	return &Manifest{kind: kind}
}

// Kind returns which entry array this manifest uses.
func (m *Manifest) Kind() Kind {
	if m.kind != "" {
		return m.kind
	}
	switch {
	case len(m.Phases) > 0:
		return KindPhases
	case len(m.Workers) > 0:
		return KindWorkers
	default:
		return KindStages
	}
}

// Entries returns the entries for the manifest's kind.
func (m *Manifest) Entries() []Entry {
	switch m.Kind() {
	case KindWorkers:
		return m.Workers
	case KindPhases:
		return m.Phases
	default:
		return m.Stages
	}
}

// Add appends an entry built from a code. A non-empty status overrides the
// code's string form (used for skipped units).
func (m *Manifest) Add(e Entry, code exitcode.Code) {
	if e.Status == "" {
		e.Status = code.String()
	}
	e.ExitCode = code.ExitStatus()
	switch m.Kind() {
	case KindWorkers:
		m.Workers = append(m.Workers, e)
	case KindPhases:
		m.Phases = append(m.Phases, e)
	default:
		m.Stages = append(m.Stages, e)
	}
}

// Finish fills in the summary with the layer's final code.
func (m *Manifest) Finish(code exitcode.Code) *Manifest {
	entries := m.Entries()
	s := Summary{Total: len(entries), Code: code, ExitCode: code.ExitStatus()}
	for _, e := range entries {
		if e.ExitCode == exitcode.StatusSuccess || e.ExitCode == exitcode.StatusPartialSuccess {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	m.Summary = s
	m.FinishedAt = time.Now().UTC()
	return m
}

// MarshalJSON always emits the array of the manifest's own kind, as [] when
// the layer finished before adding an entry. The other arrays appear only
// when they hold entries.
func (m Manifest) MarshalJSON() ([]byte, error) {
	type plain Manifest
	kind := m.Kind()
	array := func(k Kind, entries []Entry) *[]Entry {
		if k != kind && len(entries) == 0 {
			return nil
		}
		if entries == nil {
			entries = []Entry{}
		}
		return &entries
	}
	return json.Marshal(struct {
		Stages  *[]Entry `json:"stages,omitempty"`
		Workers *[]Entry `json:"workers,omitempty"`
		Phases  *[]Entry `json:"phases,omitempty"`
		plain
	}{
		Stages:  array(KindStages, m.Stages),
		Workers: array(KindWorkers, m.Workers),
		Phases:  array(KindPhases, m.Phases),
		plain:   plain(m),
	})
}

// Write encodes the manifest as indented JSON.
func (m *Manifest) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return nil
}

// Parse decodes a manifest produced by a child layer.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	// A present array, even an empty one, decodes to a non-nil slice.
	switch {
	case m.Phases != nil:
		m.kind = KindPhases
	case m.Workers != nil:
		m.kind = KindWorkers
	case m.Stages != nil:
		m.kind = KindStages
	}
	return &m, nil
}

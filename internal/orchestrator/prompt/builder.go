// Package prompt builds the worker prompts used by every orchestration
// layer.
//
// Prompts reference inputs by path, never by inlined content: workers read
// the files themselves and write their output to the artifact path they are
// given.
package prompt

import (
	"errors"
	"fmt"
	"strings"
	"text/template"
)

// Builder turns a Context into prompt text.
type Builder interface {
	Build(ctx *Context) (string, error)
}

// Kind identifies which prompt is being built.
type Kind string

const (
	KindStage       Kind = "stage"
	KindResearch    Kind = "research"
	KindConsolidate Kind = "consolidate"
	KindSufficiency Kind = "sufficiency"
	KindPlan        Kind = "plan"
	KindDecompose   Kind = "decompose"
	KindEvaluate    Kind = "evaluate"
	KindReport      Kind = "report"
)

// Context carries everything any prompt may need. Builders validate the
// fields their kind requires.
type Context struct {
	Kind Kind
	// Topic is the overall objective of the workflow.
	Topic string
	// Name is the stage name or research domain.
	Name         string
	Target       string
	Instructions string
	Focus        string
	// ArtifactPath is where the worker must write its output.
	ArtifactPath string
	// Inputs are artifact paths the worker should read.
	Inputs []string
	// Notes are paths of refinement, heal or feedback documents.
	Notes    []string
	Feedback string
	Round    int
	Outcome  string
}

// Validation errors
var (
	ErrNilContext      = errors.New("prompt context is nil")
	ErrUnknownKind     = errors.New("unknown prompt kind")
	ErrEmptyTopic      = errors.New("topic is required")
	ErrMissingArtifact = errors.New("artifact path is required")
	ErrMissingInputs   = errors.New("at least one input path is required")
	ErrMissingName     = errors.New("name is required")
)

// Validate checks that the context has the fields its kind needs.
func (c *Context) Validate() error {
	if c == nil {
		return ErrNilContext
	}
	if _, ok := templates[c.Kind]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, c.Kind)
	}
	if strings.TrimSpace(c.Topic) == "" && c.Kind != KindStage {
		return ErrEmptyTopic
	}

	switch c.Kind {
	case KindStage:
		if c.Name == "" {
			return ErrMissingName
		}
		if c.Target == "" && c.Topic == "" {
			return ErrEmptyTopic
		}
	case KindResearch:
		if c.Name == "" {
			return ErrMissingName
		}
		if c.ArtifactPath == "" {
			return ErrMissingArtifact
		}
	case KindConsolidate, KindSufficiency, KindDecompose, KindEvaluate:
		if len(c.Inputs) == 0 {
			return ErrMissingInputs
		}
		if c.Kind == KindConsolidate && c.ArtifactPath == "" {
			return ErrMissingArtifact
		}
	case KindPlan, KindReport:
		if c.ArtifactPath == "" {
			return ErrMissingArtifact
		}
	}
	return nil
}

// TemplateBuilder renders a text/template.
type TemplateBuilder struct {
	tmpl *template.Template
}

// NewTemplateBuilder parses text as a prompt template.
func NewTemplateBuilder(name, text string) (*TemplateBuilder, error) {
	t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template %s: %w", name, err)
	}
	return &TemplateBuilder{tmpl: t}, nil
}

// Build validates ctx and renders the template.
func (b *TemplateBuilder) Build(ctx *Context) (string, error) {
	if err := ctx.Validate(); err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := b.tmpl.Execute(&sb, ctx); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return strings.TrimSpace(sb.String()) + "\n", nil
}

// ForKind returns the built-in builder for kind.
func ForKind(kind Kind) (Builder, error) {
	b, ok := builders[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return b, nil
}

// Build renders the built-in prompt for ctx.Kind.
func Build(ctx *Context) (string, error) {
	if ctx == nil {
		return "", ErrNilContext
	}
	b, err := ForKind(ctx.Kind)
	if err != nil {
		return "", err
	}
	return b.Build(ctx)
}

var funcs = template.FuncMap{
	"bullets": func(items []string) string {
		var sb strings.Builder
		for _, it := range items {
			sb.WriteString("- ")
			sb.WriteString(it)
			sb.WriteString("\n")
		}
		return strings.TrimRight(sb.String(), "\n")
	},
}

var builders = func() map[Kind]Builder {
	out := make(map[Kind]Builder, len(templates))
	for kind, text := range templates {
		b, err := NewTemplateBuilder(string(kind), text)
		if err != nil {
			panic(err)
		}
		out[kind] = b
	}
	return out
}()

package invoke

import (
	"fmt"
	"strings"
	"time"

	"github.com/Iron-Ham/conductor/internal/errors"
)

// Tier is an abstract model capability level.
type Tier string

const (
	TierLow    Tier = "low"
	TierMedium Tier = "medium"
	TierHigh   Tier = "high"
)

// ParseTier validates a tier name. Empty means medium.
func ParseTier(s string) (Tier, error) {
	switch Tier(strings.ToLower(strings.TrimSpace(s))) {
	case "", TierMedium:
		return TierMedium, nil
	case TierLow:
		return TierLow, nil
	case TierHigh:
		return TierHigh, nil
	}
	return "", fmt.Errorf("%w: %q", errors.ErrUnknownTier, s)
}

// ModelResolver maps tiers to concrete model identifiers.
type ModelResolver map[Tier]string

// DefaultModels returns the built-in tier mapping.
func DefaultModels() ModelResolver {
	return ModelResolver{
		TierLow:    "haiku",
		TierMedium: "sonnet",
		TierHigh:   "opus",
	}
}

// ModelsFromConfig converts a config map keyed by tier name.
func ModelsFromConfig(m map[string]string) ModelResolver {
	r := DefaultModels()
	for k, v := range m {
		if v != "" {
			r[Tier(strings.ToLower(k))] = v
		}
	}
	return r
}

// Resolve returns the model for tier.
func (r ModelResolver) Resolve(tier Tier) (string, error) {
	if tier == "" {
		tier = TierMedium
	}
	model, ok := r[tier]
	if !ok || model == "" {
		return "", fmt.Errorf("%w: %q", errors.ErrUnknownTier, tier)
	}
	return model, nil
}

// OutputFormat selects how the worker's stdout is interpreted.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

// Request describes one worker invocation. It is passed by value and never
// modified after construction.
type Request struct {
	Prompt       string
	SystemPrompt string
	Tier         Tier
	WorkDir      string
	AllowedTools []string
	// Depth is the caller's depth, or DepthUnset to resolve it.
	Depth int
	// MaxDepth overrides the Invoker's limit when positive.
	MaxDepth int
	Format   OutputFormat
	// AgentType keys the circuit breaker. Empty skips the breaker.
	AgentType string
	Timeout   time.Duration
}

// NewRequest returns a Request with depth left for resolution.
func NewRequest(prompt string) Request {
	return Request{Prompt: prompt, Depth: DepthUnset, Format: FormatText}
}

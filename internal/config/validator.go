package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/conductor/internal/util"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "fanout.concurrency")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateWorker()...)
	errors = append(errors, c.validateDepth()...)
	errors = append(errors, c.validateCircuit()...)
	errors = append(errors, c.validateStage()...)
	errors = append(errors, c.validateFanout()...)
	errors = append(errors, c.validatePhase()...)
	errors = append(errors, c.validateCampaign()...)
	errors = append(errors, c.validateLogging()...)

	if c.Signals.PollInterval < 0 {
		errors = append(errors, ValidationError{
			Field:   "signals.poll_interval",
			Value:   c.Signals.PollInterval,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateWorker() []ValidationError {
	var errors []ValidationError

	if strings.TrimSpace(c.Worker.Command) == "" {
		errors = append(errors, ValidationError{
			Field:   "worker.command",
			Value:   c.Worker.Command,
			Message: "must not be empty",
		})
	}

	for _, tier := range ValidTiers() {
		if c.Worker.Models[tier] == "" {
			errors = append(errors, ValidationError{
				Field:   "worker.models." + tier,
				Value:   c.Worker.Models[tier],
				Message: "model identifier is required",
			})
		}
	}

	if c.Worker.Timeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "worker.timeout",
			Value:   c.Worker.Timeout,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateDepth() []ValidationError {
	// A max of zero would refuse every invocation
	if c.Depth.Max < 1 {
		return []ValidationError{{
			Field:   "depth.max",
			Value:   c.Depth.Max,
			Message: "must be at least 1",
		}}
	}
	return nil
}

func (c *Config) validateCircuit() []ValidationError {
	var errors []ValidationError

	if c.Circuit.FailureThreshold < 1 {
		errors = append(errors, ValidationError{
			Field:   "circuit.failure_threshold",
			Value:   c.Circuit.FailureThreshold,
			Message: "must be at least 1",
		})
	}
	if c.Circuit.SuccessThreshold < 1 {
		errors = append(errors, ValidationError{
			Field:   "circuit.success_threshold",
			Value:   c.Circuit.SuccessThreshold,
			Message: "must be at least 1",
		})
	}
	if c.Circuit.ResetTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "circuit.reset_timeout",
			Value:   c.Circuit.ResetTimeout,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateStage() []ValidationError {
	var errors []ValidationError

	if c.Stage.Retries < 0 {
		errors = append(errors, ValidationError{
			Field:   "stage.retries",
			Value:   c.Stage.Retries,
			Message: "must be non-negative",
		})
	}
	if c.Stage.Timeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "stage.timeout",
			Value:   c.Stage.Timeout,
			Message: "must be non-negative",
		})
	}
	errors = append(errors, validateTier("stage.tier", c.Stage.Tier)...)

	return errors
}

func (c *Config) validateFanout() []ValidationError {
	var errors []ValidationError

	const maxConcurrency = 64
	if c.Fanout.Concurrency < 1 || c.Fanout.Concurrency > maxConcurrency {
		errors = append(errors, ValidationError{
			Field:   "fanout.concurrency",
			Value:   c.Fanout.Concurrency,
			Message: fmt.Sprintf("must be between 1 and %d", maxConcurrency),
		})
	}
	if c.Fanout.OverallTimeout <= 0 {
		errors = append(errors, ValidationError{
			Field:   "fanout.overall_timeout",
			Value:   c.Fanout.OverallTimeout,
			Message: "must be positive",
		})
	}
	if c.Fanout.WorkerTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "fanout.worker_timeout",
			Value:   c.Fanout.WorkerTimeout,
			Message: "must be non-negative",
		})
	}
	errors = append(errors, validateTier("fanout.consolidation_tier", c.Fanout.ConsolidationTier)...)

	return errors
}

func (c *Config) validatePhase() []ValidationError {
	var errors []ValidationError

	if c.Phase.Retries < 0 {
		errors = append(errors, ValidationError{
			Field:   "phase.retries",
			Value:   c.Phase.Retries,
			Message: "must be non-negative",
		})
	}
	if c.Phase.Timeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "phase.timeout",
			Value:   c.Phase.Timeout,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateCampaign() []ValidationError {
	var errors []ValidationError

	if c.Campaign.MaxResearchRounds < 1 {
		errors = append(errors, ValidationError{
			Field:   "campaign.max_research_rounds",
			Value:   c.Campaign.MaxResearchRounds,
			Message: "must be at least 1",
		})
	}
	if c.Campaign.MaxHealCycles < 0 {
		errors = append(errors, ValidationError{
			Field:   "campaign.max_heal_cycles",
			Value:   c.Campaign.MaxHealCycles,
			Message: "must be non-negative",
		})
	}
	if len(c.Campaign.Domains) == 0 {
		errors = append(errors, ValidationError{
			Field:   "campaign.domains",
			Value:   c.Campaign.Domains,
			Message: "at least one research domain is required",
		})
	}
	seen := make(map[string]bool, len(c.Campaign.Domains))
	for _, d := range c.Campaign.Domains {
		slug := util.Slug(d)
		if seen[slug] {
			errors = append(errors, ValidationError{
				Field:   "campaign.domains",
				Value:   d,
				Message: fmt.Sprintf("duplicates another domain once slugged to %q", slug),
			})
		}
		seen[slug] = true
	}
	errors = append(errors, validateTier("campaign.research_tier", c.Campaign.ResearchTier)...)
	errors = append(errors, validateTier("campaign.plan_tier", c.Campaign.PlanTier)...)
	errors = append(errors, validateTier("campaign.evaluate_tier", c.Campaign.EvaluateTier)...)

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB <= 0 || c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("must be between 1 and %d", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func validateTier(field, tier string) []ValidationError {
	if tier == "" || slices.Contains(ValidTiers(), tier) {
		return nil
	}
	return []ValidationError{{
		Field:   field,
		Value:   tier,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidTiers(), ", ")),
	}}
}


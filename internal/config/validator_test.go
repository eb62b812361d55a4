package config

import (
	"strings"
	"testing"
	"time"
)

func hasField(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestValidationErrors_Error(t *testing.T) {
	single := ValidationErrors{{Field: "a", Value: 1, Message: "bad"}}
	if got := single.Error(); got != "a: bad (got: 1)" {
		t.Errorf("Error() = %q", got)
	}

	multi := ValidationErrors{
		{Field: "a", Value: 1, Message: "bad"},
		{Field: "b", Value: 2, Message: "worse"},
	}
	got := multi.Error()
	if !strings.HasPrefix(got, "2 validation errors:") || !strings.Contains(got, "2. b: worse") {
		t.Errorf("Error() = %q", got)
	}

	if (ValidationErrors{}).Error() != "" {
		t.Error("empty ValidationErrors should render as empty string")
	}
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	if errs := Default().Validate(); len(errs) != 0 {
		t.Errorf("default config should be valid, got %v", errs)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty worker command", func(c *Config) { c.Worker.Command = " " }, "worker.command"},
		{"missing tier model", func(c *Config) { delete(c.Worker.Models, "medium") }, "worker.models.medium"},
		{"negative worker timeout", func(c *Config) { c.Worker.Timeout = -time.Second }, "worker.timeout"},
		{"zero max depth", func(c *Config) { c.Depth.Max = 0 }, "depth.max"},
		{"zero failure threshold", func(c *Config) { c.Circuit.FailureThreshold = 0 }, "circuit.failure_threshold"},
		{"zero success threshold", func(c *Config) { c.Circuit.SuccessThreshold = 0 }, "circuit.success_threshold"},
		{"zero reset timeout", func(c *Config) { c.Circuit.ResetTimeout = 0 }, "circuit.reset_timeout"},
		{"negative stage retries", func(c *Config) { c.Stage.Retries = -1 }, "stage.retries"},
		{"unknown stage tier", func(c *Config) { c.Stage.Tier = "ultra" }, "stage.tier"},
		{"too much concurrency", func(c *Config) { c.Fanout.Concurrency = 1000 }, "fanout.concurrency"},
		{"zero overall timeout", func(c *Config) { c.Fanout.OverallTimeout = 0 }, "fanout.overall_timeout"},
		{"negative phase retries", func(c *Config) { c.Phase.Retries = -1 }, "phase.retries"},
		{"zero research rounds", func(c *Config) { c.Campaign.MaxResearchRounds = 0 }, "campaign.max_research_rounds"},
		{"negative heal cycles", func(c *Config) { c.Campaign.MaxHealCycles = -1 }, "campaign.max_heal_cycles"},
		{"no domains", func(c *Config) { c.Campaign.Domains = nil }, "campaign.domains"},
		{"colliding domains", func(c *Config) { c.Campaign.Domains = []string{"API Security", "api-security"} }, "campaign.domains"},
		{"bad plan tier", func(c *Config) { c.Campaign.PlanTier = "x" }, "campaign.plan_tier"},
		{"bad log level", func(c *Config) { c.Logging.Level = "INFO" }, "logging.level"},
		{"huge log size", func(c *Config) { c.Logging.MaxSizeMB = 5000 }, "logging.max_size_mb"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
		{"negative poll interval", func(c *Config) { c.Signals.PollInterval = -time.Second }, "signals.poll_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if !hasField(errs, tt.field) {
				t.Errorf("expected error for %s, got %v", tt.field, errs)
			}
		})
	}
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.Depth.Max = 0
	cfg.Fanout.Concurrency = 0
	cfg.Logging.Level = "loud"

	if errs := cfg.Validate(); len(errs) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(errs), errs)
	}
}

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"docket/internal/domain"
)

// Config models docket.yml.
type Config struct {
	Calendar struct {
		Open                 string `yaml:"open" toml:"open" json:"open"`
		Close                string `yaml:"close" toml:"close" json:"close"`
		BucketMinutes        int    `yaml:"bucket_minutes" toml:"bucket_minutes" json:"bucket_minutes"`
		SuggestionCount      int    `yaml:"suggestion_count" toml:"suggestion_count" json:"suggestion_count"`
		SuggestionWindowDays int    `yaml:"suggestion_window_days" toml:"suggestion_window_days" json:"suggestion_window_days"`
		MinLeadHours         int    `yaml:"min_lead_hours" toml:"min_lead_hours" json:"min_lead_hours"`
	} `yaml:"calendar" toml:"calendar" json:"calendar"`
	Panel struct {
		Required int `yaml:"required" toml:"required" json:"required"`
	} `yaml:"panel" toml:"panel" json:"panel"`
	Tiers        map[string]Tier `yaml:"tiers" toml:"tiers" json:"tiers"`
	Disbursement struct {
		FundingKind string `yaml:"funding_kind" toml:"funding_kind" json:"funding_kind"`
		Remainder   string `yaml:"remainder" toml:"remainder" json:"remainder"`
		Parallelism int    `yaml:"parallelism" toml:"parallelism" json:"parallelism"`
	} `yaml:"disbursement" toml:"disbursement" json:"disbursement"`
	Notifications struct {
		Webhooks []WebhookConfig `yaml:"webhooks" toml:"webhooks" json:"webhooks,omitempty"`
	} `yaml:"notifications" toml:"notifications" json:"notifications"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles" toml:"roles" json:"roles"`
	} `yaml:"rbac" toml:"rbac" json:"rbac"`
}

// Tier fixes the length and funding of a case.
type Tier struct {
	DurationBuckets int    `yaml:"duration_buckets" toml:"duration_buckets" json:"duration_buckets"`
	Funding         string `yaml:"funding" toml:"funding" json:"funding"`
}

type WebhookConfig struct {
	URL     string   `yaml:"url" toml:"url" json:"url"`
	Secret  string   `yaml:"secret" toml:"secret" json:"secret,omitempty"`
	Kinds   []string `yaml:"kinds" toml:"kinds" json:"kinds,omitempty"`
	Enabled *bool    `yaml:"enabled" toml:"enabled" json:"enabled,omitempty"`
	// TimeoutSeconds bounds a single delivery; zero means the default.
	TimeoutSeconds int `yaml:"timeout_seconds" toml:"timeout_seconds" json:"timeout_seconds,omitempty"`
}

type RBACRole struct {
	Description string   `yaml:"description" toml:"description" json:"description"`
	Permissions []string `yaml:"permissions" toml:"permissions" json:"permissions"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	open, err := domain.NormalizeTime(c.Calendar.Open)
	if err != nil {
		return fmt.Errorf("calendar.open: %w", err)
	}
	closing, err := domain.NormalizeTime(c.Calendar.Close)
	if err != nil {
		return fmt.Errorf("calendar.close: %w", err)
	}
	if closing <= open {
		return fmt.Errorf("calendar.close must be after calendar.open")
	}
	if c.Calendar.BucketMinutes <= 0 || c.Calendar.BucketMinutes > 24*60 {
		return fmt.Errorf("calendar.bucket_minutes must be between 1 and 1440")
	}
	if c.Calendar.SuggestionCount < 1 {
		return fmt.Errorf("calendar.suggestion_count must be at least 1")
	}
	if c.Calendar.SuggestionWindowDays < 1 {
		return fmt.Errorf("calendar.suggestion_window_days must be at least 1")
	}
	if c.Calendar.MinLeadHours < 0 {
		return fmt.Errorf("calendar.min_lead_hours must not be negative")
	}
	if c.Panel.Required < 1 {
		return fmt.Errorf("panel.required must be at least 1")
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("tiers is required")
	}
	perDay := len(c.Buckets())
	for name, tier := range c.Tiers {
		if name == "" {
			return fmt.Errorf("tiers contains empty tier name")
		}
		if tier.DurationBuckets < 1 || tier.DurationBuckets > perDay {
			return fmt.Errorf("tier %s duration_buckets must be between 1 and %d", name, perDay)
		}
		amt, err := domain.ParseAmount(tier.Funding)
		if err != nil {
			return fmt.Errorf("tier %s funding: %w", name, err)
		}
		if amt <= 0 {
			return fmt.Errorf("tier %s funding must be positive", name)
		}
	}
	if c.Disbursement.FundingKind == "" {
		return fmt.Errorf("disbursement.funding_kind is required")
	}
	if !domain.RemainderPolicy(c.Disbursement.Remainder).Valid() {
		return fmt.Errorf("disbursement.remainder must be truncate or first_recipient")
	}
	if c.Disbursement.Parallelism < 1 {
		return fmt.Errorf("disbursement.parallelism must be at least 1")
	}
	for i, hook := range c.Notifications.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("notifications.webhooks[%d].url is required", i)
		}
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("rbac.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
	}
	return nil
}

// Buckets lists the bucket start times of a calendar day, in order.
func (c *Config) Buckets() []string {
	open, err := time.Parse(domain.TimeLayout, mustTime(c.Calendar.Open))
	if err != nil {
		return nil
	}
	closing, err := time.Parse(domain.TimeLayout, mustTime(c.Calendar.Close))
	if err != nil || c.Calendar.BucketMinutes <= 0 {
		return nil
	}
	step := c.BucketLength()
	var out []string
	for t := open; !t.Add(step).After(closing); t = t.Add(step) {
		out = append(out, t.Format(domain.TimeLayout))
	}
	return out
}

// BucketLength is the duration of one calendar bucket.
func (c *Config) BucketLength() time.Duration {
	return time.Duration(c.Calendar.BucketMinutes) * time.Minute
}

// Tier looks up a tier and its parsed funding amount.
func (c *Config) Tier(name string) (Tier, domain.Amount, error) {
	tier, ok := c.Tiers[name]
	if !ok {
		return Tier{}, 0, domain.Invalid(fmt.Sprintf("unknown tier %q", name))
	}
	amt, err := domain.ParseAmount(tier.Funding)
	if err != nil {
		return Tier{}, 0, err
	}
	return tier, amt, nil
}

// RolePermissions returns the union of permissions held by roles.
func (c *Config) RolePermissions(roles []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range roles {
		for _, p := range c.RBAC.Roles[r].Permissions {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

func mustTime(s string) string {
	n, err := domain.NormalizeTime(s)
	if err != nil {
		return s
	}
	return n
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "docket.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct. It panics if the built-in
// template does not decode.
func Default() *Config {
	var cfg Config
	if err := yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg); err != nil {
		panic(fmt.Sprintf("config: default template: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromTOML parses and validates config from raw TOML bytes.
func FromTOML(data []byte) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return nil, fmt.Errorf("invalid config toml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads config from path; .toml files are decoded as TOML, all
// others as YAML.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FromTOML(data)
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the workspace has no docket.yml.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `calendar:
  open: "09:00:00"
  close: "17:00:00"
  bucket_minutes: 60
  suggestion_count: 3
  suggestion_window_days: 14
  min_lead_hours: 48

panel:
  required: 7

tiers:
  standard:
    duration_buckets: 1
    funding: "350.00"
  extended:
    duration_buckets: 2
    funding: "700.00"

disbursement:
  funding_kind: panel_fee
  remainder: truncate
  parallelism: 4

rbac:
  roles:
    submitter:
      description: "Files cases and runs the proceeding"
      permissions: [case.create, case.read, case.reschedule, case.cancel, case.execute, funding.record, slot.read, verdict.read, payment.read]
    approver:
      description: "Reviews cases and panel applications"
      permissions: [case.read, case.decide, application.read, application.decide, slot.read, slot.block, verdict.read, payment.read, payment.disburse, event.read, rbac.manage]
    panelist:
      description: "Applies to panels and submits verdicts"
      permissions: [case.read, application.create, verdict.submit, slot.read]
`

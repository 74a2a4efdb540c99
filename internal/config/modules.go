package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// ModulePolicy is the hand-maintained per-module configuration: invocation
// timeouts, the conversational allow-list and the catalog seed.
type ModulePolicy struct {
	DefaultTimeout time.Duration            `yaml:"default_timeout" json:"default_timeout"`
	Timeouts       map[string]time.Duration `yaml:"timeouts" json:"timeouts"`
	ChatModules    []string                 `yaml:"chat_modules" json:"chat_modules"`
	Modules        []ModuleEntry            `yaml:"modules" json:"modules"`
}

// ModuleEntry seeds one row of the module catalog.
type ModuleEntry struct {
	ID          string `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Slug        string `yaml:"slug" json:"slug"`
	Endpoint    string `yaml:"endpoint" json:"endpoint"`
	TriggerType string `yaml:"trigger_type" json:"trigger_type"`
	PremiumOnly bool   `yaml:"premium_only" json:"premium_only"`
}

// DefaultModulePolicy returns the built-in policy used when no file exists.
func DefaultModulePolicy() *ModulePolicy {
	return &ModulePolicy{
		DefaultTimeout: 180 * time.Second,
		Timeouts: map[string]time.Duration{
			"ai-writer":       300 * time.Second,
			"video-generator": 300 * time.Second,
			"image-generator": 240 * time.Second,
			"market-research": 240 * time.Second,
			"seo-optimizer":   180 * time.Second,
		},
		ChatModules: []string{"ai-assistant", "business-coach", "content-strategist"},
	}
}

// LoadModulePolicy reads and validates the policy file at path. A missing file
// yields the default policy.
func LoadModulePolicy(path string) (*ModulePolicy, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultModulePolicy(), nil
	}
	if err != nil {
		return nil, err
	}
	return ParseModulePolicy(b)
}

// ParseModulePolicy decodes YAML policy content. Omitted sections fall back to
// the defaults.
func ParseModulePolicy(data []byte) (*ModulePolicy, error) {
	var p ModulePolicy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	def := DefaultModulePolicy()
	if p.DefaultTimeout == 0 {
		p.DefaultTimeout = def.DefaultTimeout
	}
	if p.Timeouts == nil {
		p.Timeouts = def.Timeouts
	}
	if p.ChatModules == nil {
		p.ChatModules = def.ChatModules
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks durations and slugs.
func (p *ModulePolicy) Validate() error {
	if p.DefaultTimeout <= 0 {
		return fmt.Errorf("default_timeout must be > 0")
	}
	for slug, d := range p.Timeouts {
		if slug == "" {
			return fmt.Errorf("timeouts: empty module slug")
		}
		if d <= 0 {
			return fmt.Errorf("timeouts.%s must be > 0", slug)
		}
	}
	for i, slug := range p.ChatModules {
		if slug == "" {
			return fmt.Errorf("chat_modules[%d]: empty module slug", i)
		}
	}

	ids := make(map[string]bool, len(p.Modules))
	slugs := make(map[string]bool, len(p.Modules))
	for i, m := range p.Modules {
		if m.ID == "" || m.Slug == "" || m.Name == "" {
			return fmt.Errorf("modules[%d]: id, name and slug are required", i)
		}
		if ids[m.ID] {
			return fmt.Errorf("modules[%d]: duplicate id %q", i, m.ID)
		}
		if slugs[m.Slug] {
			return fmt.Errorf("modules[%d]: duplicate slug %q", i, m.Slug)
		}
		switch m.TriggerType {
		case "", "CHAT", "STANDARD":
		default:
			return fmt.Errorf("modules[%d]: trigger_type must be CHAT or STANDARD", i)
		}
		ids[m.ID] = true
		slugs[m.Slug] = true
	}
	return nil
}

// UnknownSlugs returns the timeout and allow-list slugs absent from catalog.
func (p *ModulePolicy) UnknownSlugs(catalog map[string]bool) []string {
	var unknown []string
	seen := map[string]bool{}
	check := func(slug string) {
		if !catalog[slug] && !seen[slug] {
			seen[slug] = true
			unknown = append(unknown, slug)
		}
	}
	for slug := range p.Timeouts {
		check(slug)
	}
	for _, slug := range p.ChatModules {
		check(slug)
	}
	sort.Strings(unknown)
	return unknown
}

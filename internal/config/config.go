package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"calsync/internal/models"
)

const (
	BackendGoogle = "google"
	BackendCalDAV = "caldav"

	defaultWorkers = 4
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the content of the calendar-pair file.
type Config struct {
	// Backend selects the calendar service: "google" (default) or "caldav".
	Backend string `yaml:"backend"`
	// Workers bounds how many pairs, and how many inserts per pair, run at once.
	Workers int `yaml:"workers"`
	// Retries is how many times a pair is re-run after a backend error.
	Retries uint64 `yaml:"retries"`

	Calendars []models.CalendarPair `yaml:"calendars"`
}

// Load reads, normalizes and validates the YAML file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a configuration document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize fills in defaults for unset fields.
func (c *Config) Normalize() {
	if c.Backend == "" {
		c.Backend = BackendGoogle
	}
	if c.Workers <= 0 {
		c.Workers = defaultWorkers
	}
	for i := range c.Calendars {
		if c.Calendars[i].IgnoreEvents == nil {
			c.Calendars[i].IgnoreEvents = []string{}
		}
	}
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendGoogle, BackendCalDAV:
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalid, c.Backend)
	}
	if len(c.Calendars) == 0 {
		return fmt.Errorf("%w: no calendars configured", ErrInvalid)
	}
	for i, p := range c.Calendars {
		if p.Name == "" {
			return fmt.Errorf("%w: calendar #%d has no name", ErrInvalid, i+1)
		}
		if p.Source == "" || p.Target == "" {
			return fmt.Errorf("%w: calendar %q needs both source and target", ErrInvalid, p.Name)
		}
	}
	names := lo.Map(c.Calendars, func(p models.CalendarPair, _ int) string { return p.Name })
	if dups := lo.FindDuplicates(names); len(dups) > 0 {
		return fmt.Errorf("%w: duplicate calendar name %q", ErrInvalid, dups[0])
	}
	return nil
}

// Package registry resolves which data source is authoritative for a
// (variable, date) pair. Sources are declared in a YAML file loaded once at
// startup; declaration order encodes priority when date ranges overlap.
package registry

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Source describes one authoritative data feed for one variable over a
// half-open date range [Start, End).
type Source struct {
	ID                string
	Name              string
	Variable          string
	MappedVariable    string
	FilePrefix        string
	Monthly           bool
	DaylightCorrected bool
	Start             time.Time
	End               time.Time
}

// Contains reports whether a date falls in the source's validity range.
func (s *Source) Contains(date time.Time) bool {
	d := midnightUTC(date)
	return !d.Before(s.Start) && d.Before(s.End)
}

// Registry is an ordered, immutable collection of sources.
type Registry struct {
	sources []*Source
}

// New builds a registry from an ordered source list.
func New(sources []*Source) (*Registry, error) {
	for i, s := range sources {
		if s.Variable == "" {
			return nil, fmt.Errorf("source %d (%s): variable is required", i, s.ID)
		}
		if s.MappedVariable == "" {
			s.MappedVariable = s.Variable
		}
		if !s.Start.Before(s.End) {
			return nil, fmt.Errorf("source %s: start %s is not before end %s",
				s.ID, s.Start.Format("2006-01-02"), s.End.Format("2006-01-02"))
		}
	}
	return &Registry{sources: sources}, nil
}

// Lookup returns the first-declared source for a variable whose range
// contains the date, or nil when no source covers it. A nil result means
// the variable is unavailable for that date, not an error.
func (r *Registry) Lookup(variable string, date time.Time) *Source {
	for _, s := range r.sources {
		if s.Variable == variable && s.Contains(date) {
			return s
		}
	}
	return nil
}

// AvailableForDate returns every source, across all variables, valid on the
// given date.
func (r *Registry) AvailableForDate(date time.Time) []*Source {
	var out []*Source
	for _, s := range r.sources {
		if s.Contains(date) {
			out = append(out, s)
		}
	}
	return out
}

// SourcesForVariable returns all declared sources for a variable, in order.
func (r *Registry) SourcesForVariable(variable string) []*Source {
	var out []*Source
	for _, s := range r.sources {
		if s.Variable == variable {
			out = append(out, s)
		}
	}
	return out
}

// DateRelevant reports whether a date belongs on the processing timeline:
// either some non-monthly source covers it, or it is the first of a month
// covered by any source.
func (r *Registry) DateRelevant(date time.Time) bool {
	available := r.AvailableForDate(date)
	if len(available) == 0 {
		return false
	}
	if date.Day() == 1 {
		return true
	}
	for _, s := range available {
		if !s.Monthly {
			return true
		}
	}
	return false
}

// Variables returns the distinct variable names declared, in first-seen order.
func (r *Registry) Variables() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range r.sources {
		if !seen[s.Variable] {
			seen[s.Variable] = true
			out = append(out, s.Variable)
		}
	}
	return out
}

type sourceConfig struct {
	ID                string `yaml:"id"`
	Name              string `yaml:"name"`
	Variable          string `yaml:"variable"`
	MappedVariable    string `yaml:"mapped_variable"`
	FilePrefix        string `yaml:"file_prefix"`
	Monthly           bool   `yaml:"monthly"`
	Start             string `yaml:"start"`
	End               string `yaml:"end"`
	DaylightCorrected *bool  `yaml:"daylight_corrected"`
}

type registryConfig struct {
	Sources []sourceConfig `yaml:"sources"`
}

// Load reads the source declarations from a YAML file. A missing or
// malformed file is a startup-fatal condition for callers: no meaningful
// work can proceed without the registry.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source registry: %w", err)
	}
	return ParseYAML(data)
}

// ParseYAML decodes source declarations from YAML bytes.
func ParseYAML(data []byte) (*Registry, error) {
	var cfg registryConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse source registry: %w", err)
	}
	if len(cfg.Sources) == 0 {
		return nil, fmt.Errorf("source registry declares no sources")
	}

	sources := make([]*Source, 0, len(cfg.Sources))
	for i, sc := range cfg.Sources {
		start, err := time.Parse("2006-01-02", sc.Start)
		if err != nil {
			return nil, fmt.Errorf("source %d (%s): parse start: %w", i, sc.ID, err)
		}
		end, err := time.Parse("2006-01-02", sc.End)
		if err != nil {
			return nil, fmt.Errorf("source %d (%s): parse end: %w", i, sc.ID, err)
		}

		daylightCorrected := true
		if sc.DaylightCorrected != nil {
			daylightCorrected = *sc.DaylightCorrected
		}

		sources = append(sources, &Source{
			ID:                sc.ID,
			Name:              sc.Name,
			Variable:          sc.Variable,
			MappedVariable:    sc.MappedVariable,
			FilePrefix:        sc.FilePrefix,
			Monthly:           sc.Monthly,
			DaylightCorrected: daylightCorrected,
			Start:             start,
			End:               end,
		})
	}

	return New(sources)
}

func midnightUTC(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
}

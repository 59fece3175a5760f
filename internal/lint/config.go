// Package lint is a declarative rule engine over a minimal bundle shape:
// typed entity payloads, an id registry and an edge list.
package lint

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/starford/sddbundle/internal/models"
)

// Rule kinds.
const (
	KindRegex          = "regex"
	KindHasLink        = "has-link"
	KindCoverage       = "coverage"
	KindNoBrokenRef    = "no-broken-ref"
	KindRedundantLink  = "redundant-bidirectional-link"
	KindRequiredField  = "required-field"
	KindEnumValue      = "enum-value"
	KindQualityCheck   = "quality-check"
	defaultDescMaxLen  = 500
	defaultLinkField   = "realizesFeatureIds"
	defaultAcceptField = "acceptanceCriteria"
	defaultDescField   = "description"
)

// Quality sub-checks.
const (
	CheckAtomic     = "atomic"
	CheckTraceable  = "traceable"
	CheckComplete   = "complete"
	CheckVerifiable = "verifiable"
)

var allQualityChecks = []string{CheckAtomic, CheckTraceable, CheckComplete, CheckVerifiable}

// Config is a lint configuration file.
type Config struct {
	Rules map[string]Rule `yaml:"rules" json:"rules"`
}

// Rule is one configured rule. Which fields apply depends on Kind.
type Rule struct {
	Kind     string          `yaml:"kind" json:"kind"`
	Severity models.Severity `yaml:"severity,omitempty" json:"severity,omitempty"`
	// Message replaces the text of required-field diagnostics.
	Message  string          `yaml:"message,omitempty" json:"message,omitempty"`
	Entities StringList      `yaml:"entities,omitempty" json:"entities,omitempty"`
	Field    string          `yaml:"field,omitempty" json:"field,omitempty"`
	Pattern  string          `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Min      *int            `yaml:"min,omitempty" json:"min,omitempty"`
	Source   string          `yaml:"source,omitempty" json:"source,omitempty"`
	Values   []any           `yaml:"values,omitempty" json:"values,omitempty"`

	// quality-check
	Checks               StringList `yaml:"checks,omitempty" json:"checks,omitempty"`
	ExpectedFields       StringList `yaml:"expectedFields,omitempty" json:"expectedFields,omitempty"`
	DescriptionField     string     `yaml:"descriptionField,omitempty" json:"descriptionField,omitempty"`
	LinkField            string     `yaml:"linkField,omitempty" json:"linkField,omitempty"`
	AcceptanceField      string     `yaml:"acceptanceField,omitempty" json:"acceptanceField,omitempty"`
	FeatureLinkField     string     `yaml:"featureLinkField,omitempty" json:"featureLinkField,omitempty"`
	MaxDescriptionLength int        `yaml:"maxDescriptionLength,omitempty" json:"maxDescriptionLength,omitempty"`
}

// StringList accepts either a scalar or a sequence of strings.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		*l = StringList{n.Value}
		return nil
	case yaml.SequenceNode:
		var s []string
		if err := n.Decode(&s); err != nil {
			return err
		}
		*l = s
		return nil
	default:
		return fmt.Errorf("lint: expected string or list at line %d", n.Line)
	}
}

// Contains reports whether s is in the list.
func (l StringList) Contains(s string) bool {
	for _, x := range l {
		if x == s {
			return true
		}
	}
	return false
}

// ParseConfig decodes a YAML (or JSON) lint configuration.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("lint: parse config: %w", err)
	}
	if cfg.Rules == nil {
		cfg.Rules = map[string]Rule{}
	}
	return &cfg, nil
}

// LoadConfig reads a lint configuration file. A missing file yields an
// empty configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Config{Rules: map[string]Rule{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lint: read config: %w", err)
	}
	return ParseConfig(data)
}

func (r Rule) severity() models.Severity {
	if r.Severity != "" {
		return r.Severity
	}
	switch r.Kind {
	case KindRedundantLink, KindQualityCheck:
		return models.SeverityWarning
	default:
		return models.SeverityError
	}
}

func (r Rule) min() int {
	if r.Min != nil {
		return *r.Min
	}
	return 1
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

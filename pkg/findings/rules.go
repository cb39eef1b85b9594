package findings

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fleetaudit/fleetaudit/pkg/engine"
)

//go:embed rules.yaml
var embeddedRules []byte

// Rule matches one condition against one record field (or a family of fields
// sharing a prefix) and emits a finding when the condition holds.
type Rule struct {
	// ID identifies the rule in logs.
	ID string `yaml:"id"`

	// Field is the exact record field the rule inspects. Mutually exclusive
	// with FieldPrefix.
	Field string `yaml:"field,omitempty"`

	// FieldPrefix matches every field sharing the prefix, e.g. "services."
	// to inspect each required service with one rule.
	FieldPrefix string `yaml:"field_prefix,omitempty"`

	// AnyField applies the rule to every record field.
	AnyField bool `yaml:"any_field,omitempty"`

	// KindIs matches the result's sentinel kind ("unreachable",
	// "access_denied", "error", "unknown").
	KindIs string `yaml:"kind_is,omitempty"`

	// Equals matches the formatted value exactly.
	Equals string `yaml:"equals,omitempty"`

	// Contains matches a substring of the formatted value.
	Contains string `yaml:"contains,omitempty"`

	// NumberGT, NumberGTE, and NumberLT compare against the result's raw
	// numeric magnitude; results without one never match. GTE keeps adjacent
	// bands gap-free at the boundary.
	NumberGT  *float64 `yaml:"number_gt,omitempty"`
	NumberGTE *float64 `yaml:"number_gte,omitempty"`
	NumberLT  *float64 `yaml:"number_lt,omitempty"`

	Severity Severity `yaml:"severity"`
	Category string   `yaml:"category"`

	// Message may reference {target}, {field}, and {value}.
	Message string `yaml:"message"`
}

// Validate checks the rule is well-formed.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule missing id")
	}
	if r.Field == "" && r.FieldPrefix == "" && !r.AnyField {
		return fmt.Errorf("rule %s: needs field, field_prefix, or any_field", r.ID)
	}
	if r.Field != "" && r.FieldPrefix != "" {
		return fmt.Errorf("rule %s: field and field_prefix are mutually exclusive", r.ID)
	}
	if r.KindIs == "" && r.Equals == "" && r.Contains == "" &&
		r.NumberGT == nil && r.NumberGTE == nil && r.NumberLT == nil {
		return fmt.Errorf("rule %s: no condition", r.ID)
	}
	if !r.Severity.Valid() {
		return fmt.Errorf("rule %s: unknown severity %q", r.ID, r.Severity)
	}
	if r.Category == "" || r.Message == "" {
		return fmt.Errorf("rule %s: category and message are required", r.ID)
	}
	return nil
}

// appliesTo reports whether the rule inspects the named field.
func (r Rule) appliesTo(field string) bool {
	switch {
	case r.Field != "":
		return r.Field == field
	case r.FieldPrefix != "":
		return strings.HasPrefix(field, r.FieldPrefix)
	default:
		return r.AnyField
	}
}

// matches evaluates the rule's condition against one result. Every stated
// condition must hold.
func (r Rule) matches(res engine.ProbeResult) bool {
	if r.KindIs != "" {
		if string(res.Kind) != r.KindIs {
			return false
		}
	} else if !res.OK() {
		// Value conditions only apply to real values; sentinels are matched
		// explicitly through kind_is.
		return false
	}
	if r.Equals != "" && res.Value != r.Equals {
		return false
	}
	if r.Contains != "" && !strings.Contains(res.Value, r.Contains) {
		return false
	}
	if r.NumberGT != nil {
		if res.Raw == nil || *res.Raw <= *r.NumberGT {
			return false
		}
	}
	if r.NumberGTE != nil {
		if res.Raw == nil || *res.Raw < *r.NumberGTE {
			return false
		}
	}
	if r.NumberLT != nil {
		if res.Raw == nil || *res.Raw >= *r.NumberLT {
			return false
		}
	}
	return true
}

// render expands the rule's message template for one match.
func (r Rule) render(target, field string, res engine.ProbeResult) string {
	msg := strings.ReplaceAll(r.Message, "{target}", target)
	msg = strings.ReplaceAll(msg, "{field}", field)
	return strings.ReplaceAll(msg, "{value}", res.String())
}

// ruleFile is the YAML document shape of a rule table.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadEmbeddedRules parses and validates the built-in rule table.
func LoadEmbeddedRules() ([]Rule, error) {
	return ParseRules(embeddedRules)
}

// ParseRules parses a YAML rule table, validating every rule.
func ParseRules(data []byte) ([]Rule, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rule table: %w", err)
	}
	if len(file.Rules) == 0 {
		return nil, fmt.Errorf("rule table is empty")
	}
	for _, r := range file.Rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	return file.Rules, nil
}

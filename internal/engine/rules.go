package engine

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vigilstack/vigil-heal/internal/models"
	"github.com/vigilstack/vigil-heal/internal/utils"
)

// Rule is a named predicate over one metric plus the ordered remediation
// candidates to run when it matches. Rules are immutable during an
// evaluation pass; reloads swap the whole set.
type Rule struct {
	Name     string          `yaml:"name"`
	Metric   string          `yaml:"metric"`
	Severity models.Severity `yaml:"severity"`
	When     Condition       `yaml:"when"`
	Actions  []string        `yaml:"actions"`

	// Emergency names the terminal actuator invoked once when a critical
	// issue exhausts its candidates.
	Emergency string `yaml:"emergency"`
}

// Condition defines the predicate. Exactly one of Above, Below, or State
// selects the comparison; Sustain upgrades it to a sustained-threshold
// check, and RatePerMinute replaces it with a rate-of-change check over
// Window.
type Condition struct {
	Above *float64            `yaml:"above"`
	Below *float64            `yaml:"below"`
	State models.ServiceState `yaml:"state"`

	Sustain       time.Duration `yaml:"sustain"`
	RatePerMinute *float64      `yaml:"ratePerMinute"`
	Window        time.Duration `yaml:"window"`
}

// Kind classifies the predicate for evaluation.
type predicateKind int

const (
	predicateInstant predicateKind = iota
	predicateSustained
	predicateRate
)

func (c Condition) kind() predicateKind {
	switch {
	case c.RatePerMinute != nil:
		return predicateRate
	case c.Sustain > 0:
		return predicateSustained
	default:
		return predicateInstant
	}
}

// holds reports whether the threshold part of the condition matches value.
func (c Condition) holds(v models.Value) bool {
	switch {
	case c.Above != nil:
		return v.Kind == models.KindNumeric && v.Num > *c.Above
	case c.Below != nil:
		return v.Kind == models.KindNumeric && v.Num < *c.Below
	case c.State != "":
		return v.Kind == models.KindState && v.State == c.State
	default:
		return false
	}
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads and validates a YAML rule pack. A malformed pack is
// rejected wholesale so callers can keep the previous valid set active.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read rule pack: %v", utils.ErrConfig, err)
	}
	return ParseRules(data)
}

// ParseRules parses and validates rule pack bytes.
func ParseRules(data []byte) ([]Rule, error) {
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: parse rule pack: %v", utils.ErrConfig, err)
	}
	if err := ValidateRules(file.Rules); err != nil {
		return nil, err
	}
	return file.Rules, nil
}

// ValidateRules rejects rule sets the engine cannot evaluate.
func ValidateRules(rules []Rule) error {
	if len(rules) == 0 {
		return fmt.Errorf("%w: rule pack contains no rules", utils.ErrConfig)
	}

	seen := make(map[string]struct{}, len(rules))
	for i, rule := range rules {
		if rule.Name == "" {
			return fmt.Errorf("%w: rule %d has no name", utils.ErrConfig, i)
		}
		if _, dup := seen[rule.Name]; dup {
			return fmt.Errorf("%w: duplicate rule %q", utils.ErrConfig, rule.Name)
		}
		seen[rule.Name] = struct{}{}

		if rule.Metric == "" {
			return fmt.Errorf("%w: rule %q has no metric", utils.ErrConfig, rule.Name)
		}
		if !models.ValidSeverity(rule.Severity) {
			return fmt.Errorf("%w: rule %q has invalid severity %q", utils.ErrConfig, rule.Name, rule.Severity)
		}
		if len(rule.Actions) == 0 {
			return fmt.Errorf("%w: rule %q lists no actions", utils.ErrConfig, rule.Name)
		}
		if err := validateCondition(rule); err != nil {
			return err
		}
	}
	return nil
}

func validateCondition(rule Rule) error {
	c := rule.When

	comparisons := 0
	if c.Above != nil {
		comparisons++
	}
	if c.Below != nil {
		comparisons++
	}
	if c.State != "" {
		comparisons++
	}

	switch c.kind() {
	case predicateRate:
		if comparisons != 0 {
			return fmt.Errorf("%w: rule %q mixes rate-of-change with a threshold", utils.ErrConfig, rule.Name)
		}
		if *c.RatePerMinute == 0 {
			return fmt.Errorf("%w: rule %q has zero ratePerMinute", utils.ErrConfig, rule.Name)
		}
		if c.Window <= 0 {
			return fmt.Errorf("%w: rule %q needs a positive window for rate-of-change", utils.ErrConfig, rule.Name)
		}
	case predicateSustained, predicateInstant:
		if comparisons != 1 {
			return fmt.Errorf("%w: rule %q must set exactly one of above, below, state", utils.ErrConfig, rule.Name)
		}
		if c.State != "" && c.State != models.StateUp && c.State != models.StateDegraded && c.State != models.StateDown {
			return fmt.Errorf("%w: rule %q has unknown state %q", utils.ErrConfig, rule.Name, c.State)
		}
	}
	return nil
}

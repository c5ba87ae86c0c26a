package risk

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultRules returns the built-in rule set used when no rules file
// is configured.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:        "max_balance_allocation",
			Name:      "Maximum Balance Allocation",
			Kind:      KindBalance,
			Threshold: 0.5,
			Action:    ActionBlock,
			Priority:  1,
			Enabled:   true,
		},
		{
			ID:        "max_position_count",
			Name:      "Maximum Position Count",
			Kind:      KindPositionCount,
			Threshold: 10,
			Action:    ActionBlock,
			Priority:  2,
			Enabled:   true,
		},
		{
			ID:        "max_trade_frequency",
			Name:      "Maximum Trade Frequency",
			Kind:      KindTradeFrequency,
			Threshold: 20,
			Action:    ActionBlock,
			Priority:  3,
			Enabled:   true,
		},
		{
			ID:        "max_position_size",
			Name:      "Maximum Position Size",
			Kind:      KindPositionSize,
			Threshold: 0.1,
			Action:    ActionReduce,
			Priority:  4,
			Enabled:   true,
		},
		{
			ID:        "max_daily_loss",
			Name:      "Maximum Daily Loss",
			Kind:      KindDailyLoss,
			Threshold: 0.02,
			Action:    ActionEmergencyStop,
			Priority:  5,
			Enabled:   true,
		},
	}
}

type rulesFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRules reads a rule set from a YAML file and validates it.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("rules file %s contains no rules", path)
	}

	seen := make(map[string]bool, len(f.Rules))
	for i, r := range f.Rules {
		if err := validateRule(r); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, r.ID, err)
		}
		if seen[r.ID] {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = true
	}
	return f.Rules, nil
}

func validateRule(r Rule) error {
	if r.ID == "" {
		return fmt.Errorf("missing id")
	}
	switch r.Kind {
	case KindBalance, KindPositionCount, KindPositionSize, KindTradeFrequency, KindDailyLoss:
	default:
		return fmt.Errorf("unknown kind %q", r.Kind)
	}
	switch r.Action {
	case ActionAllow, ActionReduce, ActionBlock, ActionEmergencyStop:
	default:
		return fmt.Errorf("unknown action %q", r.Action)
	}
	if r.Threshold <= 0 {
		return fmt.Errorf("threshold must be positive, got %v", r.Threshold)
	}
	return nil
}

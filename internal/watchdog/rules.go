package watchdog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/opsai/internal/storage"
)

// Check types.
const (
	DateDelay    = "date_delay"
	StockLevel   = "stock_level"
	CustomFilter = "custom_filter"
)

// Targets.
const (
	TargetMRPOrders      = "mrp_orders"
	TargetSaleOrders     = "sale_orders"
	TargetPurchaseOrders = "purchase_orders"
	TargetProducts       = "products"
)

// States accepts either a single state or a list in YAML.
type States []string

func (s *States) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			*s = nil
			return nil
		}
		*s = States{node.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*s = list
		return nil
	default:
		return fmt.Errorf("line %d: state must be a string or a list", node.Line)
	}
}

// Filter narrows the records a rule looks at. Name matches order, partner or
// product names by substring.
type Filter struct {
	State States `yaml:"state" json:"state,omitempty"`
	Name  string `yaml:"name" json:"name,omitempty"`
}

// Rule is one watchdog rule as written in the rules file.
type Rule struct {
	Name       string   `yaml:"name"`
	Active     *bool    `yaml:"active"`
	CheckType  string   `yaml:"check_type"`
	Target     string   `yaml:"target"`
	Filter     Filter   `yaml:"filter"`
	Threshold  float64  `yaml:"threshold"`
	Recipients []string `yaml:"recipients"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Validate checks that the check type and target go together.
func (r Rule) Validate() error {
	if r.Name == "" {
		return errors.New("rule without name")
	}
	if r.Threshold < 0 {
		return fmt.Errorf("rule %q: threshold must not be negative", r.Name)
	}
	switch r.CheckType {
	case DateDelay:
		if !slices.Contains([]string{TargetMRPOrders, TargetSaleOrders, TargetPurchaseOrders}, r.Target) {
			return fmt.Errorf("rule %q: date_delay needs an order target, got %q", r.Name, r.Target)
		}
	case StockLevel:
		if r.Target != TargetProducts {
			return fmt.Errorf("rule %q: stock_level needs target products, got %q", r.Name, r.Target)
		}
	case CustomFilter:
		if !slices.Contains([]string{TargetMRPOrders, TargetSaleOrders, TargetPurchaseOrders, TargetProducts}, r.Target) {
			return fmt.Errorf("rule %q: unknown target %q", r.Name, r.Target)
		}
	default:
		return fmt.Errorf("rule %q: unknown check type %q", r.Name, r.CheckType)
	}
	return nil
}

// ParseRules decodes and validates a rules document. Unknown keys are
// rejected so typos do not silently disable a filter.
func ParseRules(data []byte) ([]Rule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f ruleFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decoding rules: %w", err)
	}
	seen := make(map[string]bool, len(f.Rules))
	for i := range f.Rules {
		r := &f.Rules[i]
		if r.Target == "" && r.CheckType == StockLevel {
			r.Target = TargetProducts
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("duplicate rule %q", r.Name)
		}
		seen[r.Name] = true
	}
	return f.Rules, nil
}

// LoadRules reads a YAML rules file. A missing file yields no rules and no
// error.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading rules: %w", err)
	}
	return ParseRules(data)
}

// RuleWriter stores rule definitions. *storage.Store satisfies it.
type RuleWriter interface {
	UpsertWatchdogRule(ctx context.Context, r storage.WatchdogRule) (storage.WatchdogRule, error)
}

// Seed stores rules, replacing definitions with the same name. Last check
// times are kept.
func Seed(ctx context.Context, store RuleWriter, rules []Rule) error {
	for _, r := range rules {
		sr, err := r.record()
		if err != nil {
			return err
		}
		if _, err := store.UpsertWatchdogRule(ctx, sr); err != nil {
			return err
		}
	}
	return nil
}

func (r Rule) record() (storage.WatchdogRule, error) {
	filter, err := json.Marshal(r.Filter)
	if err != nil {
		return storage.WatchdogRule{}, fmt.Errorf("encoding filter of rule %q: %w", r.Name, err)
	}
	active := r.Active == nil || *r.Active
	return storage.WatchdogRule{
		Name:       r.Name,
		Active:     active,
		CheckType:  r.CheckType,
		Target:     r.Target,
		FilterJSON: string(filter),
		Threshold:  r.Threshold,
		Recipients: r.Recipients,
	}, nil
}

func decodeFilter(raw string) (Filter, error) {
	var f Filter
	if raw == "" {
		return f, nil
	}
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return Filter{}, fmt.Errorf("decoding filter: %w", err)
	}
	return f, nil
}

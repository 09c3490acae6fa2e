package rules

import (
	"fmt"
	"sort"

	"github.com/mikey/email-agent/internal/core"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// LoadError is returned when a rule source cannot be read or parsed as a whole
type LoadError struct {
	Source string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load rules from %s: %v", e.Source, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

type ruleFile struct {
	Rules []yaml.Node `yaml:"rules"`
}

type ruleEntry struct {
	Name       string    `yaml:"name"`
	Priority   int       `yaml:"priority"`
	Conditions yaml.Node `yaml:"conditions"`
	Category   string    `yaml:"category"`
	Folder     string    `yaml:"folder"`
	AutoDelete bool      `yaml:"auto_delete"`
}

// Parse decodes a YAML rule document. Invalid entries are logged and
// skipped; only a syntactically broken document is an error. The result is
// ordered by priority, highest first, keeping document order for ties.
func Parse(data []byte, unknown UnknownConditionPolicy, logger *zap.Logger) ([]*Rule, error) {
	var doc ruleFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	if len(doc.Rules) == 0 {
		logger.Warn("No rules found in rule source")
		return []*Rule{}, nil
	}

	rules := make([]*Rule, 0, len(doc.Rules))
	for i := range doc.Rules {
		rule, err := parseRule(&doc.Rules[i], unknown, logger)
		if err != nil {
			logger.Error("Skipping invalid rule",
				zap.Int("index", i),
				zap.Int("line", doc.Rules[i].Line),
				zap.Error(err))
			continue
		}
		logger.Debug("Loaded rule", zap.String("rule", rule.Name))
		rules = append(rules, rule)
	}

	sort.SliceStable(rules, func(i, j int) bool {
		return rules[i].Priority > rules[j].Priority
	})

	return rules, nil
}

func parseRule(node *yaml.Node, unknown UnknownConditionPolicy, logger *zap.Logger) (*Rule, error) {
	var entry ruleEntry
	if err := node.Decode(&entry); err != nil {
		return nil, fmt.Errorf("malformed rule entry: %w", err)
	}

	if entry.Name == "" {
		return nil, fmt.Errorf("rule missing 'name' field")
	}

	conditions, err := parseConditions(&entry.Conditions)
	if err != nil {
		return nil, fmt.Errorf("rule '%s': %w", entry.Name, err)
	}
	if len(conditions) == 0 {
		return nil, fmt.Errorf("rule '%s' has no conditions", entry.Name)
	}

	categoryName := entry.Category
	if categoryName == "" {
		categoryName = string(core.CategoryUnknown)
	}
	category, ok := core.ParseCategory(categoryName)
	if !ok {
		return nil, fmt.Errorf("invalid category '%s' in rule '%s'", entry.Category, entry.Name)
	}

	for _, c := range conditions {
		if !IsKnownCondition(c.Type) {
			logger.Warn("Unknown condition type",
				zap.String("rule", entry.Name),
				zap.String("condition", c.Type),
				zap.Stringer("policy", unknown))
		}
	}

	return &Rule{
		Name:              entry.Name,
		Priority:          entry.Priority,
		Conditions:        conditions,
		Category:          category,
		Folder:            entry.Folder,
		AutoDelete:        entry.AutoDelete,
		UnknownConditions: unknown,
	}, nil
}

// parseConditions walks the conditions mapping in document order
func parseConditions(node *yaml.Node) ([]Condition, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("conditions must be a mapping")
	}

	conditions := make([]Condition, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		c := Condition{Type: key.Value}

		if c.Type == HasAttachments {
			if err := value.Decode(&c.Flag); err != nil {
				return nil, fmt.Errorf("condition %s must be a boolean", HasAttachments)
			}
		} else {
			if value.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("condition %s must be a scalar", c.Type)
			}
			c.Value = value.Value
		}

		conditions = append(conditions, c)
	}

	return conditions, nil
}

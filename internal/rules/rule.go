package rules

import (
	"fmt"
	"strings"

	"github.com/mikey/email-agent/internal/core"
)

// Condition types understood by the matcher
const (
	SenderContains         = "sender_contains"
	SenderEquals           = "sender_equals"
	SubjectContains        = "subject_contains"
	SubjectEquals          = "subject_equals"
	BodyContains           = "body_contains"
	HasAttachments         = "has_attachments"
	AttachmentNameContains = "attachment_name_contains"
)

var knownConditions = map[string]bool{
	SenderContains:         true,
	SenderEquals:           true,
	SubjectContains:        true,
	SubjectEquals:          true,
	BodyContains:           true,
	HasAttachments:         true,
	AttachmentNameContains: true,
}

// IsKnownCondition reports whether the matcher understands a condition type
func IsKnownCondition(conditionType string) bool {
	return knownConditions[conditionType]
}

// UnknownConditionPolicy decides how a condition type the matcher does not
// understand evaluates
type UnknownConditionPolicy int

const (
	// NeverMatch makes an unknown condition fail, so the rule cannot match
	NeverMatch UnknownConditionPolicy = iota
	// AlwaysMatch treats an unknown condition as satisfied
	AlwaysMatch
)

// ParseUnknownConditionPolicy parses the configuration form of a policy
func ParseUnknownConditionPolicy(s string) (UnknownConditionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "never_match", "never":
		return NeverMatch, nil
	case "always_match", "always":
		return AlwaysMatch, nil
	default:
		return NeverMatch, fmt.Errorf("unsupported unknown condition policy: %s", s)
	}
}

func (p UnknownConditionPolicy) String() string {
	if p == AlwaysMatch {
		return "always_match"
	}
	return "never_match"
}

// Condition is a single test a rule applies to an email
type Condition struct {
	Type string
	// Value is the pattern for text conditions
	Value string
	// Flag is the expected value for has_attachments
	Flag bool
}

// Rule is a declarative classification rule. Rules are immutable once loaded.
type Rule struct {
	Name       string
	Priority   int
	Conditions []Condition
	Category   core.Category
	Folder     string
	AutoDelete bool

	// UnknownConditions controls conditions of types the matcher does not know
	UnknownConditions UnknownConditionPolicy
}

// Matches reports whether every condition of the rule holds for the email
func (r *Rule) Matches(email core.NormalizedEmail) bool {
	folded := email.Folded()
	for _, c := range r.Conditions {
		if !c.matches(folded, r.UnknownConditions) {
			return false
		}
	}
	return true
}

// matches evaluates the condition against an already folded email
func (c Condition) matches(email core.NormalizedEmail, unknown UnknownConditionPolicy) bool {
	switch c.Type {
	case SenderContains:
		return containsAny(email.Sender, c.Value)
	case SubjectContains:
		return containsAny(email.Subject, c.Value)
	case BodyContains:
		return containsAny(email.BodyPreview, c.Value)
	case SenderEquals:
		return email.Sender == core.Fold(c.Value)
	case SubjectEquals:
		return email.Subject == core.Fold(c.Value)
	case HasAttachments:
		return email.HasAttachments == c.Flag
	case AttachmentNameContains:
		pattern := core.Fold(c.Value)
		for _, name := range email.AttachmentNames {
			if strings.Contains(name, pattern) {
				return true
			}
		}
		return false
	default:
		return unknown == AlwaysMatch
	}
}

// containsAny tests text against a pattern that may list alternatives
// separated by '|'. Empty alternatives are ignored.
func containsAny(text, pattern string) bool {
	if !strings.Contains(pattern, "|") {
		return strings.Contains(text, core.Fold(pattern))
	}
	for _, alt := range strings.Split(pattern, "|") {
		alt = core.Fold(strings.TrimSpace(alt))
		if alt == "" {
			continue
		}
		if strings.Contains(text, alt) {
			return true
		}
	}
	return false
}

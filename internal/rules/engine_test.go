package rules

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mikey/email-agent/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const sampleRules = `
rules:
  - name: "Invoice by subject"
    priority: 100
    conditions:
      subject_contains: "facture|invoice"
    category: INVOICE
    folder: "Finance/Invoices"

  - name: "LinkedIn notification"
    priority: 60
    conditions:
      sender_contains: "@linkedin.com"
    category: SOCIAL
    folder: "Social/LinkedIn"

  - name: "Spam with attachment"
    priority: 10
    conditions:
      subject_contains: "viagra|casino"
      has_attachments: true
    category: SPAM
    auto_delete: true
`

func newTestEngine(t *testing.T, doc string) *Engine {
	t.Helper()
	return NewEngine(&BytesSource{Label: "test", Data: []byte(doc)}, NeverMatch, zap.NewNop())
}

func TestParse_SortsByPriority(t *testing.T) {
	rules, err := Parse([]byte(sampleRules), NeverMatch, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, rules, 3)

	assert.Equal(t, "Invoice by subject", rules[0].Name)
	assert.Equal(t, "LinkedIn notification", rules[1].Name)
	assert.Equal(t, "Spam with attachment", rules[2].Name)

	assert.Equal(t, core.CategoryInvoice, rules[0].Category)
	assert.Equal(t, "Finance/Invoices", rules[0].Folder)
	assert.True(t, rules[2].AutoDelete)
	assert.Equal(t, []Condition{
		{Type: SubjectContains, Value: "viagra|casino"},
		{Type: HasAttachments, Flag: true},
	}, rules[2].Conditions)
}

func TestParse_StableForEqualPriority(t *testing.T) {
	doc := `
rules:
  - name: first
    conditions: {subject_contains: "a"}
    category: document
  - name: high
    priority: 5
    conditions: {subject_contains: "a"}
    category: document
  - name: second
    conditions: {subject_contains: "a"}
    category: document
`
	rules, err := Parse([]byte(doc), NeverMatch, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "high", rules[0].Name)
	assert.Equal(t, "first", rules[1].Name)
	assert.Equal(t, "second", rules[2].Name)
	assert.Equal(t, 0, rules[1].Priority)
}

func TestParse_SkipsInvalidEntries(t *testing.T) {
	doc := `
rules:
  - name: "Bad category"
    conditions:
      subject_contains: "x"
    category: INVALID_CATEGORY
  - conditions:
      subject_contains: "no name"
    category: spam
  - name: "No conditions"
    category: spam
  - name: "Empty conditions"
    conditions: {}
    category: spam
  - name: "Bad flag"
    conditions:
      has_attachments: "maybe"
    category: spam
  - name: "Valid"
    conditions:
      sender_contains: "example.com"
    category: personal
  - name: "Default category"
    conditions:
      sender_contains: "misc"
`
	rules, err := Parse([]byte(doc), NeverMatch, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "Valid", rules[0].Name)
	assert.Equal(t, "Default category", rules[1].Name)
	assert.Equal(t, core.CategoryUnknown, rules[1].Category)
}

func TestParse_SyntaxError(t *testing.T) {
	_, err := Parse([]byte("rules: [\n  - name: broken\n"), NeverMatch, zap.NewNop())
	assert.Error(t, err)
}

func TestParse_NoRules(t *testing.T) {
	rules, err := Parse([]byte("other: 1\n"), NeverMatch, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestEngine_FindMatchingRule(t *testing.T) {
	engine := newTestEngine(t, sampleRules)

	rule := engine.FindMatchingRule(core.NormalizedEmail{Subject: "Your Invoice #12345"})
	require.NotNil(t, rule)
	assert.Equal(t, "Invoice by subject", rule.Name)

	rule = engine.FindMatchingRule(core.NormalizedEmail{Sender: "notifications@linkedin.com", Subject: "New connection"})
	require.NotNil(t, rule)
	assert.Equal(t, "LinkedIn notification", rule.Name)

	rule = engine.FindMatchingRule(core.NormalizedEmail{Subject: "Casino bonus", HasAttachments: false})
	assert.Nil(t, rule)

	category, ok := engine.CategoryFor(core.NormalizedEmail{Subject: "Casino bonus", HasAttachments: true})
	assert.True(t, ok)
	assert.Equal(t, core.CategorySpam, category)

	_, ok = engine.CategoryFor(core.NormalizedEmail{Subject: "Hello"})
	assert.False(t, ok)
}

func TestEngine_HigherPriorityWins(t *testing.T) {
	engine := newTestEngine(t, sampleRules)

	// Matches both the invoice rule and the spam rule
	rule := engine.FindMatchingRule(core.NormalizedEmail{Subject: "casino invoice", HasAttachments: true})
	require.NotNil(t, rule)
	assert.Equal(t, "Invoice by subject", rule.Name)
}

func TestEngine_AttachmentNameEndToEnd(t *testing.T) {
	engine := newTestEngine(t, `
rules:
  - name: "Invoice attachment"
    conditions:
      attachment_name_contains: "invoice"
    category: INVOICE
`)

	email := &core.Email{
		Subject:        "Your Invoice #12345",
		Sender:         "billing@company.com",
		BodyPreview:    "Please find attached your invoice for January",
		HasAttachments: true,
		Attachments:    []core.Attachment{{Filename: "invoice_january.pdf"}},
	}

	rule := engine.FindMatchingRule(email.Normalized())
	require.NotNil(t, rule)
	assert.Equal(t, "Invoice attachment", rule.Name)
	assert.Equal(t, core.CategoryInvoice, rule.Category)
}

type countingSource struct {
	data  []byte
	err   error
	reads int
}

func (s *countingSource) Name() string { return "counting" }

func (s *countingSource) Read(context.Context) ([]byte, error) {
	s.reads++
	return s.data, s.err
}

func TestEngine_LazyLoadOnce(t *testing.T) {
	src := &countingSource{data: []byte(sampleRules)}
	engine := NewEngine(src, NeverMatch, zap.NewNop())
	assert.Equal(t, 0, src.reads)

	engine.FindMatchingRule(core.NormalizedEmail{Subject: "x"})
	engine.FindMatchingRule(core.NormalizedEmail{Subject: "y"})
	assert.Equal(t, 1, src.reads)
	assert.False(t, engine.LoadedAt().IsZero())
}

func TestEngine_ReloadKeepsPreviousOnFailure(t *testing.T) {
	src := &countingSource{data: []byte(sampleRules)}
	engine := NewEngine(src, NeverMatch, zap.NewNop())
	require.NoError(t, engine.Reload(context.Background()))
	require.Len(t, engine.Rules(), 3)

	src.data = []byte("rules: [\n  - broken\n")
	err := engine.Reload(context.Background())
	var loadErr *LoadError
	require.True(t, errors.As(err, &loadErr))
	assert.Equal(t, "counting", loadErr.Source)
	assert.Len(t, engine.Rules(), 3)

	src.data = []byte(`
rules:
  - name: only
    conditions: {sender_contains: "x"}
    category: spam
`)
	require.NoError(t, engine.Reload(context.Background()))
	rules := engine.Rules()
	require.Len(t, rules, 1)
	assert.Equal(t, "only", rules[0].Name)
}

func TestEngine_FileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "global_rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRules), 0o644))

	engine := NewEngine(NewFileSource(path), NeverMatch, zap.NewNop())
	require.NoError(t, engine.Reload(context.Background()))
	assert.Len(t, engine.Rules(), 3)
}

func TestEngine_MissingFileLoadsEmptySet(t *testing.T) {
	engine := NewEngine(NewFileSource(filepath.Join(t.TempDir(), "missing.yaml")), NeverMatch, zap.NewNop())
	require.NoError(t, engine.Reload(context.Background()))
	assert.Empty(t, engine.Rules())
	assert.Nil(t, engine.FindMatchingRule(core.NormalizedEmail{Subject: "anything"}))
}

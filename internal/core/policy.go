package core

// DefaultRuleConfidence is the confidence assigned to rule-based classifications
const DefaultRuleConfidence = 95

// DefaultFolders maps categories to the folder their emails are filed into
// when no rule decides otherwise. Categories absent from the map stay put.
var DefaultFolders = map[Category]string{
	CategoryInvoice:      "Finance/Invoices",
	CategoryReceipt:      "Finance/Receipts",
	CategoryDocument:     "Documents",
	CategoryNewsletter:   "Newsletters",
	CategoryPromotion:    "Promotions",
	CategorySocial:       "Social",
	CategoryNotification: "Notifications",
}

// Policy holds the tunable constants of the pipeline
type Policy struct {
	RuleConfidence   int
	Folders          map[Category]string
	DeleteCategories []Category
}

// DefaultPolicy returns the built-in policy
func DefaultPolicy() Policy {
	folders := make(map[Category]string, len(DefaultFolders))
	for c, f := range DefaultFolders {
		folders[c] = f
	}
	return Policy{
		RuleConfidence:   DefaultRuleConfidence,
		Folders:          folders,
		DeleteCategories: []Category{CategorySpam},
	}
}

// FolderFor returns the default folder for a category, or "" to leave the
// email where it is
func (p Policy) FolderFor(c Category) string {
	return p.Folders[c]
}

// ShouldDelete reports whether emails of this category are deleted when no
// rule matched
func (p Policy) ShouldDelete(c Category) bool {
	for _, d := range p.DeleteCategories {
		if d == c {
			return true
		}
	}
	return false
}

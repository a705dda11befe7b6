package diff

import "strings"

// Severity is the coarse risk classification of a conflict. It drives whether
// a conflict may be auto-resolved: only LOW and MEDIUM ever qualify.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

func (s Severity) Valid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

func severityRank(s Severity) int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// MaxSeverity returns the higher-ranked of the two.
func MaxSeverity(a, b Severity) Severity {
	if severityRank(b) > severityRank(a) {
		return b
	}
	return a
}

// Classifier maps differing field names to a severity. The zero value is not
// usable; use DefaultClassifier or build one with entity-specific field sets.
type Classifier struct {
	// FinancialTokens: a field whose lowercased name contains one of these is
	// money-bearing; a diff there is at least HIGH.
	FinancialTokens []string
	// IdentityFields: exact-match (case-insensitive) field names whose diff is
	// CRITICAL — identity-bearing or lifecycle-status fields.
	IdentityFields []string
	// FreeTextFields: exact-match field names whose diffs are cosmetic (LOW)
	// when no other class is touched.
	FreeTextFields []string
}

// DefaultClassifier carries the billing-domain rule table.
func DefaultClassifier() Classifier {
	return Classifier{
		FinancialTokens: []string{"amount", "balance", "total", "price"},
		IdentityFields:  []string{"status", "current_status", "currentstatus", "customerid", "customer_id", "supplierid", "supplier_id"},
		FreeTextFields:  []string{"notes", "note", "description", "remark", "remarks", "comment", "comments", "memo"},
	}
}

// ClassifySeverity applies the default rule table. Callers must check
// HasConflict first: with zero differing fields there is no conflict and no
// meaningful severity (LOW is returned as a harmless floor).
func ClassifySeverity(diffs []FieldDiff) Severity {
	c := DefaultClassifier()
	return c.ClassifySeverity(diffs)
}

// ClassifySeverity is deterministic: for each differing field, identity/status
// fields dominate (CRITICAL), then financial fields (HIGH), then anything
// outside the free-text set (MEDIUM); diffs confined to free-text fields
// are LOW. The overall severity is the maximum over differing fields.
func (c Classifier) ClassifySeverity(diffs []FieldDiff) Severity {
	severity := SeverityLow
	for _, d := range diffs {
		if !d.Differs {
			continue
		}
		severity = MaxSeverity(severity, c.classifyField(d.Field))
	}
	return severity
}

func (c Classifier) classifyField(field string) Severity {
	name := strings.ToLower(strings.TrimSpace(field))
	for _, f := range c.IdentityFields {
		if name == f {
			return SeverityCritical
		}
	}
	for _, tok := range c.FinancialTokens {
		if strings.Contains(name, tok) {
			return SeverityHigh
		}
	}
	for _, f := range c.FreeTextFields {
		if name == f {
			return SeverityLow
		}
	}
	return SeverityMedium
}

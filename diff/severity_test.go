package diff

import "testing"

func TestClassifySeverity_RuleTable(t *testing.T) {
	cases := []struct {
		name     string
		local    map[string]interface{}
		server   map[string]interface{}
		expected Severity
	}{
		{
			name:     "price diff is financial",
			local:    map[string]interface{}{"price": 100.0},
			server:   map[string]interface{}{"price": 150.0},
			expected: SeverityHigh,
		},
		{
			name:     "notes-only diff is low",
			local:    map[string]interface{}{"notes": "a", "total": 500.0},
			server:   map[string]interface{}{"notes": "b", "total": 500.0},
			expected: SeverityLow,
		},
		{
			name:     "status diff is critical",
			local:    map[string]interface{}{"status": "paid"},
			server:   map[string]interface{}{"status": "pending"},
			expected: SeverityCritical,
		},
		{
			name:     "customer reassignment is critical",
			local:    map[string]interface{}{"customer_id": "c-1"},
			server:   map[string]interface{}{"customer_id": "c-2"},
			expected: SeverityCritical,
		},
		{
			name:     "unclassified field is medium",
			local:    map[string]interface{}{"warehouse": "main"},
			server:   map[string]interface{}{"warehouse": "north"},
			expected: SeverityMedium,
		},
		{
			name:     "critical dominates financial",
			local:    map[string]interface{}{"status": "paid", "total": 100.0},
			server:   map[string]interface{}{"status": "void", "total": 90.0},
			expected: SeverityCritical,
		},
		{
			name:     "grand_total matches financial token",
			local:    map[string]interface{}{"grand_total": 1000.0},
			server:   map[string]interface{}{"grand_total": 1100.0},
			expected: SeverityHigh,
		},
	}
	for _, tc := range cases {
		diffs := Fields(tc.local, tc.server)
		if !HasConflict(diffs) {
			t.Fatalf("%s: expected a conflict", tc.name)
		}
		if got := ClassifySeverity(diffs); got != tc.expected {
			t.Fatalf("%s: severity %s, expected %s", tc.name, got, tc.expected)
		}
	}
}

func TestClassifySeverity_PriceNeverLow(t *testing.T) {
	diffs := Fields(
		map[string]interface{}{"price": 100.0},
		map[string]interface{}{"price": 150.0},
	)
	got := ClassifySeverity(diffs)
	if got != SeverityHigh && got != SeverityCritical {
		t.Fatalf("financial diff classified %s; must be at least HIGH", got)
	}
}

func TestMaxSeverity(t *testing.T) {
	if MaxSeverity(SeverityLow, SeverityCritical) != SeverityCritical {
		t.Fatalf("critical must outrank low")
	}
	if MaxSeverity(SeverityHigh, SeverityMedium) != SeverityHigh {
		t.Fatalf("high must outrank medium")
	}
}

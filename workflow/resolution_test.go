package workflow

import (
	"errors"
	"sync"
	"testing"

	"bitbucket.org/mmdatafocus/books_sync/diff"
	"bitbucket.org/mmdatafocus/books_sync/models"
	"bitbucket.org/mmdatafocus/books_sync/utils"
)

// NOTE: These tests are intentionally DB-free. They validate the resolution
// semantics: action application is pure, manual merges cannot touch unknown
// fields, the auto-resolve severity gate is hard, and resolution is
// at-most-once under concurrency.
//
// Full DB integration tests live in models (docker-gated).

func sampleDiffs() []diff.FieldDiff {
	return diff.Fields(
		map[string]interface{}{"total": 1000.0, "notes": "local note", "status": "paid"},
		map[string]interface{}{"total": 1200.0, "notes": "server note", "status": "paid"},
	)
}

func TestApplyResolution_UseServer(t *testing.T) {
	local := map[string]interface{}{"total": 1000.0}
	server := map[string]interface{}{"total": 1200.0}
	resolved, err := ApplyResolution(local, server, sampleDiffs(), models.ResolutionUseServer, nil)
	if err != nil {
		t.Fatalf("ApplyResolution: %v", err)
	}
	if resolved["total"] != 1200.0 {
		t.Fatalf("USE_SERVER must return the server version verbatim, got %v", resolved)
	}
}

func TestApplyResolution_UseLocal(t *testing.T) {
	local := map[string]interface{}{"total": 1000.0}
	server := map[string]interface{}{"total": 1200.0}
	resolved, err := ApplyResolution(local, server, sampleDiffs(), models.ResolutionUseLocal, nil)
	if err != nil {
		t.Fatalf("ApplyResolution: %v", err)
	}
	if resolved["total"] != 1000.0 {
		t.Fatalf("USE_LOCAL must return the local version verbatim, got %v", resolved)
	}
}

func TestApplyResolution_ManualMerge(t *testing.T) {
	local := map[string]interface{}{"total": 1000.0, "notes": "local note", "status": "paid"}
	server := map[string]interface{}{"total": 1200.0, "notes": "server note", "status": "paid"}
	diffs := diff.Fields(local, server)

	resolved, err := ApplyResolution(local, server, diffs, models.ResolutionManualMerge, map[string]interface{}{
		"notes": "local note",
	})
	if err != nil {
		t.Fatalf("ApplyResolution: %v", err)
	}
	// Overridden field takes the payload value; everything else keeps server.
	if resolved["notes"] != "local note" {
		t.Fatalf("merge override lost: %v", resolved)
	}
	if resolved["total"] != 1200.0 {
		t.Fatalf("non-overridden field must keep the server value: %v", resolved)
	}
	if resolved["status"] != "paid" {
		t.Fatalf("untouched field must survive the merge: %v", resolved)
	}
}

func TestApplyResolution_ManualMergeRejectsUnknownFields(t *testing.T) {
	local := map[string]interface{}{"notes": "a"}
	server := map[string]interface{}{"notes": "b"}
	diffs := diff.Fields(local, server)

	_, err := ApplyResolution(local, server, diffs, models.ResolutionManualMerge, map[string]interface{}{
		"unknownField": "x",
	})
	if err == nil {
		t.Fatalf("expected ValidationError for unknown merge field")
	}
	if !utils.IsValidation(err) {
		t.Fatalf("expected ValidationError, got %T: %v", err, err)
	}
	var ve *utils.ValidationError
	if !errors.As(err, &ve) || len(ve.Fields) != 1 || ve.Fields[0] != "unknownField" {
		t.Fatalf("validation error must name the offending field: %v", err)
	}
}

func TestApplyResolution_InvalidAction(t *testing.T) {
	_, err := ApplyResolution(nil, nil, nil, models.ResolutionAction("DELETE_BOTH"), nil)
	if err == nil || !utils.IsValidation(err) {
		t.Fatalf("expected ValidationError for invalid action, got %v", err)
	}
}

func TestEligibleForAutoResolve_SeverityGate(t *testing.T) {
	cases := []struct {
		severity diff.Severity
		eligible bool
	}{
		{diff.SeverityLow, true},
		{diff.SeverityMedium, true},
		{diff.SeverityHigh, false},
		{diff.SeverityCritical, false},
	}
	for _, tc := range cases {
		if got := eligibleForAutoResolve(tc.severity); got != tc.eligible {
			t.Fatalf("eligibleForAutoResolve(%s) = %v, expected %v", tc.severity, got, tc.eligible)
		}
	}
}

// fakeRegistry models the registry's guarded PENDING -> RESOLVED transition
// (models.MarkConflictResolved): a compare-and-set on (status, lock_version).
type fakeRegistry struct {
	mu          sync.Mutex
	status      models.ConflictStatus
	lockVersion int
}

func (r *fakeRegistry) tryResolve(expectedVersion int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != models.ConflictStatusPending || r.lockVersion != expectedVersion {
		return false
	}
	r.status = models.ConflictStatusResolved
	r.lockVersion++
	return true
}

func TestResolution_AtMostOnceUnderConcurrency(t *testing.T) {
	reg := &fakeRegistry{status: models.ConflictStatusPending}

	const attempts = 32
	var wins int
	var winsMu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if reg.tryResolve(0) {
				winsMu.Lock()
				wins++
				winsMu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("exactly one resolution must win, got %d", wins)
	}
	if reg.status != models.ConflictStatusResolved {
		t.Fatalf("record must end RESOLVED")
	}
}

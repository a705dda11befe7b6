package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/books_sync/config"
	"bitbucket.org/mmdatafocus/books_sync/diff"
	"bitbucket.org/mmdatafocus/books_sync/models"
	"bitbucket.org/mmdatafocus/books_sync/utils"
	"bitbucket.org/mmdatafocus/books_sync/workflow"
)

// Full registry lifecycle against real MySQL/Redis: idempotent re-detection,
// the unique pending index, terminal resolution, tenant isolation and the
// auto-resolve severity gate.
func TestConflictRegistry_Lifecycle(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "books_sync_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetUsernameInContext(ctx, "test@local")

	bizA, err := models.CreateBusiness(ctx, &models.NewBusiness{Name: "Sync Co A", Email: "a@sync.test"})
	if err != nil {
		t.Fatalf("CreateBusiness A: %v", err)
	}
	bizB, err := models.CreateBusiness(ctx, &models.NewBusiness{Name: "Sync Co B", Email: "b@sync.test"})
	if err != nil {
		t.Fatalf("CreateBusiness B: %v", err)
	}
	ctxA := utils.SetBusinessIdInContext(ctx, bizA.ID.String())
	ctxB := utils.SetBusinessIdInContext(ctx, bizB.ID.String())

	db := config.GetDB()

	local := map[string]interface{}{"invoice_number": "INV-001", "total": 1000.0, "notes": "edited offline"}
	server := map[string]interface{}{"invoice_number": "INV-001", "total": 1200.0, "notes": "edited offline"}

	// Idempotent re-detection: same key, same pair, same record.
	first, err := models.OpenConflict(ctxA, models.EntityTypeInvoice, "INV-001", local, server)
	if err != nil {
		t.Fatalf("OpenConflict: %v", err)
	}
	if first == nil {
		t.Fatalf("diverged pair must open a conflict")
	}
	if first.Status != models.ConflictStatusPending {
		t.Fatalf("new conflict must be PENDING, got %s", first.Status)
	}
	if first.Severity != diff.SeverityHigh {
		t.Fatalf("total diff must classify HIGH, got %s", first.Severity)
	}

	second, err := models.OpenConflict(ctxA, models.EntityTypeInvoice, "INV-001", local, server)
	if err != nil {
		t.Fatalf("OpenConflict (refresh): %v", err)
	}
	if second == nil || second.ID != first.ID {
		t.Fatalf("re-detection must refresh in place, got %+v vs %+v", second, first)
	}

	var pendingCount int64
	if err := db.WithContext(ctxA).Model(&models.ConflictRecord{}).
		Where("business_id = ? AND entity_type = ? AND entity_id = ? AND status = ?",
			bizA.ID.String(), models.EntityTypeInvoice, "INV-001", models.ConflictStatusPending).
		Count(&pendingCount).Error; err != nil {
		t.Fatalf("count pending: %v", err)
	}
	if pendingCount != 1 {
		t.Fatalf("at most one PENDING record per key, got %d", pendingCount)
	}

	// Convergent pair: no record, no error.
	same := map[string]interface{}{"total": 500.0}
	if record, err := models.OpenConflict(ctxA, models.EntityTypeProduct, "PRD-007", same, same); err != nil || record != nil {
		t.Fatalf("convergent pair must return (nil, nil), got (%v, %v)", record, err)
	}

	// Resolution is terminal and exclusive.
	resolved, err := workflow.ResolveConflict(ctxA, first, models.ResolutionUseLocal, nil, nil)
	if err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if resolved["total"] != 1000.0 {
		t.Fatalf("USE_LOCAL must keep the local total, got %v", resolved)
	}

	reloaded, err := models.GetConflict(ctxA, first.ID)
	if err != nil {
		t.Fatalf("GetConflict after resolve: %v", err)
	}
	if reloaded.Status != models.ConflictStatusResolved || reloaded.ResolvedAt == nil {
		t.Fatalf("record must be RESOLVED with resolved_at set: %+v", reloaded)
	}
	if reloaded.Resolution == nil || *reloaded.Resolution != models.ResolutionUseLocal {
		t.Fatalf("resolution action not recorded: %+v", reloaded.Resolution)
	}

	if _, err := workflow.ResolveConflict(ctxA, reloaded, models.ResolutionUseServer, nil, nil); !utils.IsInvalidState(err) {
		t.Fatalf("second resolve must fail with InvalidStateError, got %v", err)
	}

	// A resolved key is free again: re-detection opens a fresh record.
	reopened, err := models.OpenConflict(ctxA, models.EntityTypeInvoice, "INV-001", local, server)
	if err != nil {
		t.Fatalf("OpenConflict after resolve: %v", err)
	}
	if reopened == nil || reopened.ID == first.ID {
		t.Fatalf("post-resolution divergence must open a new record, got %+v", reopened)
	}

	// A creator that commits between another session's pending lookup and
	// insert: the unique pending index rejects the duplicate and the open
	// retries as a refresh of the committed record.
	pendingMarker := "P"
	racer := models.ConflictRecord{
		BusinessId:     bizA.ID.String(),
		EntityType:     models.EntityTypeInvoice,
		EntityId:       "RACE-1",
		PendingKey:     &pendingMarker,
		LocalJSON:      []byte(`{"total": 1}`),
		ServerJSON:     []byte(`{"total": 2}`),
		FieldDiffsJSON: []byte(`[]`),
		Severity:       diff.SeverityHigh,
		Status:         models.ConflictStatusPending,
		CorrelationId:  "race",
	}
	racerTx := db.WithContext(ctxA).Begin()
	if err := racerTx.Create(&racer).Error; err != nil {
		t.Fatalf("seed racing record: %v", err)
	}
	type openOutcome struct {
		record *models.ConflictRecord
		err    error
	}
	outcome := make(chan openOutcome, 1)
	go func() {
		record, err := models.OpenConflict(ctxA, models.EntityTypeInvoice, "RACE-1",
			map[string]interface{}{"total": 1.0},
			map[string]interface{}{"total": 2.0})
		outcome <- openOutcome{record, err}
	}()
	time.Sleep(500 * time.Millisecond)
	if err := racerTx.Commit().Error; err != nil {
		t.Fatalf("commit racing record: %v", err)
	}
	raced := <-outcome
	if raced.err != nil {
		t.Fatalf("OpenConflict against a racing creator: %v", raced.err)
	}
	if raced.record == nil || raced.record.ID != racer.ID {
		t.Fatalf("racing open must settle on the committed record %d, got %+v", racer.ID, raced.record)
	}
	var racePending int64
	if err := db.WithContext(ctxA).Model(&models.ConflictRecord{}).
		Where("business_id = ? AND entity_id = ? AND status = ?",
			bizA.ID.String(), "RACE-1", models.ConflictStatusPending).
		Count(&racePending).Error; err != nil {
		t.Fatalf("count racing pending: %v", err)
	}
	if racePending != 1 {
		t.Fatalf("exactly one PENDING record must survive the race, got %d", racePending)
	}

	// Tenant isolation: same entity id under business B stays invisible to A.
	foreign, err := models.OpenConflict(ctxB, models.EntityTypeInvoice, "INV-001", local, server)
	if err != nil {
		t.Fatalf("OpenConflict (business B): %v", err)
	}
	listA, err := models.ListConflicts(ctxA, models.ConflictFilters{})
	if err != nil {
		t.Fatalf("ListConflicts: %v", err)
	}
	for _, record := range listA {
		if record.BusinessId != bizA.ID.String() {
			t.Fatalf("cross-tenant record leaked into list: %+v", record)
		}
	}
	if _, err := models.GetConflict(ctxA, foreign.ID); !utils.IsNotFound(err) {
		t.Fatalf("cross-tenant get must be NotFoundError, got %v", err)
	}

	// Auto-resolve: 3 LOW + 2 MEDIUM eligible, 1 HIGH + 1 CRITICAL untouchable.
	seed := []struct {
		entityId string
		field    string
		severity diff.Severity
	}{
		{"AR-1", "notes", diff.SeverityLow},
		{"AR-2", "notes", diff.SeverityLow},
		{"AR-3", "notes", diff.SeverityLow},
		{"AR-4", "warehouse", diff.SeverityMedium},
		{"AR-5", "warehouse", diff.SeverityMedium},
		{"AR-6", "total", diff.SeverityHigh},
		{"AR-7", "status", diff.SeverityCritical},
	}
	for _, s := range seed {
		record, err := models.OpenConflict(ctxA, models.EntityTypeStock,
			s.entityId,
			map[string]interface{}{s.field: "local"},
			map[string]interface{}{s.field: "server"})
		if err != nil {
			t.Fatalf("OpenConflict(%s): %v", s.entityId, err)
		}
		if record.Severity != s.severity {
			t.Fatalf("%s: expected severity %s, got %s", s.entityId, s.severity, record.Severity)
		}
	}

	resolvedCount, err := workflow.AutoResolve(ctxA, bizA.ID.String())
	if err != nil {
		t.Fatalf("AutoResolve: %v", err)
	}
	if resolvedCount != 5 {
		t.Fatalf("auto-resolve must settle exactly the 5 LOW/MEDIUM conflicts, got %d", resolvedCount)
	}

	stockType := models.EntityTypeStock
	pending := models.ConflictStatusPending
	remaining, err := models.ListConflicts(ctxA, models.ConflictFilters{Status: &pending, EntityType: &stockType})
	if err != nil {
		t.Fatalf("ListConflicts (remaining): %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("HIGH and CRITICAL must stay PENDING, have %d left", len(remaining))
	}
	for _, record := range remaining {
		if record.Severity != diff.SeverityHigh && record.Severity != diff.SeverityCritical {
			t.Fatalf("auto-resolve touched a %s conflict: %+v", record.Severity, record)
		}
	}

	autoResolved := models.ConflictStatusResolved
	settled, err := models.ListConflicts(ctxA, models.ConflictFilters{Status: &autoResolved, EntityType: &stockType})
	if err != nil {
		t.Fatalf("ListConflicts (settled): %v", err)
	}
	for _, record := range settled {
		if record.Resolution == nil || *record.Resolution != models.ResolutionAuto {
			t.Fatalf("auto-settled record must carry the AUTO action: %+v", record)
		}
		server, err := record.ServerVersion()
		if err != nil {
			t.Fatalf("ServerVersion: %v", err)
		}
		resolved, err := record.ResolvedRecord()
		if err != nil {
			t.Fatalf("ResolvedRecord: %v", err)
		}
		for k, v := range server {
			if resolved[k] != v {
				t.Fatalf("auto-resolve policy is server-wins; %s diverged: %v vs %v", k, resolved[k], v)
			}
		}
	}

	// Every resolution leaves an event for the dispatcher.
	var eventCount int64
	if err := db.WithContext(ctxA).Model(&models.ResolutionEvent{}).
		Where("business_id = ?", bizA.ID.String()).
		Count(&eventCount).Error; err != nil {
		t.Fatalf("count resolution events: %v", err)
	}
	if eventCount < 6 {
		t.Fatalf("expected an outbox event per resolution (>=6), got %d", eventCount)
	}

	// Summary counts are derived on the fly.
	summary, err := models.CountConflictSummary(ctxA)
	if err != nil {
		t.Fatalf("CountConflictSummary: %v", err)
	}
	if summary.Pending < 2 {
		t.Fatalf("summary must count the unresolved HIGH/CRITICAL conflicts, got %+v", summary)
	}
	if summary.ResolvedToday < 6 {
		t.Fatalf("summary must count today's resolutions, got %+v", summary)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("sync-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("sync-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=books_sync_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}

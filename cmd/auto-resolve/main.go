// auto-resolve runs the scheduled bulk resolution sweep: every active
// business gets its PENDING low/medium conflicts resolved server-wins on a
// cron schedule. HIGH and CRITICAL conflicts are never touched here.
//
// Usage:
//
//	DB_USER=... DB_HOST=... REDIS_ADDRESS=... go run ./cmd/auto-resolve
//	AUTO_RESOLVE_CRON="*/15 * * * *" go run ./cmd/auto-resolve        # custom schedule
//	AUTO_RESOLVE_ONCE=true go run ./cmd/auto-resolve                  # single sweep, then exit
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"bitbucket.org/mmdatafocus/books_sync/config"
	"bitbucket.org/mmdatafocus/books_sync/models"
	"bitbucket.org/mmdatafocus/books_sync/utils"
	"bitbucket.org/mmdatafocus/books_sync/workflow"
)

const defaultSchedule = "*/15 * * * *"

func main() {
	logger := config.GetLogger()

	if !config.AutoResolveEnabled() {
		fmt.Fprintln(os.Stderr, "CONFLICT_AUTO_RESOLVE_ENABLED is not set; refusing to run")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	if strings.EqualFold(strings.TrimSpace(os.Getenv("AUTO_RESOLVE_ONCE")), "true") {
		sweep(logger)
		return
	}

	schedule := strings.TrimSpace(os.Getenv("AUTO_RESOLVE_CRON"))
	if schedule == "" {
		schedule = defaultSchedule
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { sweep(logger) }); err != nil {
		fmt.Fprintf(os.Stderr, "invalid AUTO_RESOLVE_CRON %q: %v\n", schedule, err)
		os.Exit(1)
	}
	c.Start()
	logger.WithFields(logrus.Fields{
		"module":   "auto-resolve",
		"schedule": schedule,
	}).Info("auto-resolve scheduler started")

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	<-sigCtx.Done()

	// Let an in-flight sweep finish before exiting.
	<-c.Stop().Done()
}

// sweep walks every active business and auto-resolves its eligible conflicts.
// One failing business does not stop the sweep.
func sweep(logger *logrus.Logger) {
	ctx := context.Background()
	businessIds, err := models.ListActiveBusinessIds(ctx)
	if err != nil {
		config.LogError(logger, "auto-resolve", "sweep", "listing active businesses", nil, err)
		return
	}

	total := 0
	for _, businessId := range businessIds {
		bizCtx := utils.SetBusinessIdInContext(ctx, businessId)
		bizCtx = utils.SetUserNameInContext(bizCtx, "AutoResolve")
		count, err := workflow.AutoResolve(bizCtx, businessId)
		if err != nil {
			config.LogError(logger, "auto-resolve", "sweep", "auto-resolving business", businessId, err)
			continue
		}
		total += count
	}
	logger.WithFields(logrus.Fields{
		"module":     "auto-resolve",
		"businesses": len(businessIds),
		"resolved":   total,
	}).Info("auto-resolve sweep finished")
}

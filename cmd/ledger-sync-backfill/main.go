package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/crm_backend/config"
	"bitbucket.org/mmdatafocus/crm_backend/models"
	"bitbucket.org/mmdatafocus/crm_backend/utils"
	"bitbucket.org/mmdatafocus/crm_backend/workpointsync"
)

// Backfills the sales ledger from WorkPoint over a date range, one
// month-sized window at a time. A failed window is reported and the loop
// moves on; re-running the same range later is safe because each window
// sync is idempotent.
func main() {
	organizationID := flag.String("organization-id", "", "Organization to backfill (required).")
	from := flag.String("from", "", "Start date (YYYY-MM-DD, required).")
	to := flag.String("to", "", "End date (YYYY-MM-DD). Defaults to today.")
	dryRun := flag.Bool("dry-run", false, "Compute the plan per window without writing.")
	deleteOrphaned := flag.Bool("delete-orphaned", false, "Delete uninvoiced ledger rows whose source record disappeared.")
	delay := flag.Duration("delay", 2*time.Second, "Pause between windows to spread load.")
	flag.Parse()

	if strings.TrimSpace(*organizationID) == "" {
		fmt.Fprintln(os.Stderr, "-organization-id is required")
		os.Exit(2)
	}
	start, err := utils.ParseDateOnly(*from)
	if err != nil {
		fmt.Fprintf(os.Stderr, "-from: %v\n", err)
		os.Exit(2)
	}
	end := time.Now().UTC().Truncate(24 * time.Hour)
	if strings.TrimSpace(*to) != "" {
		end, err = utils.ParseDateOnly(*to)
		if err != nil {
			fmt.Fprintf(os.Stderr, "-to: %v\n", err)
			os.Exit(2)
		}
	}
	if end.Before(start) {
		fmt.Fprintln(os.Stderr, "end date is before start date")
		os.Exit(2)
	}

	ctx := context.Background()
	// Explicit DB connect (config does not connect in init()).
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()

	orgID := strings.TrimSpace(*organizationID)
	var conn models.WorkPointConnection
	if err := db.WithContext(ctx).
		Where("organization_id = ? AND status = ?", orgID, models.IntegrationStatusConnected).
		Take(&conn).Error; err != nil {
		fmt.Fprintf(os.Stderr, "no connected workpoint integration for organization %s: %v\n", orgID, err)
		os.Exit(1)
	}

	client, err := workpointsync.NewClient(conn.AuthSecretRef)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workpoint client: %v\n", err)
		os.Exit(1)
	}
	engine := workpointsync.NewEngine(client, workpointsync.NewGormSalesStore(db), config.GetLogger())
	opts := workpointsync.SyncOptions{DryRun: *dryRun, DeleteOrphaned: *deleteOrphaned}

	failed := 0
	for winStart := start; !winStart.After(end); {
		winEnd := winStart.AddDate(0, 1, 0).AddDate(0, 0, -1)
		if winEnd.After(end) {
			winEnd = end
		}

		result := engine.Synchronize(ctx, orgID, winStart, winEnd, opts)
		if !result.Success {
			failed++
			fmt.Fprintf(os.Stderr, "window %s..%s failed: %s\n",
				utils.FormatDateOnly(winStart), utils.FormatDateOnly(winEnd), result.Error)
		} else {
			ch := result.Changes
			fmt.Printf("window %s..%s: created=%d updated=%d deleted=%d orphaned=%d errors=%d (%dms)\n",
				utils.FormatDateOnly(winStart), utils.FormatDateOnly(winEnd),
				len(ch.Created), len(ch.Updated), len(ch.Deleted), len(ch.Orphaned), len(ch.Errors),
				result.Duration)
		}

		winStart = winStart.AddDate(0, 1, 0)
		if !winStart.After(end) && *delay > 0 {
			time.Sleep(*delay)
		}
	}

	client.ReleaseSession(ctx)

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d window(s) failed; re-run the same range after fixing the cause\n", failed)
		os.Exit(1)
	}
}

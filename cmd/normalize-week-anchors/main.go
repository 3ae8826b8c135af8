// normalize-week-anchors rewrites legacy Sunday week anchors on stored reports to the
// canonical Monday and recomputes the report date range columns.
//
// Usage (from backend directory):
//
//	go run ./cmd/normalize-week-anchors                      # dry run, lists rows
//	go run ./cmd/normalize-week-anchors -dry-run=false -confirm=NORMALIZE
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/models"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
)

func main() {
	dryRun := flag.Bool("dry-run", true, "List affected reports only (no writes)")
	confirm := flag.String("confirm", "", "Type NORMALIZE to proceed when dry-run=false")
	flag.Parse()

	if !*dryRun && strings.TrimSpace(*confirm) != "NORMALIZE" {
		fmt.Fprintln(os.Stderr, "set --confirm=NORMALIZE to proceed")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	changed, err := models.NewReportStore(db).NormalizeWeekAnchors(context.Background(), config.AppLocation(), *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "normalize failed: %v\n", err)
		os.Exit(1)
	}
	for _, r := range changed {
		week := ""
		if r.Week != nil {
			week = utils.IsoDate(*r.Week)
		}
		fmt.Printf("id=%s user_id=%s report_name=%s week=%s completed=%v\n", r.ID, r.UserId, r.ReportName, week, r.Completed)
	}
	if *dryRun {
		fmt.Printf("%d report(s) would be normalized\n", len(changed))
		return
	}
	fmt.Printf("%d report(s) normalized\n", len(changed))
}

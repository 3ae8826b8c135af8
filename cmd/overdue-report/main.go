// overdue-report prints the weekly reports that are overdue as of a date.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/overdue-report -date 2025-01-15 -types plant_manager,plant_production
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/models"
	"bitbucket.org/mmdatafocus/fleet_backend/models/reports"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
)

func main() {
	date := flag.String("date", "", "Reference date YYYY-MM-DD (default: today)")
	types := flag.String("types", "", "Comma separated report names to include (default: all)")
	asJSON := flag.Bool("json", false, "Print JSON instead of a table")
	flag.Parse()

	loc := config.AppLocation()
	today := time.Now().In(loc)
	if strings.TrimSpace(*date) != "" {
		t, ok := utils.ParseDateInput(*date, loc)
		if !ok {
			fmt.Fprintf(os.Stderr, "invalid --date %q (want YYYY-MM-DD)\n", *date)
			os.Exit(1)
		}
		today = t
	}

	registry := models.DefaultRegistry()
	var allow []string
	if strings.TrimSpace(*types) != "" {
		allow = utils.SplitAndTrim(*types)
		for _, name := range allow {
			if _, ok := registry.ByName(name); !ok {
				fmt.Fprintf(os.Stderr, "unknown report type %q (known: %s)\n", name, strings.Join(registry.Names(), ", "))
				os.Exit(1)
			}
		}
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	resolver := reports.NewResolver(registry, models.NewPermissionStore(db), models.NewReportStore(db))
	resolver.Location = loc
	entries, err := resolver.Resolve(context.Background(), today, allow)
	if err != nil {
		fmt.Fprintf(os.Stderr, "overdue report failed: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			fmt.Fprintf(os.Stderr, "encode: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("Overdue reports as of %s: %d\n", utils.FormatVerbose(today), len(entries))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WEEK\tUSER\tREPORT")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", e.WeekLabel, e.UserName, e.ReportTitle)
	}
	_ = w.Flush()
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func envTrue(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "y" || v == "on"
}

// ReportCacheEnabled turns on the shared snapshot cache for overdue results and plant lists.
//
// Set via env:
// - ENABLE_REPORT_CACHE=true
func ReportCacheEnabled() bool {
	return envTrue("ENABLE_REPORT_CACHE")
}

// ReportCacheTTL is REPORT_CACHE_TTL_SECONDS (default 120s).
func ReportCacheTTL() time.Duration {
	return time.Duration(intFromEnv("REPORT_CACHE_TTL_SECONDS", 120)) * time.Second
}

// ReportSlowThreshold is REPORT_SLOW_MS (default 500ms).
func ReportSlowThreshold() time.Duration {
	return time.Duration(intFromEnv("REPORT_SLOW_MS", 500)) * time.Millisecond
}

// OverdueWorkers bounds the per-user permission lookups run in parallel (OVERDUE_WORKERS, default 8).
func OverdueWorkers() int {
	n := intFromEnv("OVERDUE_WORKERS", 8)
	if n <= 0 {
		return 1
	}
	return n
}

// AppLocation is the timezone week boundaries are computed in (APP_TIMEZONE, default server local).
func AppLocation() *time.Location {
	name := strings.TrimSpace(os.Getenv("APP_TIMEZONE"))
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.Local
	}
	return loc
}

func IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production")
}

// PortFromEnv prefers API_PORT, then the Cloud Run PORT, then def.
func PortFromEnv(def string) string {
	for _, key := range []string{"API_PORT", "PORT"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if _, err := strconv.Atoi(v); err == nil {
				return v
			}
		}
	}
	return def
}

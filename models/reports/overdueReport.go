package reports

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/models"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("fleet_backend/reports")

const (
	overdueLookbackWeeks = 3
	overdueMaxWeeks      = 2
)

type OverdueEntry struct {
	UserId      string `json:"user_id"`
	UserName    string `json:"user_name"`
	ReportName  string `json:"report_name"`
	ReportTitle string `json:"report_title"`
	WeekAnchor  string `json:"week_anchor"`
	WeekLabel   string `json:"week_label"`
}

type OverdueResolver interface {
	Resolve(ctx context.Context, today time.Time, allow []string) ([]OverdueEntry, error)
}

type Resolver struct {
	Registry    *models.ReportTypeRegistry
	Permissions models.PermissionLookup
	Reports     models.CompletedReportReader
	Location    *time.Location
	Workers     int
	Logger      *logrus.Logger
}

func NewResolver(registry *models.ReportTypeRegistry, permissions models.PermissionLookup, reports models.CompletedReportReader) *Resolver {
	return &Resolver{
		Registry:    registry,
		Permissions: permissions,
		Reports:     reports,
		Location:    config.AppLocation(),
		Workers:     config.OverdueWorkers(),
		Logger:      config.GetLogger(),
	}
}

func (r *Resolver) location() *time.Location {
	if r.Location == nil {
		return time.Local
	}
	return r.Location
}

// CandidateWeeks picks up to two of the last three weeks whose Saturday is before today,
// most recent first.
func CandidateWeeks(today time.Time) []utils.WeekRange {
	var weeks []utils.WeekRange
	for _, iso := range utils.LastNWeekIsos(overdueLookbackWeeks, today) {
		w, ok := utils.WeekRangeFromMondayIso(iso, today.Location())
		if !ok || !utils.WeekHasEnded(w, today) {
			continue
		}
		weeks = append(weeks, w)
		if len(weeks) == overdueMaxWeeks {
			break
		}
	}
	return weeks
}

func satisfiedKey(userId, reportName, week string) string {
	return userId + "|" + reportName + "|" + week
}

// assignments looks up every user's assigned report types in parallel. A failed lookup
// is logged and leaves that user with no assignments.
func (r *Resolver) assignments(ctx context.Context, profiles []models.UserProfile, allow []string) [][]string {
	assigned := make([][]string, len(profiles))
	g, gctx := errgroup.WithContext(ctx)
	workers := r.Workers
	if workers <= 0 {
		workers = 1
	}
	g.SetLimit(workers)
	for i, p := range profiles {
		i, p := i, p
		g.Go(func() error {
			perms, err := r.Permissions.GetUserPermissions(gctx, p.ID)
			if err != nil {
				logger := r.Logger
				if logger == nil {
					logger = config.GetLogger()
				}
				config.LogError(logger, "overdueReport.go", "assignments", "GetUserPermissions", p.ID, err)
				return nil
			}
			assigned[i] = r.Registry.AssignedTo(perms, allow)
			return nil
		})
	}
	_ = g.Wait()
	return assigned
}

// Resolve lists the (user, report type, week) assignments with no completed report,
// ordered by week (most recent first), user name, then report name.
func (r *Resolver) Resolve(ctx context.Context, today time.Time, allow []string) ([]OverdueEntry, error) {
	ctx, span := tracer.Start(ctx, "overdue.resolve")
	defer span.End()
	started := time.Now()

	loc := r.location()
	today = today.In(loc)
	weeks := CandidateWeeks(today)
	entries := []OverdueEntry{}
	if len(weeks) == 0 {
		return entries, nil
	}

	profiles, err := r.Permissions.GetAllUserProfiles(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list profiles")
		return nil, fmt.Errorf("overdue: list profiles: %w", err)
	}
	sort.SliceStable(profiles, func(i, j int) bool {
		ni, nj := strings.ToLower(profiles[i].DisplayName()), strings.ToLower(profiles[j].DisplayName())
		if ni != nj {
			return ni < nj
		}
		return profiles[i].ID < profiles[j].ID
	})

	assigned := r.assignments(ctx, profiles, allow)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var names []string
	for _, list := range assigned {
		names = append(names, list...)
	}
	names = utils.UniqueSlice(names)
	sort.Strings(names)
	if len(names) == 0 {
		return entries, nil
	}

	oldest := weeks[len(weeks)-1].Start
	completed, err := r.Reports.ListCompletedReports(ctx, names, oldest)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list completed reports")
		return nil, fmt.Errorf("overdue: %w", err)
	}
	satisfied := make(map[string]bool, len(completed))
	for _, report := range completed {
		if !report.Completed {
			continue
		}
		if anchor, ok := report.WeekAnchor(loc); ok {
			satisfied[satisfiedKey(report.UserId, report.ReportName, anchor)] = true
		}
	}

	for _, w := range weeks {
		anchor := w.StartIso()
		for i, p := range profiles {
			reportNames := append([]string(nil), assigned[i]...)
			sort.Strings(reportNames)
			for _, name := range reportNames {
				if satisfied[satisfiedKey(p.ID, name, anchor)] {
					continue
				}
				title := name
				if rt, ok := r.Registry.ByName(name); ok {
					title = rt.Title
				}
				entries = append(entries, OverdueEntry{
					UserId:      p.ID,
					UserName:    p.DisplayName(),
					ReportName:  name,
					ReportTitle: title,
					WeekAnchor:  anchor,
					WeekLabel:   w.Label(),
				})
			}
		}
	}

	span.SetAttributes(
		attribute.Int("overdue.users", len(profiles)),
		attribute.Int("overdue.weeks", len(weeks)),
		attribute.Int("overdue.entries", len(entries)),
	)
	logSlowReport(ctx, "overdue", started, logrus.Fields{"users": len(profiles), "entries": len(entries)})
	return entries, nil
}

/*
cache
	Overdue:$date:$allow
*/

const OverdueCachePrefix = "Overdue:"

func overdueCacheKey(today time.Time, allow []string) string {
	scope := "*all*"
	if allow != nil {
		sorted := append([]string(nil), allow...)
		sort.Strings(sorted)
		scope = strings.Join(sorted, ",")
	}
	return OverdueCachePrefix + utils.IsoDate(today) + ":" + scope
}

// CachedResolver serves overdue snapshots from a cache for a short TTL. When a redis
// lock client is set, concurrent misses for the same key compute the snapshot once.
type CachedResolver struct {
	Inner  OverdueResolver
	Cache  Cache
	TTL    time.Duration
	Locker *redislock.Client
	Logger *logrus.Logger
}

func NewCachedResolver(inner OverdueResolver) *CachedResolver {
	return &CachedResolver{
		Inner:  inner,
		Cache:  DefaultCache(),
		TTL:    config.ReportCacheTTL(),
		Locker: config.GetRedisLock(),
		Logger: config.GetLogger(),
	}
}

func (c *CachedResolver) logger() *logrus.Logger {
	if c.Logger == nil {
		return config.GetLogger()
	}
	return c.Logger
}

func (c *CachedResolver) lookup(ctx context.Context, key string) ([]OverdueEntry, bool) {
	var entries []OverdueEntry
	ok, err := c.Cache.Get(ctx, key, &entries)
	if err != nil {
		config.LogError(c.logger(), "overdueReport.go", "CachedResolver.lookup", "cache get", key, err)
		return nil, false
	}
	return entries, ok
}

func (c *CachedResolver) Resolve(ctx context.Context, today time.Time, allow []string) ([]OverdueEntry, error) {
	key := overdueCacheKey(today, allow)
	if entries, ok := c.lookup(ctx, key); ok {
		return entries, nil
	}

	if c.Locker != nil {
		lock, err := c.Locker.Obtain(ctx, "lock:"+key, 30*time.Second, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 50),
		})
		switch {
		case err == nil:
			defer func() {
				if releaseErr := lock.Release(context.Background()); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
					c.logger().WithFields(logrus.Fields{"field": "CachedResolver.Resolve", "key": key}).
						Warn("failed to release redis lock: " + releaseErr.Error())
				}
			}()
			// another caller may have filled the cache while we waited
			if entries, ok := c.lookup(ctx, key); ok {
				return entries, nil
			}
		case errors.Is(err, redislock.ErrNotObtained):
			c.logger().WithFields(logrus.Fields{"field": "CachedResolver.Resolve", "key": key}).
				Warn("could not obtain redis lock; computing without lock")
		default:
			c.logger().WithFields(logrus.Fields{"field": "CachedResolver.Resolve", "key": key}).
				Warn("error obtaining redis lock; computing without lock: " + err.Error())
		}
	}

	entries, err := c.Inner.Resolve(ctx, today, allow)
	if err != nil {
		return nil, err
	}
	if err := c.Cache.Set(ctx, key, entries, c.TTL); err != nil {
		config.LogError(c.logger(), "overdueReport.go", "CachedResolver.Resolve", "cache set", key, err)
	}
	return entries, nil
}

// InvalidateOverdue drops every cached overdue snapshot.
func InvalidateOverdue(ctx context.Context, cache Cache) error {
	return cache.DeletePrefix(ctx, OverdueCachePrefix)
}

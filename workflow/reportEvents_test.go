package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/models"
	"bitbucket.org/mmdatafocus/fleet_backend/models/reports"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
)

func seededCache(t *testing.T) *reports.MemoryCache {
	t.Helper()
	cache := reports.NewMemoryCache()
	ctx := context.Background()
	if err := cache.Set(ctx, reports.OverdueCachePrefix+"2025-01-15:*all*", []string{"x"}, time.Minute); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := cache.Set(ctx, "Permissions:User:u1", []string{"y"}, time.Minute); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return cache
}

func cached(t *testing.T, cache reports.Cache, key string) bool {
	t.Helper()
	var dest []string
	ok, err := cache.Get(context.Background(), key, &dest)
	if err != nil {
		t.Fatalf("get %s: %v", key, err)
	}
	return ok
}

func sampleReport() *models.SubmittedReport {
	week := time.Date(2025, 1, 6, 0, 0, 0, 0, time.UTC)
	return &models.SubmittedReport{ID: "r1", UserId: "u1", ReportName: "crew_yardage", Week: &week, Completed: true}
}

func TestNewReportEvent(t *testing.T) {
	ctx := utils.SetCorrelationIdInContext(context.Background(), "cid-1")
	now := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	evt := NewReportEvent(ctx, sampleReport(), config.ReportEventSubmitted, now)
	if evt.Week != "2025-01-06" || evt.CorrelationId != "cid-1" || evt.ReportId != "r1" || !evt.OccurredAt.Equal(now) {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestProcessReportEventInvalidatesOverdueOnly(t *testing.T) {
	cache := seededCache(t)
	evt := NewReportEvent(context.Background(), sampleReport(), config.ReportEventSubmitted, time.Now())
	if err := ProcessReportEvent(context.Background(), nil, cache, evt); err != nil {
		t.Fatalf("ProcessReportEvent: %v", err)
	}
	if cached(t, cache, reports.OverdueCachePrefix+"2025-01-15:*all*") {
		t.Fatalf("overdue snapshot should be dropped")
	}
	if !cached(t, cache, "Permissions:User:u1") {
		t.Fatalf("unrelated keys should survive")
	}
}

func TestProcessReportEventRejectsIncomplete(t *testing.T) {
	err := ProcessReportEvent(context.Background(), nil, reports.NewMemoryCache(), config.ReportEvent{ReportName: "crew_yardage"})
	if !errors.Is(err, ErrInvalidReportEvent) {
		t.Fatalf("err = %v, want ErrInvalidReportEvent", err)
	}
}

func TestNotifyPublishesWhenEnabled(t *testing.T) {
	cache := seededCache(t)
	var got []config.ReportEvent
	p := &ReportEventPublisher{
		Enabled: true,
		Cache:   cache,
		Publish: func(ctx context.Context, evt config.ReportEvent) (string, error) {
			got = append(got, evt)
			return "m1", nil
		},
	}
	p.Notify(context.Background(), sampleReport(), config.ReportEventSubmitted)
	if len(got) != 1 || got[0].Action != config.ReportEventSubmitted {
		t.Fatalf("published %+v", got)
	}
	// invalidation happens when the push subscription delivers the event
	if !cached(t, cache, reports.OverdueCachePrefix+"2025-01-15:*all*") {
		t.Fatalf("cache should be left to the subscriber")
	}
}

func TestNotifyFallsBackToLocalInvalidation(t *testing.T) {
	cases := []struct {
		name string
		p    *ReportEventPublisher
	}{
		{"disabled", &ReportEventPublisher{Enabled: false}},
		{"publish error", &ReportEventPublisher{Enabled: true, Publish: func(ctx context.Context, evt config.ReportEvent) (string, error) {
			return "", errors.New("topic not found")
		}}},
	}
	for _, tc := range cases {
		cache := seededCache(t)
		tc.p.Cache = cache
		tc.p.Notify(context.Background(), sampleReport(), config.ReportEventEdited)
		if cached(t, cache, reports.OverdueCachePrefix+"2025-01-15:*all*") {
			t.Fatalf("%s: overdue snapshot should be dropped", tc.name)
		}
	}
}

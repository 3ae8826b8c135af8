package workflow

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/models"
	"bitbucket.org/mmdatafocus/fleet_backend/models/reports"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"github.com/sirupsen/logrus"
)

var ErrInvalidReportEvent = errors.New("report event: report_name and user_id are required")

type PublishFunc func(ctx context.Context, evt config.ReportEvent) (string, error)

// ReportEventPublisher announces report state changes. Without Pub/Sub configured the
// event is applied in-process so cached snapshots still go stale on submit.
type ReportEventPublisher struct {
	Publish PublishFunc
	Enabled bool
	Cache   reports.Cache
	Logger  *logrus.Logger
}

func NewReportEventPublisher() *ReportEventPublisher {
	return &ReportEventPublisher{
		Publish: config.PublishReportEvent,
		Enabled: config.PubSubConfigured(),
		Cache:   reports.DefaultCache(),
		Logger:  config.GetLogger(),
	}
}

func NewReportEvent(ctx context.Context, report *models.SubmittedReport, action string, now time.Time) config.ReportEvent {
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	evt := config.ReportEvent{
		ReportId:      report.ID,
		ReportName:    report.ReportName,
		UserId:        report.UserId,
		Action:        action,
		OccurredAt:    now.UTC(),
		CorrelationId: cid,
	}
	if report.Week != nil {
		evt.Week = utils.IsoDate(*report.Week)
	}
	return evt
}

func (p *ReportEventPublisher) logger() *logrus.Logger {
	if p.Logger == nil {
		return config.GetLogger()
	}
	return p.Logger
}

// Notify publishes the event for report. Failures are logged; the report itself is
// already saved and the submitter must not see an error for it.
func (p *ReportEventPublisher) Notify(ctx context.Context, report *models.SubmittedReport, action string) {
	evt := NewReportEvent(ctx, report, action, time.Now())
	if !p.Enabled || p.Publish == nil {
		if err := ProcessReportEvent(ctx, p.logger(), p.Cache, evt); err != nil {
			config.LogError(p.logger(), "reportEvents.go", "Notify", "ProcessReportEvent", evt, err)
		}
		return
	}
	msgId, err := p.Publish(ctx, evt)
	if err != nil {
		config.LogError(p.logger(), "reportEvents.go", "Notify", "PublishReportEvent", evt, err)
		// fall back to local invalidation so this instance at least serves fresh data
		if err := ProcessReportEvent(ctx, p.logger(), p.Cache, evt); err != nil {
			config.LogError(p.logger(), "reportEvents.go", "Notify", "ProcessReportEvent", evt, err)
		}
		return
	}
	p.logger().WithFields(logrus.Fields{
		"field":          "Notify",
		"report_id":      evt.ReportId,
		"report_name":    evt.ReportName,
		"action":         evt.Action,
		"message_id":     msgId,
		"correlation_id": evt.CorrelationId,
	}).Debug("report event published")
}

// ProcessReportEvent applies a report event: overdue snapshots no longer reflect the
// submitted reports, so every cached snapshot is dropped.
func ProcessReportEvent(ctx context.Context, logger *logrus.Logger, cache reports.Cache, evt config.ReportEvent) error {
	if evt.ReportName == "" || evt.UserId == "" {
		return ErrInvalidReportEvent
	}
	if cache == nil {
		return nil
	}
	if err := reports.InvalidateOverdue(ctx, cache); err != nil {
		return err
	}
	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":          "ProcessReportEvent",
			"report_id":      evt.ReportId,
			"report_name":    evt.ReportName,
			"user_id":        evt.UserId,
			"week":           evt.Week,
			"action":         evt.Action,
			"correlation_id": evt.CorrelationId,
		}).Info("overdue cache invalidated")
	}
	return nil
}

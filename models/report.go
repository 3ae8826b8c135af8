package models

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SubmittedReport is one user's report of one type for one week. At most one row exists
// per (user_id, report_name, week).
type SubmittedReport struct {
	ID                   string         `gorm:"primary_key;size:36" json:"id"`
	UserId               string         `gorm:"size:36;not null;uniqueIndex:idx_report_user_name_week,priority:1" json:"user_id"`
	ReportName           string         `gorm:"size:100;not null;index;uniqueIndex:idx_report_user_name_week,priority:2" json:"report_name"`
	Week                 *time.Time     `gorm:"type:date;index;uniqueIndex:idx_report_user_name_week,priority:3" json:"week"`
	Data                 datatypes.JSON `json:"data"`
	Completed            bool           `gorm:"not null;default:false;index" json:"completed"`
	SubmittedAt          *time.Time     `json:"submitted_at"`
	ReportDateRangeStart *time.Time     `gorm:"type:date" json:"report_date_range_start"`
	ReportDateRangeEnd   *time.Time     `gorm:"type:date" json:"report_date_range_end"`
	LastEditedBy         string         `gorm:"size:36" json:"last_edited_by,omitempty"`
	LastEditedAt         *time.Time     `json:"last_edited_at,omitempty"`
	CreatedAt            time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SubmittedReport) TableName() string { return "reports" }

func (r SubmittedReport) Status() ReportStatus {
	if r.Completed {
		return ReportStatusCompleted
	}
	return ReportStatusDraft
}

func (r *SubmittedReport) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}

// DataMap decodes Data keeping numbers as json.Number. Malformed JSON reads as empty.
func (r SubmittedReport) DataMap() map[string]any {
	out := map[string]any{}
	if len(r.Data) == 0 {
		return out
	}
	dec := json.NewDecoder(bytes.NewReader(r.Data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

// WeekAnchor resolves the report's week Monday. The week column wins, then the range
// start; submitted_at is used only when neither date column is set, since reports are
// usually filed after their week has ended.
func (r SubmittedReport) WeekAnchor(loc *time.Location) (string, bool) {
	switch {
	case r.Week != nil && !r.Week.IsZero():
		return utils.IsoDate(utils.NormalizeWeekAnchor(utils.AnchorFromStored(*r.Week, loc))), true
	case r.ReportDateRangeStart != nil && !r.ReportDateRangeStart.IsZero():
		return utils.IsoDate(utils.NormalizeWeekAnchor(utils.AnchorFromStored(*r.ReportDateRangeStart, loc))), true
	case r.SubmittedAt != nil && !r.SubmittedAt.IsZero():
		return utils.IsoDate(utils.MondayOf(r.SubmittedAt.In(loc))), true
	}
	return "", false
}

func (r SubmittedReport) MatchesWeek(mondayIso string, loc *time.Location) bool {
	anchor, ok := r.WeekAnchor(loc)
	return ok && anchor == mondayIso
}

// ValidateSubmission checks data before a report may be completed.
func ValidateSubmission(rt ReportType, data map[string]any, operators []OperatorOption) error {
	if missing := rt.MissingRequired(data); len(missing) > 0 {
		return utils.NewValidationError("Missing required fields: " + strings.Join(missing, ", "))
	}
	if rt.Name == ReportNamePlantProduction {
		if msg := ValidateProductionReport(ProductionFormFromData(data), operators); msg != "" {
			return utils.NewValidationError(msg)
		}
	}
	return nil
}

const ReportNamePlantProduction = "plant_production"

type NewReportData struct {
	Data map[string]any `json:"data" binding:"required"`
}

type ReportFilter struct {
	ReportNames []string
	UserId      string
	Week        *time.Time
}

// CompletedReportReader is what the overdue computation reads submissions through.
type CompletedReportReader interface {
	ListCompletedReports(ctx context.Context, reportNames []string, since time.Time) ([]SubmittedReport, error)
}

type ReportStore struct {
	db *gorm.DB
}

func NewReportStore(db *gorm.DB) *ReportStore {
	return &ReportStore{db: db}
}

func weekColumns(monday time.Time) (week, start, end time.Time) {
	w := utils.WeekRangeOf(monday)
	return utils.DateColumn(w.Start), utils.DateColumn(w.Start), utils.DateColumn(w.End)
}

func (s *ReportStore) findByKey(ctx context.Context, tx *gorm.DB, userId, reportName string, week time.Time) (*SubmittedReport, error) {
	var report SubmittedReport
	err := tx.WithContext(ctx).
		Where("user_id = ? AND report_name = ? AND week = ?", userId, reportName, week).
		First(&report).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrorRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &report, nil
}

// upsert writes report by its natural key, updating only columns on conflict.
func (s *ReportStore) upsert(ctx context.Context, tx *gorm.DB, report *SubmittedReport, columns []string) (*SubmittedReport, error) {
	err := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "report_name"}, {Name: "week"}},
		DoUpdates: clause.AssignmentColumns(append(columns, "updated_at")),
	}).Create(report).Error
	if err != nil {
		return nil, err
	}
	return s.findByKey(ctx, tx, report.UserId, report.ReportName, *report.Week)
}

func marshalData(data map[string]any) (datatypes.JSON, error) {
	if data == nil {
		data = map[string]any{}
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode report data: %w", err)
	}
	return datatypes.JSON(b), nil
}

// SaveDraft creates or updates the owner's draft for the week. Completed reports are
// changed through manager edits only.
func (s *ReportStore) SaveDraft(ctx context.Context, userId string, rt ReportType, monday time.Time, data map[string]any) (*SubmittedReport, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	week, start, end := weekColumns(monday)

	var saved *SubmittedReport
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.findByKey(ctx, tx, userId, rt.Name, week)
		if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
			return err
		}
		if existing != nil && existing.Completed {
			return utils.NewValidationError("report has already been submitted for this week")
		}
		saved, err = s.upsert(ctx, tx, &SubmittedReport{
			UserId:               userId,
			ReportName:           rt.Name,
			Week:                 &week,
			Data:                 raw,
			ReportDateRangeStart: &start,
			ReportDateRangeEnd:   &end,
		}, []string{"data", "report_date_range_start", "report_date_range_end"})
		return err
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// Submit validates data and marks the owner's report for the week completed.
func (s *ReportStore) Submit(ctx context.Context, userId string, rt ReportType, monday time.Time, data map[string]any, operators []OperatorOption, now time.Time) (*SubmittedReport, error) {
	if err := ValidateSubmission(rt, data, operators); err != nil {
		return nil, err
	}
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	week, start, end := weekColumns(monday)
	submittedAt := now.UTC()

	var saved *SubmittedReport
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		saved, err = s.upsert(ctx, tx, &SubmittedReport{
			UserId:               userId,
			ReportName:           rt.Name,
			Week:                 &week,
			Data:                 raw,
			Completed:            true,
			SubmittedAt:          &submittedAt,
			ReportDateRangeStart: &start,
			ReportDateRangeEnd:   &end,
		}, []string{"data", "completed", "submitted_at", "report_date_range_start", "report_date_range_end"})
		return err
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// ManagerEdit replaces another user's report data. A completed report stays completed
// and must still pass submission validation.
func (s *ReportStore) ManagerEdit(ctx context.Context, editorId, userId string, rt ReportType, monday time.Time, data map[string]any, operators []OperatorOption, now time.Time) (*SubmittedReport, error) {
	raw, err := marshalData(data)
	if err != nil {
		return nil, err
	}
	week, _, _ := weekColumns(monday)
	editedAt := now.UTC()

	var saved *SubmittedReport
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.findByKey(ctx, tx, userId, rt.Name, week)
		if err != nil {
			return err
		}
		if existing.Completed {
			if err := ValidateSubmission(rt, data, operators); err != nil {
				return err
			}
		}
		if err := tx.Model(existing).Updates(map[string]any{
			"data":           raw,
			"last_edited_by": editorId,
			"last_edited_at": editedAt,
		}).Error; err != nil {
			return err
		}
		saved, err = s.findByKey(ctx, tx, userId, rt.Name, week)
		return err
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

func (s *ReportStore) Get(ctx context.Context, id string) (*SubmittedReport, error) {
	return utils.FetchModel[SubmittedReport](ctx, s.db, id)
}

func (s *ReportStore) List(ctx context.Context, filter ReportFilter) ([]*SubmittedReport, error) {
	dbCtx := s.db.WithContext(ctx)
	if filter.ReportNames != nil {
		if len(filter.ReportNames) == 0 {
			return []*SubmittedReport{}, nil
		}
		dbCtx = dbCtx.Where("report_name IN ?", filter.ReportNames)
	}
	if filter.UserId != "" {
		dbCtx = dbCtx.Where("user_id = ?", filter.UserId)
	}
	if filter.Week != nil {
		dbCtx = dbCtx.Where("week = ?", utils.DateColumn(*filter.Week))
	}
	var reports []*SubmittedReport
	if err := dbCtx.Order("week DESC").Order("report_name").Order("user_id").Find(&reports).Error; err != nil {
		return nil, err
	}
	return reports, nil
}

// ListCompletedReports returns completed reports of the given types that could belong to
// a week starting on or after since.
func (s *ReportStore) ListCompletedReports(ctx context.Context, reportNames []string, since time.Time) ([]SubmittedReport, error) {
	if len(reportNames) == 0 {
		return []SubmittedReport{}, nil
	}
	// legacy Sunday anchors sit one day before their Monday
	sinceDate := utils.DateColumn(since).AddDate(0, 0, -1)
	var reports []SubmittedReport
	err := s.db.WithContext(ctx).
		Where("completed = ?", true).
		Where("report_name IN ?", reportNames).
		Where("week >= ? OR report_date_range_start >= ? OR submitted_at >= ?", sinceDate, sinceDate, sinceDate).
		Find(&reports).Error
	if err != nil {
		return nil, fmt.Errorf("list completed reports: %w", err)
	}
	return reports, nil
}

// NormalizeWeekAnchors rewrites legacy anchors to their canonical Monday and recomputes
// the range columns. It returns the rows that changed.
func (s *ReportStore) NormalizeWeekAnchors(ctx context.Context, loc *time.Location, dryRun bool) ([]*SubmittedReport, error) {
	var reports []*SubmittedReport
	if err := s.db.WithContext(ctx).Where("week IS NOT NULL").Find(&reports).Error; err != nil {
		return nil, err
	}
	var changed []*SubmittedReport
	for _, r := range reports {
		monday := utils.NormalizeWeekAnchor(utils.AnchorFromStored(*r.Week, loc))
		week, start, end := weekColumns(monday)
		same := r.Week.Equal(week) &&
			r.ReportDateRangeStart != nil && r.ReportDateRangeStart.Equal(start) &&
			r.ReportDateRangeEnd != nil && r.ReportDateRangeEnd.Equal(end)
		if same {
			continue
		}
		r.Week, r.ReportDateRangeStart, r.ReportDateRangeEnd = &week, &start, &end
		changed = append(changed, r)
	}
	if dryRun || len(changed) == 0 {
		return changed, nil
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range changed {
			if err := tx.Model(&SubmittedReport{}).Where("id = ?", r.ID).Updates(map[string]any{
				"week":                    r.Week,
				"report_date_range_start": r.ReportDateRangeStart,
				"report_date_range_end":   r.ReportDateRangeEnd,
			}).Error; err != nil {
				return fmt.Errorf("normalize report %s: %w", r.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

package reports

import (
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/models"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
)

type ReportMetrics struct {
	ReportId   string              `json:"report_id"`
	ReportName string              `json:"report_name"`
	UserId     string              `json:"user_id"`
	Week       string              `json:"week"`
	WeekLabel  string              `json:"week_label"`
	Completed  bool                `json:"completed"`
	Yardage    *YardageMetrics     `json:"yardage,omitempty"`
	Efficiency *EfficiencyInsights `json:"efficiency,omitempty"`
}

// ComputeReportMetrics runs the metrics that apply to rt's fields: yardage grading when
// the type collects total_yards, efficiency insights when it has a rows table.
func ComputeReportMetrics(report models.SubmittedReport, rt models.ReportType, operators []models.OperatorOption, loc *time.Location) ReportMetrics {
	data := report.DataMap()
	out := ReportMetrics{
		ReportId:   report.ID,
		ReportName: report.ReportName,
		UserId:     report.UserId,
		Completed:  report.Completed,
	}
	if anchor, ok := report.WeekAnchor(loc); ok {
		if w, ok := utils.WeekRangeFromMondayIso(anchor, loc); ok {
			out.Week = w.StartIso()
			out.WeekLabel = w.Label()
		}
	}
	if _, ok := rt.Field("total_yards"); ok {
		y := GradeYardage(YardageInput{Data: data})
		out.Yardage = &y
	}
	if f, ok := rt.Field("rows"); ok && f.Type == models.ReportFieldTypeTable {
		e := ComputeEfficiencyInsights(models.ParseProductionRows(data["rows"]), operators)
		out.Efficiency = &e
	}
	return out
}

// OperatorIdsInReport lists the distinct operator ids referenced by a report's rows table.
func OperatorIdsInReport(report models.SubmittedReport) []string {
	var ids []string
	for _, row := range models.ParseProductionRows(report.DataMap()["rows"]) {
		if row.OperatorId != "" {
			ids = append(ids, row.OperatorId)
		}
	}
	return utils.UniqueSlice(ids)
}

package models

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"bitbucket.org/mmdatafocus/fleet_backend/utils"
)

// ProductionRow is one operator line of a plant_production report's rows table.
// Values are kept as entered; parsing happens in the metric and validation passes.
type ProductionRow struct {
	OperatorId  string `json:"operator_id"`
	TruckNumber string `json:"truck_number"`
	StartTime   string `json:"start_time"`
	FirstLoad   string `json:"first_load"`
	EodInYard   string `json:"eod_in_yard"`
	PunchOut    string `json:"punch_out"`
	Loads       string `json:"loads"`
	Comments    string `json:"comments"`
}

type OperatorOption struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ProductionReportForm struct {
	Plant      string          `json:"plant"`
	ReportDate string          `json:"report_date"`
	Rows       []ProductionRow `json:"rows"`
}

// ParseClock converts "HH:MM" (seconds allowed and ignored) to minutes since midnight.
func ParseClock(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	if len(parts[1]) != 2 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// ParseClockPtr is ParseClock with nil for missing values.
func ParseClockPtr(s string) *int {
	if v, ok := ParseClock(s); ok {
		return &v
	}
	return nil
}

// LoadCount parses Loads; false when blank or not numeric.
func (r ProductionRow) LoadCount() (float64, bool) {
	if strings.TrimSpace(r.Loads) == "" {
		return 0, false
	}
	return utils.NumberFromAny(r.Loads)
}

// IsExcluded reports whether every field other than operator and truck is empty or zero.
// Such rows stay in the stored table but are ignored by metrics and validation.
func (r ProductionRow) IsExcluded() bool {
	for _, v := range []string{r.StartTime, r.FirstLoad, r.EodInYard, r.PunchOut, r.Comments} {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	if strings.TrimSpace(r.Loads) != "" {
		if n, ok := r.LoadCount(); !ok || n != 0 {
			return false
		}
	}
	return true
}

// ParseProductionRows reads the "rows" table value of a report's data.
func ParseProductionRows(v any) []ProductionRow {
	items, ok := v.([]any)
	if !ok {
		if typed, ok := v.([]map[string]any); ok {
			for _, m := range typed {
				items = append(items, m)
			}
		}
	}
	rows := make([]ProductionRow, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		rows = append(rows, ProductionRow{
			OperatorId:  utils.StringFromAny(m["operator_id"]),
			TruckNumber: utils.StringFromAny(m["truck_number"]),
			StartTime:   utils.StringFromAny(m["start_time"]),
			FirstLoad:   utils.StringFromAny(m["first_load"]),
			EodInYard:   utils.StringFromAny(m["eod_in_yard"]),
			PunchOut:    utils.StringFromAny(m["punch_out"]),
			Loads:       utils.StringFromAny(m["loads"]),
			Comments:    utils.StringFromAny(m["comments"]),
		})
	}
	return rows
}

// ProductionFormFromData builds the form view of a plant_production report's data.
func ProductionFormFromData(data map[string]any) ProductionReportForm {
	return ProductionReportForm{
		Plant:      utils.StringFromAny(data["plant"]),
		ReportDate: utils.StringFromAny(data["report_date"]),
		Rows:       ParseProductionRows(data["rows"]),
	}
}

func operatorLabel(row ProductionRow, index int, operators []OperatorOption) string {
	for _, op := range operators {
		if op.ID != "" && op.ID == row.OperatorId && strings.TrimSpace(op.Name) != "" {
			return op.Name
		}
	}
	return fmt.Sprintf("row %d", index+1)
}

// ValidateProductionReport returns the first violated rule as a message, or "" when valid.
func ValidateProductionReport(form ProductionReportForm, operators []OperatorOption) string {
	if strings.TrimSpace(form.Plant) == "" {
		return "Plant is required"
	}
	if strings.TrimSpace(form.ReportDate) == "" {
		return "Report date is required"
	}

	for i, row := range form.Rows {
		if row.IsExcluded() {
			continue
		}
		who := operatorLabel(row, i, operators)

		clocks := []struct {
			label string
			value string
		}{
			{"Start time", row.StartTime},
			{"First load time", row.FirstLoad},
			{"EOD in yard time", row.EodInYard},
			{"Punch out time", row.PunchOut},
		}
		minutes := make([]int, len(clocks))
		for j, c := range clocks {
			if strings.TrimSpace(c.value) == "" {
				return fmt.Sprintf("%s is required for %s", c.label, who)
			}
			m, ok := ParseClock(c.value)
			if !ok {
				return fmt.Sprintf("%s for %s must be in HH:MM format", c.label, who)
			}
			minutes[j] = m
		}
		start, firstLoad, eod, punchOut := minutes[0], minutes[1], minutes[2], minutes[3]

		if firstLoad < start {
			return fmt.Sprintf("First load time cannot be before start time for %s", who)
		}
		if punchOut < eod {
			return fmt.Sprintf("Punch out time cannot be before EOD in yard time for %s", who)
		}
		if punchOut-start <= 0 {
			return fmt.Sprintf("Punch out time must be after start time for %s", who)
		}

		if strings.TrimSpace(row.Loads) == "" {
			return fmt.Sprintf("Loads is required for %s", who)
		}
		loads, ok := row.LoadCount()
		if !ok || loads < 0 || loads != math.Trunc(loads) {
			return fmt.Sprintf("Loads for %s must be a non-negative whole number", who)
		}
	}
	return ""
}

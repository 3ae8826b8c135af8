package reports

import (
	"fmt"

	"bitbucket.org/mmdatafocus/fleet_backend/models"
)

const (
	maxElapsedStartMinutes = 15
	maxElapsedEndMinutes   = 20
	minLoads               = 3
	maxShiftHours          = 14
)

type RowInsight struct {
	Index        int      `json:"index"`
	OperatorId   string   `json:"operator_id"`
	OperatorName string   `json:"operator_name,omitempty"`
	TruckNumber  string   `json:"truck_number"`
	ElapsedStart *int     `json:"elapsed_start"`
	ElapsedEnd   *int     `json:"elapsed_end"`
	Hours        *float64 `json:"hours"`
	Loads        *float64 `json:"loads"`
	LoadsPerHour *float64 `json:"loads_per_hour"`
	Warnings     []string `json:"warnings"`
}

type EfficiencyInsights struct {
	Rows            []RowInsight `json:"rows"`
	IncludedRows    int          `json:"included_rows"`
	ExcludedRows    int          `json:"excluded_rows"`
	TotalLoads      float64      `json:"total_loads"`
	TotalHours      float64      `json:"total_hours"`
	AvgLoads        *float64     `json:"avg_loads"`
	AvgHours        *float64     `json:"avg_hours"`
	AvgLoadsPerHour *float64     `json:"avg_loads_per_hour"`
	AvgElapsedStart *float64     `json:"avg_elapsed_start"`
	AvgElapsedEnd   *float64     `json:"avg_elapsed_end"`
	Warnings        []string     `json:"warnings"`
}

func elapsed(from, to *int) *int {
	if from == nil || to == nil {
		return nil
	}
	d := *to - *from
	return &d
}

type mean struct {
	sum   float64
	count int
}

func (m *mean) add(v float64) {
	m.sum += v
	m.count++
}

func (m mean) value() *float64 {
	if m.count == 0 {
		return nil
	}
	v := m.sum / float64(m.count)
	return &v
}

func rowInsight(index int, row models.ProductionRow, names map[string]string) RowInsight {
	start := models.ParseClockPtr(row.StartTime)
	firstLoad := models.ParseClockPtr(row.FirstLoad)
	eod := models.ParseClockPtr(row.EodInYard)
	punchOut := models.ParseClockPtr(row.PunchOut)

	in := RowInsight{
		Index:        index,
		OperatorId:   row.OperatorId,
		OperatorName: names[row.OperatorId],
		TruckNumber:  row.TruckNumber,
		ElapsedStart: elapsed(start, firstLoad),
		ElapsedEnd:   elapsed(eod, punchOut),
		Warnings:     []string{},
	}
	if span := elapsed(start, punchOut); span != nil {
		h := float64(*span) / 60
		in.Hours = &h
	}
	if n, ok := row.LoadCount(); ok {
		in.Loads = &n
	}
	if in.Loads != nil && in.Hours != nil && *in.Hours > 0 {
		lph := *in.Loads / *in.Hours
		in.LoadsPerHour = &lph
	}

	if in.ElapsedStart != nil && *in.ElapsedStart > maxElapsedStartMinutes {
		in.Warnings = append(in.Warnings, fmt.Sprintf("%d min from start to first load (over %d)", *in.ElapsedStart, maxElapsedStartMinutes))
	}
	if in.ElapsedEnd != nil && *in.ElapsedEnd > maxElapsedEndMinutes {
		in.Warnings = append(in.Warnings, fmt.Sprintf("%d min from EOD in yard to punch out (over %d)", *in.ElapsedEnd, maxElapsedEndMinutes))
	}
	if in.Loads != nil && *in.Loads < minLoads {
		in.Warnings = append(in.Warnings, fmt.Sprintf("Only %g loads (under %d)", *in.Loads, minLoads))
	}
	if in.Hours != nil && *in.Hours > maxShiftHours {
		in.Warnings = append(in.Warnings, fmt.Sprintf("%.1f hour shift (over %d)", *in.Hours, maxShiftHours))
	}
	return in
}

// ComputeEfficiencyInsights derives per-operator shift metrics and warnings.
// Excluded rows are counted but contribute nothing to totals or averages.
func ComputeEfficiencyInsights(rows []models.ProductionRow, operators []models.OperatorOption) EfficiencyInsights {
	names := make(map[string]string, len(operators))
	for _, op := range operators {
		names[op.ID] = op.Name
	}

	out := EfficiencyInsights{Rows: []RowInsight{}, Warnings: []string{}}
	var loadsPerHour, elapsedStart, elapsedEnd mean

	for i, row := range rows {
		if row.IsExcluded() {
			out.ExcludedRows++
			continue
		}
		out.IncludedRows++
		in := rowInsight(i, row, names)
		out.Rows = append(out.Rows, in)

		if in.Loads != nil {
			out.TotalLoads += *in.Loads
		}
		if in.Hours != nil && *in.Hours > 0 {
			out.TotalHours += *in.Hours
		}
		if in.LoadsPerHour != nil {
			loadsPerHour.add(*in.LoadsPerHour)
		}
		if in.ElapsedStart != nil {
			elapsedStart.add(float64(*in.ElapsedStart))
		}
		if in.ElapsedEnd != nil {
			elapsedEnd.add(float64(*in.ElapsedEnd))
		}
	}

	if out.IncludedRows > 0 {
		avgLoads := out.TotalLoads / float64(out.IncludedRows)
		avgHours := out.TotalHours / float64(out.IncludedRows)
		out.AvgLoads, out.AvgHours = &avgLoads, &avgHours
	}
	out.AvgLoadsPerHour = loadsPerHour.value()
	out.AvgElapsedStart = elapsedStart.value()
	out.AvgElapsedEnd = elapsedEnd.value()

	if v := out.AvgElapsedStart; v != nil {
		if *v < 0 {
			out.Warnings = append(out.Warnings, "Average start to first load is negative; check for AM/PM entry errors")
		} else if *v > maxElapsedStartMinutes {
			out.Warnings = append(out.Warnings, fmt.Sprintf("Average start to first load is %.1f min (over %d)", *v, maxElapsedStartMinutes))
		}
	}
	if v := out.AvgElapsedEnd; v != nil {
		if *v < 0 {
			out.Warnings = append(out.Warnings, "Average EOD to punch out is negative; check for AM/PM entry errors")
		} else if *v > maxElapsedEndMinutes {
			out.Warnings = append(out.Warnings, fmt.Sprintf("Average EOD to punch out is %.1f min (over %d)", *v, maxElapsedEndMinutes))
		}
	}
	if v := out.AvgLoads; v != nil && *v < minLoads {
		out.Warnings = append(out.Warnings, fmt.Sprintf("Average loads per operator is %.1f (under %d)", *v, minLoads))
	}
	if v := out.AvgHours; v != nil && *v > maxShiftHours {
		out.Warnings = append(out.Warnings, fmt.Sprintf("Average shift is %.1f hours (over %d)", *v, maxShiftHours))
	}
	return out
}

package models_test

import (
	"encoding/json"
	"testing"

	"bitbucket.org/mmdatafocus/fleet_backend/models"
)

func TestParseClock(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"08:00", 480, true},
		{"8:05", 485, true},
		{"23:59", 1439, true},
		{"16:05:30", 965, true},
		{"24:00", 0, false},
		{"12:60", 0, false},
		{"12:5", 0, false},
		{"", 0, false},
		{"noon", 0, false},
	}
	for _, tc := range cases {
		got, ok := models.ParseClock(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("ParseClock(%q) = %d, %v; want %d, %v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
	if models.ParseClockPtr("bad") != nil {
		t.Fatalf("ParseClockPtr should return nil for bad input")
	}
}

func TestProductionRowIsExcluded(t *testing.T) {
	cases := []struct {
		name string
		row  models.ProductionRow
		want bool
	}{
		{"operator and truck only", models.ProductionRow{OperatorId: "op1", TruckNumber: "12"}, true},
		{"zero loads", models.ProductionRow{OperatorId: "op1", Loads: "0"}, true},
		{"loads entered", models.ProductionRow{OperatorId: "op1", Loads: "4"}, false},
		{"comment only", models.ProductionRow{Comments: "down for repair"}, false},
		{"time entered", models.ProductionRow{StartTime: "07:00"}, false},
		{"garbage loads", models.ProductionRow{Loads: "abc"}, false},
	}
	for _, tc := range cases {
		if got := tc.row.IsExcluded(); got != tc.want {
			t.Fatalf("%s: IsExcluded = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestParseProductionRowsFromJSON(t *testing.T) {
	report := models.SubmittedReport{Data: []byte(`{"plant":"P1","report_date":"2025-01-06","rows":[
		{"operator_id":"op1","truck_number":12,"start_time":"08:00","first_load":"08:10","eod_in_yard":"16:00","punch_out":"16:05","loads":10},
		"not a row",
		{"operator_id":"op2"}
	]}`)}
	form := models.ProductionFormFromData(report.DataMap())
	if form.Plant != "P1" || form.ReportDate != "2025-01-06" {
		t.Fatalf("unexpected form header: %+v", form)
	}
	if len(form.Rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(form.Rows))
	}
	if form.Rows[0].TruckNumber != "12" || form.Rows[0].Loads != "10" {
		t.Fatalf("numeric cells not rendered as text: %+v", form.Rows[0])
	}
	if !form.Rows[1].IsExcluded() {
		t.Fatalf("blank row should be excluded")
	}
}

func validRow(operatorId string) models.ProductionRow {
	return models.ProductionRow{
		OperatorId: operatorId, TruckNumber: "12",
		StartTime: "08:00", FirstLoad: "08:10", EodInYard: "16:00", PunchOut: "16:05",
		Loads: "10",
	}
}

func TestValidateProductionReport(t *testing.T) {
	operators := []models.OperatorOption{{ID: "op1", Name: "Sam Carter"}}

	withRow := func(mutate func(*models.ProductionRow)) models.ProductionReportForm {
		row := validRow("op1")
		mutate(&row)
		return models.ProductionReportForm{Plant: "P1", ReportDate: "2025-01-06", Rows: []models.ProductionRow{row}}
	}

	cases := []struct {
		name string
		form models.ProductionReportForm
		want string
	}{
		{"valid", withRow(func(r *models.ProductionRow) {}), ""},
		{"missing plant", models.ProductionReportForm{ReportDate: "2025-01-06"}, "Plant is required"},
		{"missing date", models.ProductionReportForm{Plant: "P1", Rows: []models.ProductionRow{{Loads: "x"}}}, "Report date is required"},
		{"missing start", withRow(func(r *models.ProductionRow) { r.StartTime = "" }), "Start time is required for Sam Carter"},
		{"bad first load", withRow(func(r *models.ProductionRow) { r.FirstLoad = "8am" }), "First load time for Sam Carter must be in HH:MM format"},
		{"first load before start", withRow(func(r *models.ProductionRow) { r.FirstLoad = "07:50" }), "First load time cannot be before start time for Sam Carter"},
		{"punch out before eod", withRow(func(r *models.ProductionRow) { r.PunchOut = "15:55" }), "Punch out time cannot be before EOD in yard time for Sam Carter"},
		{"zero span", withRow(func(r *models.ProductionRow) {
			r.StartTime, r.FirstLoad, r.EodInYard, r.PunchOut = "08:00", "08:00", "08:00", "08:00"
		}), "Punch out time must be after start time for Sam Carter"},
		{"missing loads", withRow(func(r *models.ProductionRow) { r.Loads = " " }), "Loads is required for Sam Carter"},
		{"negative loads", withRow(func(r *models.ProductionRow) { r.Loads = "-1" }), "Loads for Sam Carter must be a non-negative whole number"},
		{"fractional loads", withRow(func(r *models.ProductionRow) { r.Loads = "2.5" }), "Loads for Sam Carter must be a non-negative whole number"},
		{"unknown operator uses ordinal", withRow(func(r *models.ProductionRow) { r.OperatorId = "op9"; r.PunchOut = "15:00" }), "Punch out time cannot be before EOD in yard time for row 1"},
	}
	for _, tc := range cases {
		if got := models.ValidateProductionReport(tc.form, operators); got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestValidateProductionReportSkipsExcludedRows(t *testing.T) {
	form := models.ProductionReportForm{
		Plant: "P1", ReportDate: "2025-01-06",
		Rows: []models.ProductionRow{
			{OperatorId: "op1", TruckNumber: "12"},
			validRow("op2"),
			{OperatorId: "op3", StartTime: "09:00"},
		},
	}
	got := models.ValidateProductionReport(form, nil)
	if got != "First load time is required for row 3" {
		t.Fatalf("got %q", got)
	}
}

func TestValidateSubmission(t *testing.T) {
	registry := models.DefaultRegistry()
	pp, _ := registry.ByName("plant_production")

	var data map[string]any
	_ = json.Unmarshal([]byte(`{"plant":"P1","report_date":"2025-01-06","rows":[
		{"operator_id":"op1","start_time":"08:00","first_load":"08:10","eod_in_yard":"16:00","punch_out":"15:00","loads":3}
	]}`), &data)
	err := models.ValidateSubmission(pp, data, []models.OperatorOption{{ID: "op1", Name: "Sam Carter"}})
	if err == nil || err.Error() != "Punch out time cannot be before EOD in yard time for Sam Carter" {
		t.Fatalf("unexpected error: %v", err)
	}

	gm, _ := registry.ByName("general_manager")
	err = models.ValidateSubmission(gm, map[string]any{"summary": "ok"}, nil)
	if err == nil || err.Error() != "Missing required fields: Total Yards Delivered, Total Operator Hours" {
		t.Fatalf("unexpected error: %v", err)
	}
}

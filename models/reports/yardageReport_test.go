package reports

import (
	"encoding/json"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/fleet_backend/models"
)

func f(v float64) *float64 { return &v }

func TestGradeYardageYardsPerHour(t *testing.T) {
	m := GradeYardage(YardageInput{Yards: f(300), Hours: f(60)})
	if m.YPH.Value == nil || *m.YPH.Value != 5 {
		t.Fatalf("yph = %v, want 5", m.YPH.Value)
	}
	if m.YPH.Grade != models.GradeGood || m.YPH.Label != "Good" || m.YPH.Display != "5.00" {
		t.Fatalf("unexpected yph metric: %+v", m.YPH)
	}

	zero := GradeYardage(YardageInput{Yards: f(0), Hours: f(0)})
	if zero.YPH.Value != nil || zero.YPH.Grade != "" || zero.YPH.Display != "" {
		t.Fatalf("expected no yph for zero hours, got %+v", zero.YPH)
	}
}

func TestGradeYardsPerHourThresholds(t *testing.T) {
	cases := []struct {
		yph  float64
		want models.Grade
	}{
		{7, models.GradeExcellent},
		{6, models.GradeExcellent},
		{5.99, models.GradeGood},
		{4, models.GradeGood},
		{3, models.GradeAverage},
		{2.99, models.GradePoor},
		{0, models.GradePoor},
	}
	for _, tc := range cases {
		if got := GradeYardsPerHour(tc.yph); got != tc.want {
			t.Fatalf("GradeYardsPerHour(%v) = %s, want %s", tc.yph, got, tc.want)
		}
	}
}

func TestGradeYardsLost(t *testing.T) {
	cases := []struct {
		data map[string]any
		want *float64
		gr   models.Grade
	}{
		{map[string]any{"yardage_lost": -5}, f(0), models.GradeExcellent},
		{map[string]any{"yards_lost": "4.5"}, f(4.5), models.GradeGood},
		{map[string]any{"lost_yards": 9}, f(9), models.GradeAverage},
		{map[string]any{"total_yards_lost": 10}, f(10), models.GradePoor},
		{map[string]any{"yardage_lost": "n/a", "lost_yardage": 3}, f(3), models.GradeGood},
		{map[string]any{"yardage_lost": 2, "yards_lost": 20}, f(2), models.GradeGood},
		{map[string]any{}, nil, ""},
	}
	for i, tc := range cases {
		m := GradeYardage(YardageInput{Data: tc.data})
		if (m.Lost.Value == nil) != (tc.want == nil) || (tc.want != nil && *m.Lost.Value != *tc.want) {
			t.Fatalf("case %d: lost = %v, want %v", i, m.Lost.Value, tc.want)
		}
		if m.Lost.Grade != tc.gr {
			t.Fatalf("case %d: grade = %s, want %s", i, m.Lost.Grade, tc.gr)
		}
	}
}

func TestGradeYardageFromReportData(t *testing.T) {
	var data map[string]any
	dec := json.NewDecoder(strings.NewReader(`{"total_yards": "1,200", "total_hours": 150, "yards_lost": 0}`))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	m := GradeYardage(YardageInput{Data: data})
	if m.YPH.Value == nil || *m.YPH.Value != 8 || m.YPH.Grade != models.GradeExcellent {
		t.Fatalf("unexpected yph: %+v", m.YPH)
	}
	if m.Lost.Grade != models.GradeExcellent || m.Lost.Label != "Excellent" {
		t.Fatalf("unexpected lost: %+v", m.Lost)
	}

	explicit := GradeYardage(YardageInput{Yards: f(90), Hours: f(30), Data: data})
	if *explicit.YPH.Value != 3 {
		t.Fatalf("explicit inputs should win over data, got %v", *explicit.YPH.Value)
	}
}

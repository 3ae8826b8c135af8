package reports

import (
	"math"

	"bitbucket.org/mmdatafocus/fleet_backend/models"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"github.com/shopspring/decimal"
)

// Older report versions stored lost yardage under different keys; first present wins.
// TODO: drop the aliases once stored reports are rewritten to yardage_lost.
var yardsLostKeys = []string{
	"yardage_lost",
	"yards_lost",
	"lost_yardage",
	"lost_yards",
	"total_yards_lost",
}

type YardageInput struct {
	Yards *float64
	Hours *float64
	Data  map[string]any
}

type GradedMetric struct {
	Value   *float64     `json:"value"`
	Display string       `json:"display"`
	Grade   models.Grade `json:"grade,omitempty"`
	Label   string       `json:"label,omitempty"`
}

type YardageMetrics struct {
	Yards *float64     `json:"yards"`
	Hours *float64     `json:"hours"`
	YPH   GradedMetric `json:"yards_per_man_hour"`
	Lost  GradedMetric `json:"yardage_lost"`
}

func GradeYardsPerHour(yph float64) models.Grade {
	switch {
	case yph >= 6:
		return models.GradeExcellent
	case yph >= 4:
		return models.GradeGood
	case yph >= 3:
		return models.GradeAverage
	}
	return models.GradePoor
}

func GradeYardsLost(lost float64) models.Grade {
	switch {
	case lost <= 0:
		return models.GradeExcellent
	case lost < 5:
		return models.GradeGood
	case lost < 10:
		return models.GradeAverage
	}
	return models.GradePoor
}

// ResolveYardsLost returns the first numeric alias value, clamped at zero.
func ResolveYardsLost(data map[string]any) (float64, bool) {
	for _, key := range yardsLostKeys {
		v, present := data[key]
		if !present {
			continue
		}
		if n, ok := utils.NumberFromAny(v); ok {
			return math.Max(n, 0), true
		}
	}
	return 0, false
}

func numberField(explicit *float64, data map[string]any, key string) *float64 {
	if explicit != nil {
		if math.IsNaN(*explicit) || math.IsInf(*explicit, 0) {
			return nil
		}
		v := *explicit
		return &v
	}
	if n, ok := utils.NumberFromAny(data[key]); ok {
		return &n
	}
	return nil
}

func displayNumber(v *float64) string {
	if v == nil {
		return ""
	}
	return decimal.NewFromFloat(*v).StringFixed(2)
}

func gradedMetric(v *float64, grade func(float64) models.Grade) GradedMetric {
	m := GradedMetric{Value: v, Display: displayNumber(v)}
	if v != nil {
		m.Grade = grade(*v)
		m.Label = m.Grade.Label()
	}
	return m
}

// GradeYardage computes yards per man-hour and lost yardage with their grades.
// Explicit yards/hours take precedence over total_yards/total_hours in Data.
func GradeYardage(in YardageInput) YardageMetrics {
	yards := numberField(in.Yards, in.Data, "total_yards")
	hours := numberField(in.Hours, in.Data, "total_hours")

	var yph *float64
	if yards != nil && hours != nil && *hours > 0 {
		v := *yards / *hours
		yph = &v
	}

	var lost *float64
	if v, ok := ResolveYardsLost(in.Data); ok {
		lost = &v
	}

	return YardageMetrics{
		Yards: yards,
		Hours: hours,
		YPH:   gradedMetric(yph, GradeYardsPerHour),
		Lost:  gradedMetric(lost, GradeYardsLost),
	}
}

package models

import (
	"errors"
	"strings"
)

type ReportFieldType string

const (
	ReportFieldTypeText     ReportFieldType = "text"
	ReportFieldTypeTextarea ReportFieldType = "textarea"
	ReportFieldTypeNumber   ReportFieldType = "number"
	ReportFieldTypeSelect   ReportFieldType = "select"
	ReportFieldTypeTable    ReportFieldType = "table"
)

func (t ReportFieldType) IsValid() bool {
	switch t {
	case ReportFieldTypeText, ReportFieldTypeTextarea, ReportFieldTypeNumber, ReportFieldTypeSelect, ReportFieldTypeTable:
		return true
	}
	return false
}

// convert input to enum type
func (t *ReportFieldType) UnmarshalText(b []byte) error {
	v := ReportFieldType(strings.ToLower(strings.TrimSpace(string(b))))
	if v == "" {
		*t = ReportFieldTypeText
		return nil
	}
	if !v.IsValid() {
		return errors.New("invalid report field type")
	}
	*t = v
	return nil
}

type ReportFrequency string

const (
	ReportFrequencyWeekly ReportFrequency = "weekly"
)

type Grade string

const (
	GradeExcellent Grade = "excellent"
	GradeGood      Grade = "good"
	GradeAverage   Grade = "average"
	GradePoor      Grade = "poor"
)

// Label is the display text shown next to a metric.
func (g Grade) Label() string {
	switch g {
	case GradeExcellent:
		return "Excellent"
	case GradeGood:
		return "Good"
	case GradeAverage:
		return "Average"
	case GradePoor:
		return "Poor"
	}
	return ""
}

type ReportStatus string

const (
	ReportStatusDraft     ReportStatus = "draft"
	ReportStatusCompleted ReportStatus = "completed"
)

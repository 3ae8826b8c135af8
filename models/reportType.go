package models

import (
	"errors"
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/fleet_backend/utils"
)

type FieldSpec struct {
	Name     string          `json:"name"`
	Label    string          `json:"label"`
	Type     ReportFieldType `json:"type"`
	Required bool            `json:"required"`
	Options  []string        `json:"options,omitempty"`
}

type ReportType struct {
	Name                  string          `json:"name"`
	Title                 string          `json:"title"`
	Frequency             ReportFrequency `json:"frequency"`
	AssignmentPermissions []string        `json:"assignment_permissions"`
	ReviewPermissions     []string        `json:"review_permissions"`
	Fields                []FieldSpec     `json:"fields"`
}

// FieldDefinition is the raw, not yet normalized form of a FieldSpec.
type FieldDefinition struct {
	Name     string          `json:"name" validate:"required"`
	Label    string          `json:"label"`
	Type     ReportFieldType `json:"type" validate:"omitempty,oneof=text textarea number select table"`
	Required *bool           `json:"required"`
	Options  []string        `json:"options" validate:"required_if=Type select,dive,required"`
}

type ReportTypeDefinition struct {
	Name                  string            `json:"name" validate:"required"`
	Title                 string            `json:"title"`
	Frequency             ReportFrequency   `json:"frequency" validate:"omitempty,oneof=weekly"`
	AssignmentPermissions []string          `json:"assignment_permissions" validate:"dive,required"`
	ReviewPermissions     []string          `json:"review_permissions" validate:"dive,required"`
	Fields                []FieldDefinition `json:"fields" validate:"dive"`
}

func (rt ReportType) Field(name string) (FieldSpec, bool) {
	for _, f := range rt.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// MissingRequired lists the labels of required fields that have no value in data.
// Zero is a value; blank strings and empty tables are not.
func (rt ReportType) MissingRequired(data map[string]any) []string {
	var missing []string
	for _, f := range rt.Fields {
		if !f.Required {
			continue
		}
		if isEmptyFieldValue(data[f.Name]) {
			missing = append(missing, f.Label)
		}
	}
	return missing
}

func isEmptyFieldValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case []map[string]any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

// ReportTypeRegistry is the catalog of report kinds. It is filled at start-up and
// read-only once frozen.
type ReportTypeRegistry struct {
	types  []ReportType
	index  map[string]int
	frozen bool
}

var ErrRegistryFrozen = errors.New("report type registry is frozen")

func NewReportTypeRegistry() *ReportTypeRegistry {
	return &ReportTypeRegistry{index: map[string]int{}}
}

// Register normalizes def (type text, required false, label = name, weekly) and adds it.
func (r *ReportTypeRegistry) Register(def ReportTypeDefinition) (ReportType, error) {
	if r.frozen {
		return ReportType{}, ErrRegistryFrozen
	}
	def.Name = strings.TrimSpace(def.Name)
	if err := utils.ValidateStruct(def); err != nil {
		return ReportType{}, fmt.Errorf("report type %q: %w", def.Name, err)
	}
	if _, exists := r.index[def.Name]; exists {
		return ReportType{}, fmt.Errorf("report type %q already registered", def.Name)
	}

	rt := ReportType{
		Name:                  def.Name,
		Title:                 def.Title,
		Frequency:             def.Frequency,
		AssignmentPermissions: utils.UniqueSlice(def.AssignmentPermissions),
		ReviewPermissions:     utils.UniqueSlice(def.ReviewPermissions),
		Fields:                make([]FieldSpec, 0, len(def.Fields)),
	}
	if rt.Title == "" {
		rt.Title = def.Name
	}
	if rt.Frequency == "" {
		rt.Frequency = ReportFrequencyWeekly
	}

	seen := map[string]bool{}
	for _, fd := range def.Fields {
		name := strings.TrimSpace(fd.Name)
		if seen[name] {
			return ReportType{}, fmt.Errorf("report type %q: duplicate field %q", def.Name, name)
		}
		seen[name] = true

		f := FieldSpec{
			Name:     name,
			Label:    fd.Label,
			Type:     fd.Type,
			Required: utils.DereferencePtr(fd.Required, false),
		}
		if f.Label == "" {
			f.Label = name
		}
		if f.Type == "" {
			f.Type = ReportFieldTypeText
		}
		if len(fd.Options) > 0 {
			f.Options = append([]string(nil), fd.Options...)
		}
		rt.Fields = append(rt.Fields, f)
	}

	r.index[rt.Name] = len(r.types)
	r.types = append(r.types, rt)
	return rt, nil
}

// Freeze rejects further registrations.
func (r *ReportTypeRegistry) Freeze() *ReportTypeRegistry {
	r.frozen = true
	return r
}

func (r *ReportTypeRegistry) ByName(name string) (ReportType, bool) {
	i, ok := r.index[name]
	if !ok {
		return ReportType{}, false
	}
	return r.types[i], true
}

// All returns the report types in registration order.
func (r *ReportTypeRegistry) All() []ReportType {
	return append([]ReportType(nil), r.types...)
}

func (r *ReportTypeRegistry) Names() []string {
	names := make([]string, 0, len(r.types))
	for _, rt := range r.types {
		names = append(names, rt.Name)
	}
	return names
}

// AssignedTo lists report names whose assignment permissions intersect perms.
// A non-nil allow restricts the result to those names.
func (r *ReportTypeRegistry) AssignedTo(perms PermissionSet, allow []string) []string {
	var allowed map[string]bool
	if allow != nil {
		allowed = make(map[string]bool, len(allow))
		for _, name := range allow {
			allowed[name] = true
		}
	}
	var names []string
	for _, rt := range r.types {
		if allowed != nil && !allowed[rt.Name] {
			continue
		}
		if perms.HasAny(rt.AssignmentPermissions) {
			names = append(names, rt.Name)
		}
	}
	return names
}

// ReviewableBy lists report names whose review permissions intersect perms.
func (r *ReportTypeRegistry) ReviewableBy(perms PermissionSet) []string {
	names := []string{}
	for _, rt := range r.types {
		if perms.HasAny(rt.ReviewPermissions) {
			names = append(names, rt.Name)
		}
	}
	return names
}

func required() *bool { return utils.NewTrue() }

func weeklyManagerReport(name, title string, fields ...FieldDefinition) ReportTypeDefinition {
	return ReportTypeDefinition{
		Name:                  name,
		Title:                 title,
		Frequency:             ReportFrequencyWeekly,
		AssignmentPermissions: []string{AssignedPermission(name)},
		ReviewPermissions:     []string{ReviewPermission(name)},
		Fields:                fields,
	}
}

// DefaultReportTypes is the built-in catalog.
func DefaultReportTypes() []ReportTypeDefinition {
	yardage := []FieldDefinition{
		{Name: "total_yards", Label: "Total Yards Delivered", Type: ReportFieldTypeNumber, Required: required()},
		{Name: "total_hours", Label: "Total Operator Hours", Type: ReportFieldTypeNumber, Required: required()},
		{Name: "yardage_lost", Label: "Yardage Lost", Type: ReportFieldTypeNumber},
		{Name: "lost_reason", Label: "Reason for Lost Yardage", Type: ReportFieldTypeTextarea},
	}
	return []ReportTypeDefinition{
		weeklyManagerReport("general_manager", "General Manager Report",
			append([]FieldDefinition{
				{Name: "summary", Label: "Weekly Summary", Type: ReportFieldTypeTextarea, Required: required()},
				{Name: "highlights", Label: "Highlights", Type: ReportFieldTypeTextarea},
				{Name: "concerns", Label: "Concerns", Type: ReportFieldTypeTextarea},
			}, yardage...)...,
		),
		weeklyManagerReport("district_manager", "District Manager Report",
			append([]FieldDefinition{
				{Name: "district", Label: "District", Required: required()},
				{Name: "plants_visited", Label: "Plants Visited", Type: ReportFieldTypeTextarea, Required: required()},
				{Name: "safety_incidents", Label: "Safety Incidents", Type: ReportFieldTypeNumber},
			}, yardage...)...,
		),
		weeklyManagerReport("plant_manager", "Plant Manager Report",
			append([]FieldDefinition{
				{Name: "plant", Label: "Plant", Required: required()},
				{Name: "issues", Label: "Equipment / Plant Issues", Type: ReportFieldTypeTextarea},
				{Name: "notes", Label: "Notes", Type: ReportFieldTypeTextarea},
			}, yardage...)...,
		),
		weeklyManagerReport("plant_production", "Plant Production Report",
			FieldDefinition{Name: "plant", Label: "Plant", Required: required()},
			FieldDefinition{Name: "report_date", Label: "Report Date", Required: required()},
			FieldDefinition{Name: "rows", Label: "Operator Production", Type: ReportFieldTypeTable, Required: required()},
			FieldDefinition{Name: "notes", Label: "Notes", Type: ReportFieldTypeTextarea},
		),
		weeklyManagerReport("safety_manager", "Safety Manager Report",
			FieldDefinition{Name: "incidents", Label: "Incidents", Type: ReportFieldTypeNumber, Required: required()},
			FieldDefinition{Name: "near_misses", Label: "Near Misses", Type: ReportFieldTypeNumber},
			FieldDefinition{Name: "training_sessions", Label: "Training Sessions Held", Type: ReportFieldTypeNumber},
			FieldDefinition{Name: "observations", Label: "Observations", Type: ReportFieldTypeTextarea, Required: required()},
			FieldDefinition{Name: "corrective_actions", Label: "Corrective Actions", Type: ReportFieldTypeTextarea},
		),
		weeklyManagerReport("fleet_maintenance", "Fleet Maintenance Report",
			FieldDefinition{Name: "trucks_down", Label: "Trucks Out of Service", Type: ReportFieldTypeNumber, Required: required()},
			FieldDefinition{Name: "repairs_completed", Label: "Repairs Completed", Type: ReportFieldTypeTextarea},
			FieldDefinition{Name: "parts_on_order", Label: "Parts on Order", Type: ReportFieldTypeTextarea},
			FieldDefinition{Name: "status", Label: "Fleet Status", Type: ReportFieldTypeSelect, Required: required(),
				Options: []string{"On Track", "Behind", "Critical"}},
		),
	}
}

// DefaultRegistry registers DefaultReportTypes and freezes the result.
func DefaultRegistry() *ReportTypeRegistry {
	r := NewReportTypeRegistry()
	for _, def := range DefaultReportTypes() {
		if _, err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r.Freeze()
}

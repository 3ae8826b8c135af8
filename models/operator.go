package models

import (
	"context"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"gorm.io/gorm"
)

type Operator struct {
	ID            string    `gorm:"primary_key;size:36" json:"id"`
	EmployeeId    string    `gorm:"size:50;index" json:"employee_id"`
	FirstName     string    `gorm:"size:100" json:"first_name"`
	LastName      string    `gorm:"size:100" json:"last_name"`
	AssignedPlant string    `gorm:"size:20;index" json:"assigned_plant"`
	Status        string    `gorm:"size:30" json:"status"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o Operator) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(o.FirstName) + " " + strings.TrimSpace(o.LastName))
	if name == "" {
		return o.EmployeeId
	}
	return name
}

func (o Operator) Option() OperatorOption {
	return OperatorOption{ID: o.ID, Name: o.DisplayName()}
}

type Mixer struct {
	ID               string    `gorm:"primary_key;size:36" json:"id"`
	TruckNumber      string    `gorm:"size:20;index" json:"truck_number"`
	AssignedOperator string    `gorm:"size:36;index" json:"assigned_operator"`
	AssignedPlant    string    `gorm:"size:20;index" json:"assigned_plant"`
	Status           string    `gorm:"size:30" json:"status"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Plant struct {
	PlantCode string `gorm:"primary_key;size:20" json:"plant_code"`
	PlantName string `gorm:"size:100" json:"plant_name"`
}

func ListOperators(ctx context.Context, db *gorm.DB, plantCode string) ([]*Operator, error) {
	dbCtx := db.WithContext(ctx)
	if plantCode != "" {
		dbCtx = dbCtx.Where("assigned_plant = ?", plantCode)
	}
	var operators []*Operator
	if err := dbCtx.Order("first_name, last_name").Find(&operators).Error; err != nil {
		return nil, err
	}
	return operators, nil
}

// OperatorOptions resolves operator display names for validation messages.
func OperatorOptions(operators []*Operator) []OperatorOption {
	options := make([]OperatorOption, 0, len(operators))
	for _, o := range operators {
		options = append(options, o.Option())
	}
	return options
}

// ListPlants reads the plant list from redis, or db when not cached.
func ListPlants(ctx context.Context, db *gorm.DB) ([]*Plant, error) {
	plants, err := utils.RetrieveRedisList[Plant](ctx, "")
	if err != nil {
		config.LogError(config.GetLogger(), "operator.go", "ListPlants", "redis get", nil, err)
	}
	if plants != nil {
		return plants, nil
	}
	plants, err = utils.FetchAllModels[Plant](ctx, db, "plant_code")
	if err != nil {
		return nil, err
	}
	if err := utils.StoreRedisList(ctx, plants, "", config.ReportCacheTTL()); err != nil {
		config.LogError(config.GetLogger(), "operator.go", "ListPlants", "redis set", nil, err)
	}
	return plants, nil
}

// seed-dev loads a small fleet (profiles, permissions, plants, operators, mixers) for
// local development and prints a bearer token per seeded user.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... go run ./cmd/seed-dev
package main

import (
	"context"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/models"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type seedUser struct {
	profile models.UserProfile
	reports []string
	reviews []string
}

var seedUsers = []seedUser{
	{
		profile: models.UserProfile{ID: "00000000-0000-0000-0000-000000000001", FirstName: "Gina", LastName: "Moss", Email: "gm@example.com"},
		reports: []string{"general_manager"},
		reviews: []string{"general_manager", "district_manager", "plant_manager", "plant_production", "safety_manager", "fleet_maintenance"},
	},
	{
		profile: models.UserProfile{ID: "00000000-0000-0000-0000-000000000002", FirstName: "Dario", LastName: "Vance", Email: "dm@example.com"},
		reports: []string{"district_manager"},
		reviews: []string{"plant_manager", "plant_production"},
	},
	{
		profile: models.UserProfile{ID: "00000000-0000-0000-0000-000000000003", FirstName: "Priya", LastName: "Nolan", Email: "pm@example.com"},
		reports: []string{"plant_manager", "plant_production"},
	},
	{
		profile: models.UserProfile{ID: "00000000-0000-0000-0000-000000000004", FirstName: "Sam", LastName: "Ortiz", Email: "safety@example.com"},
		reports: []string{"safety_manager", "fleet_maintenance"},
	},
}

var seedPlants = []models.Plant{
	{PlantCode: "P101", PlantName: "North Yard"},
	{PlantCode: "P102", PlantName: "River Road"},
}

var seedOperators = []models.Operator{
	{ID: "op-1001", EmployeeId: "E1001", FirstName: "Luis", LastName: "Baker", AssignedPlant: "P101", Status: "active"},
	{ID: "op-1002", EmployeeId: "E1002", FirstName: "Amy", LastName: "Chen", AssignedPlant: "P101", Status: "active"},
	{ID: "op-1003", EmployeeId: "E1003", FirstName: "Tom", LastName: "Reed", AssignedPlant: "P102", Status: "active"},
}

var seedMixers = []models.Mixer{
	{ID: "mx-201", TruckNumber: "201", AssignedOperator: "op-1001", AssignedPlant: "P101", Status: "in_service"},
	{ID: "mx-202", TruckNumber: "202", AssignedOperator: "op-1002", AssignedPlant: "P101", Status: "in_service"},
	{ID: "mx-305", TruckNumber: "305", AssignedOperator: "op-1003", AssignedPlant: "P102", Status: "in_shop"},
}

func upsert[T any](ctx context.Context, db *gorm.DB, rows []T) error {
	if len(rows) == 0 {
		return nil
	}
	return db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
}

func main() {
	ctx := context.Background()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}
	models.MigrateTable()

	profiles := make([]models.UserProfile, 0, len(seedUsers))
	for _, u := range seedUsers {
		profiles = append(profiles, u.profile)
	}
	if err := upsert(ctx, db, profiles); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed profiles: %v\n", err)
		os.Exit(1)
	}
	if err := upsert(ctx, db, seedPlants); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed plants: %v\n", err)
		os.Exit(1)
	}
	if err := upsert(ctx, db, seedOperators); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed operators: %v\n", err)
		os.Exit(1)
	}
	if err := upsert(ctx, db, seedMixers); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed mixers: %v\n", err)
		os.Exit(1)
	}

	perms := models.NewPermissionStore(db)
	for _, u := range seedUsers {
		var keys []string
		for _, name := range u.reports {
			keys = append(keys, models.AssignedPermission(name))
		}
		for _, name := range u.reviews {
			keys = append(keys, models.ReviewPermission(name))
		}
		if err := perms.Grant(ctx, u.profile.ID, keys...); err != nil {
			fmt.Fprintf(os.Stderr, "failed to seed permissions: %v\n", err)
			os.Exit(1)
		}
	}
	// cached plant lists predate the seed
	_ = utils.RemoveRedisList[models.Plant](ctx, "")

	fmt.Printf("Seeded %d users, %d plants, %d operators, %d mixers\n", len(seedUsers), len(seedPlants), len(seedOperators), len(seedMixers))
	for _, u := range seedUsers {
		token, err := utils.JwtGenerate(u.profile.ID, u.profile.DisplayName())
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to sign token for %s: %v\n", u.profile.Email, err)
			continue
		}
		fmt.Printf("%-20s %s\n", u.profile.Email, token)
	}
}

package models

import (
	"log"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&UserProfile{}, &UserPermission{},
		&Operator{}, &Mixer{}, &Plant{},
		&SubmittedReport{},
	)
	if err != nil {
		log.Fatal(err)
	}
}

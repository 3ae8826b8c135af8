package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

type UserProfile struct {
	ID        string    `gorm:"primary_key;size:36" json:"id"`
	FirstName string    `gorm:"size:100" json:"first_name"`
	LastName  string    `gorm:"size:100" json:"last_name"`
	Email     string    `gorm:"size:150;index" json:"email"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (UserProfile) TableName() string { return "profiles" }

// DisplayName is "First Last", falling back to the email and then the id.
func (p UserProfile) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(p.FirstName) + " " + strings.TrimSpace(p.LastName))
	if name != "" {
		return name
	}
	if p.Email != "" {
		return p.Email
	}
	return p.ID
}

func ListUserProfiles(ctx context.Context, db *gorm.DB) ([]UserProfile, error) {
	if db == nil {
		return nil, fmt.Errorf("list profiles: db is nil")
	}
	var profiles []UserProfile
	if err := db.WithContext(ctx).Order("first_name, last_name, id").Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	return profiles, nil
}

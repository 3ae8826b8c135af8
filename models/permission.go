package models

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Permission keys are "<domain>.<action>.<subtype>", e.g. reports.assigned.plant_manager.
const (
	PermissionDomainReports  = "reports"
	PermissionActionAssigned = "assigned"
	PermissionActionReview   = "review"
)

func AssignedPermission(reportName string) string {
	return PermissionDomainReports + "." + PermissionActionAssigned + "." + reportName
}

func ReviewPermission(reportName string) string {
	return PermissionDomainReports + "." + PermissionActionReview + "." + reportName
}

// PermissionSet is the resolved set of permission keys held by one user.
type PermissionSet map[string]struct{}

func NewPermissionSet(keys ...string) PermissionSet {
	s := make(PermissionSet, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k != "" {
			s[k] = struct{}{}
		}
	}
	return s
}

func (s PermissionSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

func (s PermissionSet) HasAny(keys []string) bool {
	for _, k := range keys {
		if s.Has(k) {
			return true
		}
	}
	return false
}

func (s PermissionSet) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// UserPermission is one granted key. Rows are managed by the admin tooling; Grant is for seeding.
type UserPermission struct {
	ID         int       `gorm:"primary_key" json:"id"`
	UserId     string    `gorm:"size:36;not null;uniqueIndex:idx_user_permission,priority:1" json:"user_id"`
	Permission string    `gorm:"size:150;not null;uniqueIndex:idx_user_permission,priority:2" json:"permission"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// PermissionChecker answers capability questions for a user.
type PermissionChecker interface {
	HasAny(ctx context.Context, userId string, keys []string) (bool, error)
}

// PermissionLookup is what the overdue computation needs from the identity side.
type PermissionLookup interface {
	GetUserPermissions(ctx context.Context, userId string) (PermissionSet, error)
	GetAllUserProfiles(ctx context.Context) ([]UserProfile, error)
}

/*
cache
	Permissions:User:$userId
*/

func permissionCacheKey(userId string) string {
	return "Permissions:User:" + userId
}

// PermissionStore reads permissions and profiles from the database, caching
// permission sets in redis for the report cache TTL.
type PermissionStore struct {
	db *gorm.DB
}

func NewPermissionStore(db *gorm.DB) *PermissionStore {
	return &PermissionStore{db: db}
}

func (s *PermissionStore) GetUserPermissions(ctx context.Context, userId string) (PermissionSet, error) {
	if strings.TrimSpace(userId) == "" {
		return PermissionSet{}, nil
	}

	var keys []string
	cached := false
	if config.ReportCacheEnabled() {
		exists, err := config.GetRedisObject(ctx, permissionCacheKey(userId), &keys)
		if err != nil {
			config.LogError(config.GetLogger(), "permission.go", "GetUserPermissions", "redis get", userId, err)
		}
		cached = exists && err == nil
	}

	if !cached {
		if s.db == nil {
			return nil, fmt.Errorf("permission store: db is nil")
		}
		if err := s.db.WithContext(ctx).Model(&UserPermission{}).
			Where("user_id = ?", userId).
			Pluck("permission", &keys).Error; err != nil {
			return nil, fmt.Errorf("load permissions for %s: %w", userId, err)
		}
		if config.ReportCacheEnabled() {
			if err := config.SetRedisObject(ctx, permissionCacheKey(userId), keys, config.ReportCacheTTL()); err != nil {
				config.LogError(config.GetLogger(), "permission.go", "GetUserPermissions", "redis set", userId, err)
			}
		}
	}
	return NewPermissionSet(keys...), nil
}

func (s *PermissionStore) GetAllUserProfiles(ctx context.Context) ([]UserProfile, error) {
	return ListUserProfiles(ctx, s.db)
}

// Grant upserts permission keys for userId and drops the cached set.
func (s *PermissionStore) Grant(ctx context.Context, userId string, keys ...string) error {
	rows := make([]UserPermission, 0, len(keys))
	for _, k := range NewPermissionSet(keys...).Keys() {
		rows = append(rows, UserPermission{UserId: userId, Permission: k})
	}
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error; err != nil {
		return fmt.Errorf("grant permissions to %s: %w", userId, err)
	}
	return s.InvalidateUser(ctx, userId)
}

func (s *PermissionStore) InvalidateUser(ctx context.Context, userId string) error {
	return config.RemoveRedisKey(ctx, permissionCacheKey(userId))
}

func (s *PermissionStore) HasAny(ctx context.Context, userId string, keys []string) (bool, error) {
	perms, err := s.GetUserPermissions(ctx, userId)
	if err != nil {
		return false, err
	}
	return perms.HasAny(keys), nil
}

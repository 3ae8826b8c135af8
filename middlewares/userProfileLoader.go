package middlewares

import (
	"context"

	"bitbucket.org/mmdatafocus/fleet_backend/models"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type userProfileReader struct {
	db *gorm.DB
}

func (r *userProfileReader) getUserProfiles(ctx context.Context, ids []string) []*dataloader.Result[*models.UserProfile] {
	var results []models.UserProfile

	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.UserProfile](len(ids), err)
	}
	return generateLoaderResults(results, ids)
}

// GetUserProfiles returns many profiles by ids efficiently
func GetUserProfiles(ctx context.Context, ids []string) ([]*models.UserProfile, []error) {
	loaders := For(ctx)
	return loaders.UserProfileLoader.LoadMany(ctx, ids)()
}

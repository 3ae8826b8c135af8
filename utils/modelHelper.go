package utils

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

/* DB fetching */

// fetch model by primary key
// (may return RecordNotFound)
func FetchModel[T any](ctx context.Context, db *gorm.DB, id any, associations ...string) (*T, error) {
	dbCtx := db.WithContext(ctx)
	// preloading
	for _, field := range associations {
		dbCtx = dbCtx.Preload(field)
	}
	var result T
	if err := dbCtx.Where("id = ?", id).First(&result).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrorRecordNotFound
		}
		return nil, err
	}
	return &result, nil
}

// fetch all rows of T, optionally ordered
func FetchAllModels[T any](ctx context.Context, db *gorm.DB, orderBy string) ([]*T, error) {
	dbCtx := db.WithContext(ctx)
	if orderBy != "" {
		dbCtx = dbCtx.Order(orderBy)
	}
	var results []*T
	if err := dbCtx.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

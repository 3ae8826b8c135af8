package middlewares

import (
	"context"

	"bitbucket.org/mmdatafocus/fleet_backend/models"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type operatorReader struct {
	db *gorm.DB
}

func (r *operatorReader) getOperators(ctx context.Context, ids []string) []*dataloader.Result[*models.Operator] {
	var results []models.Operator

	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&results).Error
	if err != nil {
		return handleError[*models.Operator](len(ids), err)
	}
	return generateLoaderResults(results, ids)
}

// GetOperatorOptions resolves operator ids to name options, skipping lookups that failed.
func GetOperatorOptions(ctx context.Context, ids []string) []models.OperatorOption {
	if len(ids) == 0 {
		return nil
	}
	loaders := For(ctx)
	if loaders == nil {
		return nil
	}
	operators, _ := loaders.OperatorLoader.LoadMany(ctx, ids)()
	options := make([]models.OperatorOption, 0, len(operators))
	for _, o := range operators {
		if o != nil {
			options = append(options, o.Option())
		}
	}
	return options
}

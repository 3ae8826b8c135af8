package middlewares

import (
	"context"
	"reflect"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/models"
	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"gorm.io/gorm"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// Loaders wrap your data loaders to inject via middleware
type Loaders struct {
	UserProfileLoader *dataloader.Loader[string, *models.UserProfile]
	OperatorLoader    *dataloader.Loader[string, *models.Operator]
}

// NewLoaders instantiates data loaders for the middleware
func NewLoaders(conn *gorm.DB) *Loaders {
	profileReader := &userProfileReader{db: conn}
	operatorReader := &operatorReader{db: conn}

	return &Loaders{
		UserProfileLoader: dataloader.NewBatchedLoader(profileReader.getUserProfiles, dataloader.WithWait[string, *models.UserProfile](time.Millisecond)),
		OperatorLoader:    dataloader.NewBatchedLoader(operatorReader.getOperators, dataloader.WithWait[string, *models.Operator](time.Millisecond)),
	}
}

// LoaderMiddleware gives every request its own loaders so batches never cross requests.
func LoaderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		db := config.GetDB()
		if db == nil {
			c.Next()
			return
		}
		ctx := WithLoaders(c.Request.Context(), NewLoaders(db))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func WithLoaders(ctx context.Context, loaders *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey, loaders)
}

// For returns the request's loaders, or nil outside LoaderMiddleware.
func For(ctx context.Context) *Loaders {
	loaders, _ := ctx.Value(loadersKey).(*Loaders)
	return loaders
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

// turns results from db into dataloader results, in the order of ids
// (T must be a struct)
func generateLoaderResults[T models.Data](results []T, ids []string) []*dataloader.Result[*T] {
	resultMap := make(map[string]T, len(results))
	for _, result := range results {
		resultMap[result.GetId()] = result
	}

	loaderResults := make([]*dataloader.Result[*T], 0, len(ids))
	for _, id := range ids {
		data := resultMap[id]
		if reflect.ValueOf(data).IsZero() {
			data = data.GetDefault(id).(T)
		}
		loaderResults = append(loaderResults, &dataloader.Result[*T]{Data: &data})
	}
	return loaderResults
}

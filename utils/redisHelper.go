package utils

import (
	"context"
	"reflect"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
)

/* generic functions */

func GetTypeName[T any]() string {
	var v T
	return reflect.TypeOf(v).Name()
}

/* Redis lists, keyed TypeList or TypeList:$scope */

func listKey[T any](scope string) string {
	if scope == "" {
		return GetTypeName[T]() + "List"
	}
	return GetTypeName[T]() + "List:" + scope
}

func StoreRedisList[T any](ctx context.Context, list []*T, scope string, exp time.Duration) error {
	return config.SetRedisObject(ctx, listKey[T](scope), list, exp)
}

// returns nil if does not exist
func RetrieveRedisList[T any](ctx context.Context, scope string) ([]*T, error) {
	var result []*T
	exists, err := config.GetRedisObject(ctx, listKey[T](scope), &result)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	return result, nil
}

func RemoveRedisList[T any](ctx context.Context, scope string) error {
	return config.RemoveRedisKey(ctx, listKey[T](scope))
}

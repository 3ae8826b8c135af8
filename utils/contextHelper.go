package utils

import (
	"context"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/appctx"
)

// Alias the shared context key type so existing code keeps working.
type contextKey = appctx.ContextKey

var (
	ContextKeyToken         = appctx.ContextKeyToken
	ContextKeyUserId        = appctx.ContextKeyUserId
	ContextKeyUserName      = appctx.ContextKeyUserName
	ContextKeyCorrelationId = appctx.ContextKeyCorrelationId
	ContextKeyRequestTime   = appctx.ContextKeyRequestTime
)

func GetUserIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserId)
}

func GetUserNameFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyUserName)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return appctx.GetString(ctx, ContextKeyCorrelationId)
}

func SetTokenInContext(ctx context.Context, token string) context.Context {
	return appctx.Set(ctx, ContextKeyToken, token)
}

func SetUserIdInContext(ctx context.Context, userId string) context.Context {
	return appctx.Set(ctx, ContextKeyUserId, userId)
}

func SetUserNameInContext(ctx context.Context, userName string) context.Context {
	return appctx.Set(ctx, ContextKeyUserName, userName)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return appctx.Set(ctx, ContextKeyCorrelationId, correlationId)
}

func SetRequestTimeInContext(ctx context.Context, t time.Time) context.Context {
	return appctx.Set(ctx, ContextKeyRequestTime, t)
}

// GetRequestTimeFromContext returns the pinned request time, or time.Now() when none was set.
func GetRequestTimeFromContext(ctx context.Context) time.Time {
	if t, ok := appctx.GetAny[time.Time](ctx, ContextKeyRequestTime); ok && !t.IsZero() {
		return t
	}
	return time.Now()
}

package reports

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

// Cache stores report snapshots as JSON with a per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// redisCache is backed by the shared redis connection.
type redisCache struct{}

func (redisCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	return config.GetRedisObject(ctx, key, dest)
}

func (redisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return config.SetRedisObject(ctx, key, value, ttl)
}

func (redisCache) DeletePrefix(ctx context.Context, prefix string) error {
	return config.RemoveRedisPattern(ctx, prefix+"*")
}

type memoryEntry struct {
	payload []byte
	expires time.Time
}

// MemoryCache is the in-process fallback used when redis is not connected.
type MemoryCache struct {
	entries *lru.LRU[string, memoryEntry]
	now     func() time.Time
}

const (
	memoryCacheSize   = 512
	memoryCacheMaxTTL = 30 * time.Minute
)

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: lru.NewLRU[string, memoryEntry](memoryCacheSize, nil, memoryCacheMaxTTL),
		now:     time.Now,
	}
}

func (m *MemoryCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	entry, ok := m.entries.Get(key)
	if !ok {
		return false, nil
	}
	if !entry.expires.IsZero() && !m.now().Before(entry.expires) {
		m.entries.Remove(key)
		return false, nil
	}
	if err := json.Unmarshal(entry.payload, dest); err != nil {
		return false, err
	}
	return true, nil
}

func (m *MemoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	entry := memoryEntry{payload: payload}
	if ttl > 0 {
		entry.expires = m.now().Add(ttl)
	}
	m.entries.Add(key, entry)
	return nil
}

func (m *MemoryCache) DeletePrefix(ctx context.Context, prefix string) error {
	for _, key := range m.entries.Keys() {
		if strings.HasPrefix(key, prefix) {
			m.entries.Remove(key)
		}
	}
	return nil
}

var (
	defaultCache     Cache
	defaultCacheOnce sync.Once
)

// DefaultCache is redis when connected, otherwise a process-wide MemoryCache.
func DefaultCache() Cache {
	if config.GetRedisDB() != nil {
		return redisCache{}
	}
	defaultCacheOnce.Do(func() {
		defaultCache = NewMemoryCache()
	})
	return defaultCache
}

func logSlowReport(ctx context.Context, name string, started time.Time, extra logrus.Fields) {
	d := time.Since(started)
	if d < config.ReportSlowThreshold() {
		return
	}
	cid, _ := utils.GetCorrelationIdFromContext(ctx)
	fields := logrus.Fields{
		"report":         name,
		"ms":             d.Milliseconds(),
		"correlation_id": cid,
	}
	for k, v := range extra {
		fields[k] = v
	}
	config.GetLogger().WithFields(fields).Warn("slow_report")
}

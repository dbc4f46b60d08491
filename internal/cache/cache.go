package cache

import (
	"context"
	"time"
)

// BytesCache — минимальный контракт кэша "байты по ключу" с TTL.
// Кэш best-effort: промах и ошибка для вызывающего равнозначны.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}

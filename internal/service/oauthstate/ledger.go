package oauthstate

import (
	"context"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Ledger отмечает nonce из state как использованный.
// Consume возвращает false, если nonce уже встречался в пределах ttl.
type Ledger interface {
	Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// MemoryLedger - журнал nonce в памяти процесса
type MemoryLedger struct {
	cache *gocache.Cache
}

// NewMemoryLedger создает журнал; записи живут не дольше ttl
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryLedger{cache: gocache.New(ttl, 2*ttl)}
}

// Consume помечает nonce использованным
func (l *MemoryLedger) Consume(_ context.Context, nonce string, ttl time.Duration) (bool, error) {
	// Add атомарен: вторая вставка того же ключа возвращает ошибку
	if err := l.cache.Add(nonce, struct{}{}, ttl); err != nil {
		return false, nil
	}
	return true, nil
}

// RedisLedger - журнал nonce в Redis, общий для нескольких экземпляров
type RedisLedger struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisLedger создает журнал поверх готового клиента
func NewRedisLedger(client redis.UniversalClient) *RedisLedger {
	return &RedisLedger{client: client, prefix: "oauth:state:"}
}

// Consume помечает nonce использованным через SETNX
func (l *RedisLedger) Consume(ctx context.Context, nonce string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.prefix+nonce, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to record state nonce: %w", err)
	}
	return ok, nil
}

// NopLedger не ведет учет: повтор state в пределах TTL возможен
type NopLedger struct{}

func (NopLedger) Consume(context.Context, string, time.Duration) (bool, error) { return true, nil }

// Package lock 提供按 key 的互斥锁，用于保证同一仓库同一时刻只有一个启动流程
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	keyPrefix  = "lock:"
	DefaultTTL = 30 * time.Second
)

var ErrLockHeld = errors.New("lock is held by another caller")

// Locker 非阻塞的互斥锁：拿不到立即返回 ErrLockHeld
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// RedisLocker 基于 SET NX 的分布式锁，server 与 worker 多实例共享
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	fullKey := keyPrefix + key
	ok, err := l.rdb.SetNX(ctx, fullKey, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func() {
		// 只删除自己持有的锁，避免 TTL 过期后误删别人的锁
		bg := context.Background()
		err := l.rdb.Watch(bg, func(tx *redis.Tx) error {
			val, err := tx.Get(bg, fullKey).Result()
			if err == redis.Nil {
				return nil
			}
			if err != nil {
				return err
			}
			if val != token {
				return nil
			}
			_, err = tx.TxPipelined(bg, func(pipe redis.Pipeliner) error {
				pipe.Del(bg, fullKey)
				return nil
			})
			return err
		}, fullKey)
		if err != nil {
			log.Printf("Lock: release %s failed: %v", key, err)
		}
	}
	return release, nil
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// LocalLocker 进程内锁，未配置 Redis 时使用
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

func (l *LocalLocker) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrLockHeld
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

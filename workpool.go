package auth

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// WorkerPool bounds how many CPU heavy operations (bcrypt, token signing)
// run at once so they cannot starve request handling.
type WorkerPool struct {
	sem  *semaphore.Weighted
	size int64
}

// NewWorkerPool creates a pool with size slots, size <= 0 uses GOMAXPROCS
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = runtime.GOMAXPROCS(0)
	}
	return &WorkerPool{
		sem:  semaphore.NewWeighted(int64(size)),
		size: int64(size),
	}
}

// Size returns the number of slots
func (p *WorkerPool) Size() int {
	return int(p.size)
}

// Do runs fn once a slot is free. It returns ctx.Err() if the context ends
// while waiting for a slot.
func (p *WorkerPool) Do(ctx context.Context, fn func() error) error {
	if p == nil {
		return fn()
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn()
}

// pooledHasher runs a PasswordHasher through a WorkerPool
type pooledHasher struct {
	pool   *WorkerPool
	hasher PasswordHasher
}

func (h pooledHasher) hash(ctx context.Context, password string) (string, error) {
	var out string
	err := h.pool.Do(ctx, func() error {
		var err error
		out, err = h.hasher.HashPassword(password)
		return err
	})
	return out, err
}

func (h pooledHasher) compare(ctx context.Context, password, hash string) error {
	return h.pool.Do(ctx, func() error {
		return h.hasher.ComparePasswordAndHash(password, hash)
	})
}

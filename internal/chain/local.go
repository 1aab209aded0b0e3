package chain

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"
)

// SystemClock reads wall-clock time. It stands in for the chain clock when
// no RPC endpoint is configured.
type SystemClock struct {
	mu   sync.Mutex
	last uint64
}

func (c *SystemClock) Now(ctx context.Context) (uint64, error) {
	now := uint64(time.Now().Unix())
	c.mu.Lock()
	defer c.mu.Unlock()
	if now > c.last {
		c.last = now
	}
	return c.last, nil
}

// LocalRandom draws seeds from the operating system's entropy pool.
type LocalRandom struct {
	Size int
}

func (r LocalRandom) Seed(ctx context.Context) ([]byte, error) {
	size := r.Size
	if size <= 0 {
		size = 32
	}
	seed := make([]byte, size)
	if _, err := rand.Read(seed); err != nil {
		return nil, fmt.Errorf("read entropy: %w", err)
	}
	return seed, nil
}

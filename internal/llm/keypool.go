package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"spellcast/internal/domain"
)

// ErrAllKeysCoolingDown is returned by KeyPool.Next when no key is usable.
var ErrAllKeysCoolingDown = errors.New("keypool: all keys are cooling down")

// KeyPool hands out API keys round-robin. A key marked after a rate limit is
// skipped until its cooldown passes. Safe for concurrent use.
type KeyPool struct {
	keys     []string
	cooldown time.Duration
	now      func() time.Time

	mu    sync.Mutex
	next  int
	until []time.Time // per key; zero means usable
}

// NewKeyPool fails when keys is empty.
func NewKeyPool(keys []string, cooldown time.Duration) (*KeyPool, error) {
	if len(keys) == 0 {
		return nil, errors.New("keypool: at least one key is required")
	}
	return &KeyPool{
		keys:     keys,
		cooldown: cooldown,
		now:      time.Now,
		until:    make([]time.Time, len(keys)),
	}, nil
}

func (p *KeyPool) usable(i int, now time.Time) bool {
	return p.until[i].IsZero() || now.After(p.until[i])
}

// Next returns the next usable key and its index.
func (p *KeyPool) Next() (string, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	for step := range len(p.keys) {
		i := (p.next + step) % len(p.keys)
		if p.usable(i, now) {
			p.next = (i + 1) % len(p.keys)
			return p.keys[i], i, nil
		}
	}
	return "", -1, fmt.Errorf("%w (%d keys)", ErrAllKeysCoolingDown, len(p.keys))
}

// MarkCooldown benches the key at idx. Unknown indexes are ignored.
func (p *KeyPool) MarkCooldown(idx int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx >= 0 && idx < len(p.until) {
		p.until[idx] = p.now().Add(p.cooldown)
	}
}

func (p *KeyPool) Len() int { return len(p.keys) }

// Available counts keys not cooling down.
func (p *KeyPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	n := 0
	for i := range p.until {
		if p.usable(i, now) {
			n++
		}
	}
	return n
}

// isRateLimitError recognizes a 429 from a provider. Errors from other
// sources are matched on their text.
func isRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	var pe *domain.ProviderError
	if errors.As(err, &pe) {
		return pe.RateLimited()
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit")
}

// KeyPoolBrain holds one Brain per key of its pool. A call that hits a rate
// limit benches that key and is retried once on the next usable key.
type KeyPoolBrain struct {
	pool   *KeyPool
	brains []domain.Brain
}

func NewKeyPoolBrain(pool *KeyPool, brains []domain.Brain) (*KeyPoolBrain, error) {
	switch {
	case pool == nil:
		return nil, errors.New("keypool brain: pool must not be nil")
	case len(brains) == 0:
		return nil, errors.New("keypool brain: at least one brain is required")
	case pool.Len() != len(brains):
		return nil, fmt.Errorf("keypool brain: %d keys but %d brains", pool.Len(), len(brains))
	}
	return &KeyPoolBrain{pool: pool, brains: brains}, nil
}

func (k *KeyPoolBrain) StreamProcess(ctx context.Context, messages []domain.Message) (domain.ChunkStream, error) {
	return rotate(ctx, k, func(b domain.Brain) (domain.ChunkStream, error) {
		return b.StreamProcess(ctx, messages)
	})
}

func (k *KeyPoolBrain) SingleResponse(ctx context.Context, messages []domain.Message) (string, error) {
	return rotate(ctx, k, func(b domain.Brain) (string, error) {
		return b.SingleResponse(ctx, messages)
	})
}

func rotate[T any](ctx context.Context, k *KeyPoolBrain, call func(domain.Brain) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	_, idx, err := k.pool.Next()
	if err != nil {
		return zero, err
	}
	out, err := call(k.brains[idx])
	if !isRateLimitError(err) {
		return out, err
	}
	k.pool.MarkCooldown(idx)
	_, retryIdx, nextErr := k.pool.Next()
	if nextErr != nil {
		return zero, fmt.Errorf("%w after rate limit: %w", nextErr, err)
	}
	return call(k.brains[retryIdx])
}

var _ domain.Brain = (*KeyPoolBrain)(nil)

package cache

import (
	"context"
	"errors"
)

const checkpointPrefix = "checkpoint:"

// Checkpoints stores change stream resume tokens without expiry.
type Checkpoints struct {
	cache Cache
}

// NewCheckpoints creates a checkpoint store over c.
func NewCheckpoints(c Cache) *Checkpoints {
	return &Checkpoints{cache: c}
}

// Load returns the saved token for name, or nil when none exists.
func (p *Checkpoints) Load(ctx context.Context, name string) ([]byte, error) {
	token, err := p.cache.Get(ctx, checkpointPrefix+name)
	if errors.Is(err, ErrCacheMiss) {
		return nil, nil
	}
	return token, err
}

// Save replaces the token for name.
func (p *Checkpoints) Save(ctx context.Context, name string, token []byte) error {
	return p.cache.Set(ctx, checkpointPrefix+name, token, -1)
}

// Reset forgets the token for name so the next run starts from the stream's end.
func (p *Checkpoints) Reset(ctx context.Context, name string) error {
	return p.cache.Delete(ctx, checkpointPrefix+name)
}

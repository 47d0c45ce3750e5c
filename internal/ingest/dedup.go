package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bargom/errledger/internal/cache"
)

// DefaultClaimTTL is how long an applied event id is remembered.
const DefaultClaimTTL = 24 * time.Hour

const claimPrefix = "event:"

// Deduper claims event ids so that a redelivered event is applied at most once
// within the claim window.
type Deduper struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewDeduper creates a Deduper over c. A non-positive ttl uses DefaultClaimTTL.
func NewDeduper(c cache.Cache, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = DefaultClaimTTL
	}
	return &Deduper{cache: c, ttl: ttl}
}

// Claim tries to take eventID. ok is false when another delivery of the same
// event holds it; otherwise owner identifies this claim for Release.
func (d *Deduper) Claim(ctx context.Context, eventID string) (owner string, ok bool, err error) {
	owner = uuid.NewString()
	ok, err = d.cache.SetNX(ctx, claimPrefix+eventID, []byte(owner), d.ttl)
	if err != nil {
		return "", false, fmt.Errorf("claim event %s: %w", eventID, err)
	}
	return owner, ok, nil
}

// Release drops the claim on eventID so a later redelivery can apply it. A
// claim that expired and was taken by another delivery is left in place.
func (d *Deduper) Release(ctx context.Context, eventID, owner string) error {
	if _, err := d.cache.DeleteIfValue(ctx, claimPrefix+eventID, []byte(owner)); err != nil {
		return fmt.Errorf("release event %s: %w", eventID, err)
	}
	return nil
}

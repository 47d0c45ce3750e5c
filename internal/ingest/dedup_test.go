package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeduper_ReleaseRequiresOwner(t *testing.T) {
	ctx := context.Background()
	d := newRedisDeduper(t)

	owner, ok, err := d.Claim(ctx, "evt-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEmpty(t, owner)

	_, ok, err = d.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, ok, "held by the first delivery")

	require.NoError(t, d.Release(ctx, "evt-1", "stale-owner"))
	_, ok, err = d.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, ok, "a stale owner cannot drop the claim")

	require.NoError(t, d.Release(ctx, "evt-1", owner))
	_, ok, err = d.Claim(ctx, "evt-1")
	require.NoError(t, err)
	assert.True(t, ok, "released by its owner")
}

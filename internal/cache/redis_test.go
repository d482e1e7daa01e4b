package cache

import (
	"context"
	"testing"
	"time"

	"example.com/backstage/contacts/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDisabledCache(t *testing.T) {
	c, err := NewRedisCache(config.RedisConfig{Enabled: false})
	require.NoError(t, err)
	ctx := context.Background()

	assert.False(t, c.Enabled())
	assert.ErrorIs(t, c.Set(ctx, "k", 1, time.Minute), ErrDisabled)

	var v int
	assert.ErrorIs(t, c.Get(ctx, "k", &v), ErrDisabled)
	assert.NoError(t, c.Delete(ctx, "k"))
	assert.NoError(t, c.Ping(ctx))
	assert.NoError(t, c.Close())
}

func TestContactKey(t *testing.T) {
	assert.Equal(t, "contact:abc", ContactKey("abc"))
}

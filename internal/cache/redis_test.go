package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_AcceptsURLAndAddr(t *testing.T) {
	c, err := NewClient("redis://localhost:6390/2")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6390", c.Options().Addr)
	assert.Equal(t, 2, c.Options().DB)
	_ = c.Close()

	c, err = NewClient("localhost:6391")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6391", c.Options().Addr)
	_ = c.Close()

	_, err = NewClient("redis://%zz")
	assert.Error(t, err)
}

func TestInitRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	InitRedis(mr.Addr())
	require.NotNil(t, GetClient())
	assert.NoError(t, Ping(context.Background(), GetClient()))

	mr.Close()
	InitRedis(mr.Addr())
	assert.Nil(t, GetClient())
	assert.Error(t, Ping(context.Background(), GetClient()))
}

package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/felimargom/ppss/internal/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPingWithoutClient(t *testing.T) {
	assert.Error(t, Ping(context.Background(), nil))
}

func TestSetupCache(t *testing.T) {
	mr := miniredis.RunT(t)

	c := SetupCache(config.CacheConfig{Host: mr.Host(), Port: mr.Port()})
	require.NotNil(t, c)
	t.Cleanup(func() { _ = c.Close() })
	assert.NoError(t, Ping(context.Background(), c))

	mr.Close()
	assert.Error(t, Ping(context.Background(), c))
}

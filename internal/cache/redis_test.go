package cache_test

import (
	"testing"

	"credential-authorizer/internal/cache"
	"credential-authorizer/internal/handoff"
	"credential-authorizer/internal/middleware"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var (
	_ handoff.PubSub         = (*cache.Cache)(nil)
	_ middleware.RateLimiter = (*cache.Cache)(nil)
)

func TestNewCacheInvalidURL(t *testing.T) {
	_, err := cache.NewCache("not-a-redis-url", zap.NewNop())
	assert.Error(t, err)
}

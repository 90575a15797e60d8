package middleware

import (
	"fmt"
	"net/http"

	"github.com/benvon/letmeask/internal/request"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	stdlibmw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
)

// DefaultSignInRate bounds how often one client may start or complete a
// sign-in.
const DefaultSignInRate = "10-M"

// RateLimit returns middleware that limits requests per client IP using
// ulule/limiter with a Redis store. rate uses the limiter format, e.g. "10-M".
func RateLimit(redisClient *redis.Client, rate, prefix string) (func(http.Handler) http.Handler, error) {
	if rate == "" {
		rate = DefaultSignInRate
	}
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, fmt.Errorf("invalid rate %q: %w", rate, err)
	}
	store, err := redisstore.NewStoreWithOptions(redisClient, limiter.StoreOptions{
		Prefix: prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limit store: %w", err)
	}
	instance := limiter.New(store, parsed)
	keyGetter := func(r *http.Request) string {
		return request.ClientIP(r)
	}
	mw := stdlibmw.NewMiddleware(instance, stdlibmw.WithKeyGetter(keyGetter))
	return mw.Handler, nil
}

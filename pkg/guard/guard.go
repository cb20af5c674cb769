// Package guard serializes exports that write the same sheet across
// processes, using a Redis key per sheet as a lease.
//
// A lease is taken with SET NX and a TTL, so a crashed exporter blocks the
// sheet for at most the TTL. Release only deletes the key while it still
// holds the token written at acquisition.
package guard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var lockConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "export_lock_conflicts_total",
	Help: "Total export runs refused because the sheet was locked",
}, []string{"sheet"})

// KeyPrefix namespaces lock keys.
const KeyPrefix = "price-exporter:lock:"

// DefaultTTL bounds how long a lease outlives a crashed exporter.
const DefaultTTL = 10 * time.Minute

var (
	// ErrLocked is returned by Acquire while another run holds the sheet.
	ErrLocked = errors.New("sheet is locked by another export")

	// ErrLeaseLost is returned by a release after the lease expired.
	ErrLeaseLost = errors.New("lease expired before release")
)

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Guard hands out per-sheet leases.
type Guard struct {
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// New creates a Guard. A non-positive ttl uses DefaultTTL.
func New(redisClient *redis.Client, ttl time.Duration, logger zerolog.Logger) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{
		redis:  redisClient,
		ttl:    ttl,
		logger: logger,
	}
}

// NewClient connects to Redis from a redis:// URL and checks the connection.
func NewClient(ctx context.Context, rawURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Key returns the Redis key guarding a sheet.
func Key(sheet string) string {
	return KeyPrefix + sheet
}

// Acquire takes the lease on sheet. The returned function releases it.
func (g *Guard) Acquire(ctx context.Context, sheet string) (func(context.Context) error, error) {
	token := uuid.NewString()
	key := Key(sheet)

	ok, err := g.redis.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		lockConflictsTotal.WithLabelValues(sheet).Inc()
		g.logger.Warn().Str("sheet", sheet).Msg("Export refused, sheet is locked")
		return nil, fmt.Errorf("%w: %s", ErrLocked, sheet)
	}

	g.logger.Debug().
		Str("sheet", sheet).
		Str("token", token).
		Dur("ttl", g.ttl).
		Msg("Lock acquired")

	release := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, g.redis, []string{key}, token).Int()
		if err != nil {
			return fmt.Errorf("release lock %s: %w", key, err)
		}
		if n == 0 {
			return fmt.Errorf("release lock %s: %w", key, ErrLeaseLost)
		}
		g.logger.Debug().Str("sheet", sheet).Msg("Lock released")
		return nil
	}
	return release, nil
}

// Locked reports whether sheet is currently leased.
func (g *Guard) Locked(ctx context.Context, sheet string) (bool, error) {
	n, err := g.redis.Exists(ctx, Key(sheet)).Result()
	if err != nil {
		return false, fmt.Errorf("check lock: %w", err)
	}
	return n > 0, nil
}

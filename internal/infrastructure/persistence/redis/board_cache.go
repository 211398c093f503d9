// Package redis implements Redis-backed caching for the board snapshot.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/cubetribe/klassenbuch-server/internal/application/query"
	"github.com/cubetribe/klassenbuch-server/pkg/logger"
)

// DefaultBoardTTL caps how stale a cached snapshot can get even if an
// invalidation is lost.
const DefaultBoardTTL = 30 * time.Second

// BoardCache implements query.BoardCache on Redis. Every write command
// invalidates the course's entry; the TTL is a backstop, not the primary
// freshness mechanism.
type BoardCache struct {
	client *goredis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewBoardCache creates a BoardCache. A zero ttl uses DefaultBoardTTL.
func NewBoardCache(client *goredis.Client, ttl time.Duration, log *logger.Logger) *BoardCache {
	if ttl <= 0 {
		ttl = DefaultBoardTTL
	}
	return &BoardCache{
		client: client,
		ttl:    ttl,
		log:    log.With(logger.Component("board_cache")),
	}
}

func boardKey(courseID string) string {
	return fmt.Sprintf("klassenbuch:board:%s", courseID)
}

// Get returns the cached snapshot, or (nil, nil) on a miss.
func (c *BoardCache) Get(ctx context.Context, courseID string) (*query.BoardSnapshot, error) {
	raw, err := c.client.Get(ctx, boardKey(courseID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("board cache get: %w", err)
	}

	var snapshot query.BoardSnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		// A payload this node cannot decode (schema drift during deploy)
		// counts as a miss; the entry gets overwritten on the next Set.
		c.log.Warn("dropping undecodable board cache entry",
			logger.CourseID(courseID),
			logger.Err(err),
		)
		return nil, nil
	}
	return &snapshot, nil
}

// Set stores the snapshot under the course key.
func (c *BoardCache) Set(ctx context.Context, courseID string, snapshot *query.BoardSnapshot) error {
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("board cache encode: %w", err)
	}
	if err := c.client.Set(ctx, boardKey(courseID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("board cache set: %w", err)
	}
	return nil
}

// Invalidate drops the course's entry. Implements command.BoardInvalidator.
func (c *BoardCache) Invalidate(ctx context.Context, courseID string) error {
	if err := c.client.Del(ctx, boardKey(courseID)).Err(); err != nil {
		return fmt.Errorf("board cache invalidate: %w", err)
	}
	return nil
}

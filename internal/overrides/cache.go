// Package overrides keeps the per-channel spam filter policy in a
// write-through TTL cache in front of durable storage.
package overrides

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

// Option is the spam filter policy for a single channel. A channel with no
// stored override behaves as Default.
type Option int

const (
	Default Option = iota
	AlwaysFilter
	NeverFilter
)

func (o Option) String() string {
	switch o {
	case AlwaysFilter:
		return "always_filter"
	case NeverFilter:
		return "never_filter"
	default:
		return "default"
	}
}

func ParseOption(value string) (Option, error) {
	switch value {
	case "default", "":
		return Default, nil
	case "always_filter":
		return AlwaysFilter, nil
	case "never_filter":
		return NeverFilter, nil
	default:
		return Default, fmt.Errorf("overrides: unknown option %q", value)
	}
}

// Store is the durable backing for channel overrides. An absent row reports
// found=false and means Default.
type Store interface {
	GetSpamOverride(ctx context.Context, channelID string) (option string, found bool, err error)
	UpsertSpamOverride(ctx context.Context, channelID, guildID, option string) error
	DeleteSpamOverride(ctx context.Context, channelID string) error
}

type Cache struct {
	store   Store
	logger  *zap.Logger
	entries *expirable.LRU[string, Option]
}

// NewCache builds an override cache holding up to size entries for ttl each.
// Writes replace the cached value immediately; reads repopulate on miss or
// expiry. Concurrent cold misses for the same channel may each hit the store.
func NewCache(store Store, logger *zap.Logger, size int, ttl time.Duration) *Cache {
	if size <= 0 {
		size = 1024
	}
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Cache{
		store:   store,
		logger:  logger,
		entries: expirable.NewLRU[string, Option](size, nil, ttl),
	}
}

// Policy returns the effective override for a channel. Storage failures are
// reported as Default so a flaky database never blocks message handling.
func (c *Cache) Policy(ctx context.Context, channelID string) Option {
	if option, ok := c.entries.Get(channelID); ok {
		return option
	}

	value, found, err := c.store.GetSpamOverride(ctx, channelID)
	if err != nil {
		c.logger.Warn("override lookup failed", zap.String("channel_id", channelID), zap.Error(err))
		return Default
	}

	option := Default
	if found {
		option, err = ParseOption(value)
		if err != nil {
			c.logger.Warn("stored override invalid", zap.String("channel_id", channelID), zap.Error(err))
			option = Default
		}
	}

	c.entries.Add(channelID, option)
	return option
}

// Set writes an override through to storage and refreshes the cache entry.
func (c *Cache) Set(ctx context.Context, channelID, guildID string, option Option) error {
	if err := c.store.UpsertSpamOverride(ctx, channelID, guildID, option.String()); err != nil {
		return err
	}
	c.entries.Add(channelID, option)
	return nil
}

// Remove deletes a channel's override; subsequent reads see Default without
// waiting for the TTL.
func (c *Cache) Remove(ctx context.Context, channelID string) error {
	if err := c.store.DeleteSpamOverride(ctx, channelID); err != nil {
		return err
	}
	c.entries.Add(channelID, Default)
	return nil
}

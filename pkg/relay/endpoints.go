// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"
)

// DefaultEndpointName is the reserved name that marks this system's proxy
// endpoints among the other integrations on a channel.
const DefaultEndpointName = "MirrorRelay"

// EndpointCache resolves the proxy endpoint of a destination channel,
// creating it on first use. Entries are never evicted.
type EndpointCache struct {
	platform Platform
	name     string
	log      zerolog.Logger

	cache  *exsync.Map[string, Endpoint]
	guards *exsync.Map[string, *sync.Mutex]
}

// NewEndpointCache returns an empty cache that resolves endpoints named name.
func NewEndpointCache(platform Platform, name string, log zerolog.Logger) *EndpointCache {
	if name == "" {
		name = DefaultEndpointName
	}
	return &EndpointCache{
		platform: platform,
		name:     name,
		log:      log.With().Str("component", "endpoint_cache").Logger(),
		cache:    exsync.NewMap[string, Endpoint](),
		guards:   exsync.NewMap[string, *sync.Mutex](),
	}
}

// guard returns the mutex serializing endpoint creation for one channel.
// Misses on different channels resolve in parallel.
func (ec *EndpointCache) guard(channelID string) *sync.Mutex {
	if mu, ok := ec.guards.Get(channelID); ok {
		return mu
	}
	mu, _ := ec.guards.GetOrSet(channelID, &sync.Mutex{})
	return mu
}

// GetOrCreate returns the cached endpoint for channelID, else an existing
// endpoint with the reserved name, else a newly created one.
func (ec *EndpointCache) GetOrCreate(ctx context.Context, channelID string) (Endpoint, error) {
	if ep, ok := ec.cache.Get(channelID); ok {
		return ep, nil
	}

	mu := ec.guard(channelID)
	mu.Lock()
	defer mu.Unlock()
	if ep, ok := ec.cache.Get(channelID); ok {
		return ep, nil
	}

	existing, err := ec.platform.ListEndpoints(ctx, channelID)
	if err != nil {
		return Endpoint{}, fmt.Errorf("failed to list endpoints for channel %s: %w", channelID, err)
	}
	for _, ep := range existing {
		if ep.Name == ec.name {
			ec.cache.Set(channelID, ep)
			ec.log.Debug().Str("channel_id", channelID).Str("endpoint_id", ep.ID).Msg("Reusing existing endpoint")
			return ep, nil
		}
	}

	ep, err := ec.platform.CreateEndpoint(ctx, channelID, ec.name)
	if err != nil {
		return Endpoint{}, fmt.Errorf("failed to create endpoint for channel %s: %w", channelID, err)
	}
	ec.cache.Set(channelID, ep)
	endpointsCreated.Inc()
	ec.log.Info().Str("channel_id", channelID).Str("endpoint_id", ep.ID).Msg("Created endpoint")
	return ep, nil
}


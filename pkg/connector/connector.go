// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-mirror/pkg/relay"
)

// MirrorConnector wires the Mattermost client, the relay engine and the
// admin API into one running service.
type MirrorConnector struct {
	Config *Config
	Client *Client
	Engine *relay.Engine

	server *http.Server
	log    zerolog.Logger
}

// NewMirrorConnector builds the service from a loaded config. Nothing is
// started until Start is called.
func NewMirrorConnector(cfg *Config, log zerolog.Logger) (*MirrorConnector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := NewClient(cfg, log)
	store := relay.NewStore(cfg.ConfigDir(), log)
	engine := relay.NewEngine(client, store, log, relay.Options{EndpointName: cfg.EndpointName})

	relay.RegisterMetrics()
	server := &http.Server{
		Addr:         cfg.AdminAPIAddr,
		Handler:      relay.NewAPI(engine, log).Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return &MirrorConnector{
		Config: cfg,
		Client: client,
		Engine: engine,
		server: server,
		log:    log,
	}, nil
}

// Start serves the admin API and connects to Mattermost. Inbound posts are
// relayed from then on.
func (mc *MirrorConnector) Start(ctx context.Context) error {
	go func() {
		mc.log.Info().Str("addr", mc.server.Addr).Msg("Starting admin API")
		if err := mc.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mc.log.Error().Err(err).Msg("Admin API error")
		}
	}()

	if err := mc.Client.Connect(ctx, mc.Engine); err != nil {
		_ = mc.server.Close()
		return fmt.Errorf("failed to connect to Mattermost: %w", err)
	}
	return nil
}

// Stop disconnects from Mattermost, stops the admin API and waits for
// scheduled deliveries and copy jobs to finish.
func (mc *MirrorConnector) Stop(ctx context.Context) {
	mc.Client.Disconnect()
	if err := mc.server.Shutdown(ctx); err != nil {
		mc.log.Warn().Err(err).Msg("Failed to shut down admin API cleanly")
	}

	done := make(chan struct{})
	go func() {
		mc.Engine.Shutdown()
		close(done)
	}()
	select {
	case <-done:
		mc.log.Info().Msg("All pending deliveries finished")
	case <-ctx.Done():
		mc.log.Warn().Msg("Gave up waiting for pending deliveries")
	}
}

// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// Reporter notifies a tenant's error channel about failures. It never
// returns an error; problems while notifying are only logged.
type Reporter struct {
	platform Platform
	ledger   *Ledger
	log      zerolog.Logger
}

// NewReporter creates a reporter that reads error destinations through
// the ledger.
func NewReporter(platform Platform, ledger *Ledger, log zerolog.Logger) *Reporter {
	return &Reporter{
		platform: platform,
		ledger:   ledger,
		log:      log.With().Str("component", "error_reporter").Logger(),
	}
}

// Report logs message and, if the tenant has a resolvable error channel,
// posts it there.
func (r *Reporter) Report(ctx context.Context, tenantID, message string) {
	r.log.Error().Str("tenant_id", tenantID).Str("error", message).Msg("Relay error")
	if tenantID == "" {
		return
	}

	cfg, err := r.ledger.Read(tenantID)
	if err != nil {
		if !errors.Is(err, ErrNotSetUp) {
			r.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Failed to load config for error report")
		}
		return
	}
	if cfg.ErrorDestination == "" {
		return
	}

	exists, err := r.platform.ChannelExists(ctx, cfg.ErrorDestination)
	if err != nil {
		r.log.Warn().Err(err).
			Str("tenant_id", tenantID).
			Str("channel_id", cfg.ErrorDestination).
			Msg("Failed to resolve error channel")
		return
	} else if !exists {
		return
	}

	if err := r.platform.PostNotice(ctx, cfg.ErrorDestination, formatErrorNotice(message)); err != nil {
		r.log.Error().Err(err).
			Str("tenant_id", tenantID).
			Str("channel_id", cfg.ErrorDestination).
			Msg("Failed to send error to channel")
	}
}

func formatErrorNotice(message string) string {
	return "⚠️ Relay error:\n" + message
}

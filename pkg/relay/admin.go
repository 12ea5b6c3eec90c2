// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

func (e *Engine) requireChannel(ctx context.Context, channelID string) error {
	if channelID == "" {
		return ErrChannelNotFound
	}
	exists, err := e.platform.ChannelExists(ctx, channelID)
	if err != nil {
		return fmt.Errorf("failed to resolve channel %s: %w", channelID, err)
	} else if !exists {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, channelID)
	}
	return nil
}

// Setup creates the configuration of a new tenant with the given error
// channel.
func (e *Engine) Setup(ctx context.Context, tenantID, errorChannelID string) error {
	if err := e.requireChannel(ctx, errorChannelID); err != nil {
		return err
	}
	err := e.ledger.Create(tenantID, &TenantConfig{
		TenantID:         tenantID,
		ErrorDestination: errorChannelID,
		Relays:           []RelayRule{},
	})
	if err != nil {
		return err
	}
	e.log.Info().Str("tenant_id", tenantID).Str("error_channel_id", errorChannelID).Msg("Tenant set up")
	return nil
}

// StartRelay adds a rule mirroring source into target after delaySeconds.
// A source can have only one rule at a time.
func (e *Engine) StartRelay(ctx context.Context, tenantID, source, target string, delaySeconds int) (RelayRule, error) {
	if delaySeconds < 0 {
		return RelayRule{}, ErrInvalidDelay
	}
	if source == target {
		return RelayRule{}, ErrSameChannel
	}
	if exists, err := e.ledger.store.Exists(tenantID); err != nil {
		return RelayRule{}, err
	} else if !exists {
		return RelayRule{}, ErrNotSetUp
	}
	for _, channelID := range []string{source, target} {
		if err := e.requireChannel(ctx, channelID); err != nil {
			return RelayRule{}, err
		}
	}

	rule := RelayRule{Source: source, Target: target, Delay: delaySeconds}
	_, err := e.ledger.Update(tenantID, func(cfg *TenantConfig) error {
		if _, ok := cfg.RuleFor(source); ok {
			return ErrRelayExists
		}
		cfg.Relays = append(cfg.Relays, rule)
		return nil
	})
	if err != nil {
		return RelayRule{}, err
	}
	e.log.Info().
		Str("tenant_id", tenantID).
		Str("source_channel_id", source).
		Str("target_channel_id", target).
		Int("delay", delaySeconds).
		Msg("Relay started")
	return rule, nil
}

// StopRelay removes the rule for source. Deliveries already scheduled from
// that rule still complete.
func (e *Engine) StopRelay(tenantID, source string) error {
	_, err := e.ledger.Update(tenantID, func(cfg *TenantConfig) error {
		before := len(cfg.Relays)
		cfg.Relays = slices.DeleteFunc(cfg.Relays, func(r RelayRule) bool { return r.Source == source })
		if len(cfg.Relays) == before {
			return ErrRelayNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.log.Info().Str("tenant_id", tenantID).Str("source_channel_id", source).Msg("Relay stopped")
	return nil
}

// Relays lists the tenant's active rules.
func (e *Engine) Relays(tenantID string) ([]RelayRule, error) {
	cfg, err := e.ledger.Read(tenantID)
	if err != nil {
		return nil, err
	}
	return cfg.Relays, nil
}

func (e *Engine) errorChannel(ctx context.Context, tenantID string) (*TenantConfig, error) {
	cfg, err := e.ledger.Read(tenantID)
	if err != nil {
		return nil, err
	}
	if cfg.ErrorDestination == "" {
		return nil, ErrNoErrorChannel
	}
	exists, err := e.platform.ChannelExists(ctx, cfg.ErrorDestination)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve error channel: %w", err)
	} else if !exists {
		return nil, ErrNoErrorChannel
	}
	return cfg, nil
}

// TestErrorChannel posts a test notice to the tenant's error channel.
func (e *Engine) TestErrorChannel(ctx context.Context, tenantID string) error {
	cfg, err := e.errorChannel(ctx, tenantID)
	if err != nil {
		return err
	}
	return e.platform.PostNotice(ctx, cfg.ErrorDestination, "Test message: error reporting is working.")
}

// SendInfo posts a diagnostic dump of the tenant's relays and counters to
// its error channel.
func (e *Engine) SendInfo(ctx context.Context, tenantID, requestedBy string) error {
	cfg, err := e.errorChannel(ctx, tenantID)
	if err != nil {
		return err
	}
	return e.platform.PostNotice(ctx, cfg.ErrorDestination, formatInfo(cfg, requestedBy))
}

func formatInfo(cfg *TenantConfig, requestedBy string) string {
	var sb strings.Builder
	sb.WriteString("**Relay Info Dump**\n- Relay Instances:\n")
	if len(cfg.Relays) == 0 {
		sb.WriteString("No active relays\n")
	}
	for _, r := range cfg.Relays {
		fmt.Fprintf(&sb, "%s → %s | Delay: %ds\n", r.Source, r.Target, r.Delay)
	}
	fmt.Fprintf(&sb, "\n- Tenant ID:\n%s\n", cfg.TenantID)
	if requestedBy != "" {
		fmt.Fprintf(&sb, "\n- Requested by:\n%s\n", requestedBy)
	}
	fmt.Fprintf(&sb, "\n- Stats:\nMessages copied total: %d", cfg.Usage.MessagesCopied)
	return sb.String()
}

// CopyMessage mirrors a single existing message into target. Delivery
// errors are reported to the error channel and also returned.
func (e *Engine) CopyMessage(ctx context.Context, tenantID, messageID, target string) (int, error) {
	if _, err := e.ledger.Read(tenantID); err != nil {
		return 0, err
	}
	if err := e.requireChannel(ctx, target); err != nil {
		return 0, err
	}
	msg, err := e.platform.GetMessage(ctx, messageID)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch message %s: %w", messageID, err)
	}
	p := &pacer{clock: e.clock, interval: e.paceDelay}
	parts, err := e.deliver(ctx, tenantID, msg, target, p, pathMessage)
	if err != nil {
		deliveryFailures.WithLabelValues(pathMessage).Inc()
		e.reporter.Report(ctx, tenantID, err.Error())
		return parts, err
	}
	return parts, nil
}

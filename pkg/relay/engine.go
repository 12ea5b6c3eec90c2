// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"
)

// DefaultPaceDelay is the minimum interval between successive sends.
const DefaultPaceDelay = time.Second

// Options tunes an Engine. Zero values select the defaults.
type Options struct {
	PartLimit    int
	PaceDelay    time.Duration
	EndpointName string
	Clock        Clock
}

// Engine matches inbound messages against relay rules and delivers them.
type Engine struct {
	platform  Platform
	ledger    *Ledger
	endpoints *EndpointCache
	reporter  *Reporter
	clock     Clock
	log       zerolog.Logger

	partLimit int
	paceDelay time.Duration

	stopMu   sync.Mutex
	stopping bool
	tasks    sync.WaitGroup
	jobs     *exsync.Map[uuid.UUID, *CopyJob]
}

// NewEngine wires an engine on top of a platform and a config store.
func NewEngine(platform Platform, store *Store, log zerolog.Logger, opts Options) *Engine {
	if opts.PartLimit <= 0 {
		opts.PartLimit = DefaultPartLimit
	}
	if opts.PaceDelay <= 0 {
		opts.PaceDelay = DefaultPaceDelay
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	ledger := NewLedger(store)
	return &Engine{
		platform:  platform,
		ledger:    ledger,
		endpoints: NewEndpointCache(platform, opts.EndpointName, log),
		reporter:  NewReporter(platform, ledger, log),
		clock:     opts.Clock,
		log:       log.With().Str("component", "relay_engine").Logger(),
		partLimit: opts.PartLimit,
		paceDelay: opts.PaceDelay,
		jobs:      exsync.NewMap[uuid.UUID, *CopyJob](),
	}
}

// Ledger exposes the engine's tenant ledger.
func (e *Engine) Ledger() *Ledger {
	return e.ledger
}

// Reporter exposes the engine's error reporter.
func (e *Engine) Reporter() *Reporter {
	return e.reporter
}

// HandleMessage schedules one delayed delivery per relay rule matching the
// message's channel and returns how many were scheduled. It never waits for
// a delivery.
func (e *Engine) HandleMessage(ctx context.Context, msg *Message) int {
	if msg == nil || msg.Author.Bot || msg.FromProxy {
		return 0
	}
	if msg.TenantID == "" || msg.IsEmpty() {
		return 0
	}

	cfg, err := e.ledger.Read(msg.TenantID)
	if errors.Is(err, ErrNotSetUp) {
		return 0
	} else if err != nil {
		e.log.Error().Err(err).Str("tenant_id", msg.TenantID).Msg("Failed to load tenant config")
		return 0
	}

	scheduled := 0
	for _, rule := range cfg.Relays {
		if rule.Source != msg.ChannelID {
			continue
		}
		exists, err := e.platform.ChannelExists(ctx, rule.Target)
		if err != nil {
			e.log.Warn().Err(err).
				Str("tenant_id", msg.TenantID).
				Str("target_channel_id", rule.Target).
				Msg("Failed to resolve relay target")
			continue
		} else if !exists {
			e.log.Debug().
				Str("tenant_id", msg.TenantID).
				Str("target_channel_id", rule.Target).
				Msg("Relay target no longer exists, skipping")
			continue
		}
		if !e.scheduleRelay(ctx, msg, rule) {
			break
		}
		scheduled++
	}
	return scheduled
}

// scheduleRelay starts a task that waits for the rule's delay and then
// delivers msg. The task is detached from ctx's cancellation: once
// scheduled, a delivery always runs. It reports false once the engine is
// shutting down.
func (e *Engine) scheduleRelay(ctx context.Context, msg *Message, rule RelayRule) bool {
	if !e.track() {
		e.log.Debug().
			Str("tenant_id", msg.TenantID).
			Str("message_id", msg.ID).
			Msg("Engine is shutting down, dropping relay delivery")
		return false
	}
	taskCtx := context.WithoutCancel(ctx)
	delay := time.Duration(rule.Delay) * time.Second
	relayTasksScheduled.Inc()

	e.log.Debug().
		Str("tenant_id", msg.TenantID).
		Str("message_id", msg.ID).
		Str("source_channel_id", rule.Source).
		Str("target_channel_id", rule.Target).
		Dur("delay", delay).
		Msg("Scheduled relay delivery")

	go func() {
		defer e.tasks.Done()
		if err := e.clock.Sleep(taskCtx, delay); err != nil {
			return
		}
		p := &pacer{clock: e.clock, interval: e.paceDelay}
		if _, err := e.deliver(taskCtx, msg.TenantID, msg, rule.Target, p, pathRelay); err != nil {
			deliveryFailures.WithLabelValues(pathRelay).Inc()
			e.reporter.Report(taskCtx, msg.TenantID, err.Error())
		}
	}()
	return true
}

// track registers a background task unless Shutdown has been called.
// Registration and the stopping flag share stopMu, so no task is added
// once Shutdown has started waiting.
func (e *Engine) track() bool {
	e.stopMu.Lock()
	defer e.stopMu.Unlock()
	if e.stopping {
		return false
	}
	e.tasks.Add(1)
	return true
}

// Wait blocks until every scheduled delivery and running copy job has
// finished. New work may still be scheduled afterwards.
func (e *Engine) Wait() {
	e.tasks.Wait()
}

// Shutdown stops the engine from accepting new deliveries and copy jobs,
// then waits for the ones already scheduled.
func (e *Engine) Shutdown() {
	e.stopMu.Lock()
	e.stopping = true
	e.stopMu.Unlock()
	e.tasks.Wait()
}

// Copyright 2024-2026 Aiku AI

package relay

import "errors"

// Declined operations. These are returned to the caller that initiated the
// operation; no state is mutated when one of them is returned.
var (
	ErrNotSetUp        = errors.New("setup not completed for this tenant")
	ErrAlreadySetUp    = errors.New("setup already completed for this tenant")
	ErrRelayExists     = errors.New("a relay from this source already exists, stop it first")
	ErrRelayNotFound   = errors.New("no relay configured for this source")
	ErrChannelNotFound = errors.New("channel not found")
	ErrSameChannel     = errors.New("source and target must be different channels")
	ErrInvalidDelay    = errors.New("delay must not be negative")
	ErrInvalidTenant   = errors.New("invalid tenant id")
	ErrNoErrorChannel  = errors.New("error channel not found, run setup again")
	ErrJobNotFound     = errors.New("copy job not found")
	ErrShuttingDown    = errors.New("shutting down, not accepting new work")
)

// ErrMalformedConfig is wrapped around decode errors of a stored tenant
// configuration.
var ErrMalformedConfig = errors.New("malformed tenant config")

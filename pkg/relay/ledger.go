// Copyright 2024-2026 Aiku AI

package relay

import (
	"sync"

	"go.mau.fi/util/exsync"
)

// Ledger serializes every read-modify-write of a tenant's stored
// configuration. Guards are created on first use and live for the process
// lifetime; different tenants never contend.
type Ledger struct {
	store  *Store
	guards *exsync.Map[string, *sync.Mutex]
}

// NewLedger wraps a store with per-tenant guards.
func NewLedger(store *Store) *Ledger {
	return &Ledger{
		store:  store,
		guards: exsync.NewMap[string, *sync.Mutex](),
	}
}

func (l *Ledger) guard(tenantID string) *sync.Mutex {
	if mu, ok := l.guards.Get(tenantID); ok {
		return mu
	}
	mu, _ := l.guards.GetOrSet(tenantID, &sync.Mutex{})
	return mu
}

// Read loads the tenant's configuration under its guard. The returned value
// is a snapshot; mutate only through Update.
func (l *Ledger) Read(tenantID string) (*TenantConfig, error) {
	mu := l.guard(tenantID)
	mu.Lock()
	defer mu.Unlock()
	return l.store.Load(tenantID)
}

// Update loads the configuration, applies fn and persists the result while
// holding the tenant's guard. If fn returns an error nothing is written.
func (l *Ledger) Update(tenantID string, fn func(cfg *TenantConfig) error) (*TenantConfig, error) {
	mu := l.guard(tenantID)
	mu.Lock()
	defer mu.Unlock()

	cfg, err := l.store.Load(tenantID)
	if err != nil {
		return nil, err
	}
	if err := fn(cfg); err != nil {
		return nil, err
	}
	if err := l.store.Save(tenantID, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Create writes an initial configuration for a tenant that has none.
func (l *Ledger) Create(tenantID string, cfg *TenantConfig) error {
	mu := l.guard(tenantID)
	mu.Lock()
	defer mu.Unlock()

	exists, err := l.store.Exists(tenantID)
	if err != nil {
		return err
	} else if exists {
		return ErrAlreadySetUp
	}
	return l.store.Save(tenantID, cfg)
}

// Increment adds n delivered parts to the tenant's copied-messages counter
// and returns the new total.
func (l *Ledger) Increment(tenantID string, n int) (int64, error) {
	cfg, err := l.Update(tenantID, func(cfg *TenantConfig) error {
		cfg.Usage.MessagesCopied += int64(n)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return cfg.Usage.MessagesCopied, nil
}

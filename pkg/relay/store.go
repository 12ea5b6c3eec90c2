// Copyright 2024-2026 Aiku AI

package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"

	"github.com/rs/zerolog"
)

// RelayRule mirrors new messages from Source to Target after Delay seconds.
type RelayRule struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Delay  int    `json:"delay"`
}

// Usage holds the persisted per-tenant counters.
type Usage struct {
	MessagesCopied int64 `json:"messages_copied"`
}

// TenantConfig is the persisted configuration of one tenant.
type TenantConfig struct {
	TenantID         string      `json:"-"`
	ErrorDestination string      `json:"error_destination,omitempty"`
	Relays           []RelayRule `json:"relays"`
	Usage            Usage       `json:"usage"`
}

// RuleFor returns the rule whose source is channelID.
func (c *TenantConfig) RuleFor(channelID string) (RelayRule, bool) {
	idx := slices.IndexFunc(c.Relays, func(r RelayRule) bool { return r.Source == channelID })
	if idx < 0 {
		return RelayRule{}, false
	}
	return c.Relays[idx], true
}

// storedConfig is the on-disk shape. Pointer fields detect keys missing from
// older files; ErrorChannel and Stats are the names used before the usage
// block was introduced.
type storedConfig struct {
	ErrorDestination string       `json:"error_destination,omitempty"`
	ErrorChannel     string       `json:"error_channel,omitempty"`
	Relays           *[]RelayRule `json:"relays"`
	Usage            *storedUsage `json:"usage"`
	Stats            *storedUsage `json:"stats,omitempty"`
}

type storedUsage struct {
	MessagesCopied *int64 `json:"messages_copied"`
}

var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

const (
	configDirPerm  = 0o750
	configFilePerm = 0o600
)

// Store persists tenant configurations as one JSON file per tenant.
type Store struct {
	dir string
	log zerolog.Logger
}

// NewStore creates a store rooted at dir. The directory is created on the
// first write.
func NewStore(dir string, log zerolog.Logger) *Store {
	return &Store{
		dir: dir,
		log: log.With().Str("component", "config_store").Logger(),
	}
}

func (s *Store) path(tenantID string) (string, error) {
	if !tenantIDPattern.MatchString(tenantID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTenant, tenantID)
	}
	return filepath.Join(s.dir, tenantID+".json"), nil
}

// Exists reports whether the tenant has been set up.
func (s *Store) Exists(tenantID string) (bool, error) {
	path, err := s.path(tenantID)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, fmt.Errorf("failed to stat tenant config: %w", err)
	}
	return true, nil
}

// Load reads a tenant's configuration. It returns ErrNotSetUp if the tenant
// was never set up. Missing fields are backfilled and written back before
// Load returns. Callers that may race with writers must hold the tenant's
// ledger guard.
func (s *Store) Load(tenantID string) (*TenantConfig, error) {
	path, err := s.path(tenantID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotSetUp
	} else if err != nil {
		return nil, fmt.Errorf("failed to read tenant config: %w", err)
	}

	var stored storedConfig
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("%w %s: %w", ErrMalformedConfig, tenantID, err)
	}

	cfg, changed := stored.normalize()
	cfg.TenantID = tenantID
	if changed {
		s.log.Info().Str("tenant_id", tenantID).Msg("Backfilling missing tenant config fields")
		if err := s.Save(tenantID, cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func (sc *storedConfig) normalize() (*TenantConfig, bool) {
	cfg := &TenantConfig{ErrorDestination: sc.ErrorDestination}
	changed := false

	if cfg.ErrorDestination == "" && sc.ErrorChannel != "" {
		cfg.ErrorDestination = sc.ErrorChannel
		changed = true
	}

	if sc.Relays != nil {
		cfg.Relays = *sc.Relays
	} else {
		changed = true
	}
	if cfg.Relays == nil {
		cfg.Relays = []RelayRule{}
	}

	usage := sc.Usage
	if usage == nil {
		usage = sc.Stats
		changed = true
	}
	if usage == nil || usage.MessagesCopied == nil {
		changed = true
	} else {
		cfg.Usage.MessagesCopied = *usage.MessagesCopied
	}
	if sc.Stats != nil || sc.ErrorChannel != "" {
		changed = true
	}
	return cfg, changed
}

// Save overwrites the tenant's configuration. The write is atomic: readers
// see either the previous or the new file, never a partial one.
func (s *Store) Save(tenantID string, cfg *TenantConfig) error {
	path, err := s.path(tenantID)
	if err != nil {
		return err
	}
	if cfg.Relays == nil {
		cfg.Relays = []RelayRule{}
	}
	data, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode tenant config: %w", err)
	}
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("failed to save tenant config %s: %w", tenantID, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Chmod(configFilePerm); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	if dirFD, err := os.Open(dir); err == nil {
		_ = dirFD.Sync()
		_ = dirFD.Close()
	}
	return nil
}

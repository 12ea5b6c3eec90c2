// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeClock advances simulated time instantly on every Sleep.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sleeps)
}

// sentPart records a part posted through the fake platform.
type sentPart struct {
	Endpoint Endpoint
	Part     Part
	At       time.Time
}

type notice struct {
	ChannelID string
	Text      string
}

// fakePlatform is an in-memory Platform that records every call.
type fakePlatform struct {
	clock *fakeClock

	mu          sync.Mutex
	channels    map[string]bool
	endpoints   map[string][]Endpoint
	history     map[string][]*Message
	historyErr  error
	messages    map[string]*Message
	files       map[string][]byte
	sent        []sentPart
	notices     []notice
	listCalls   int
	createCalls int
	nextID      int

	// sendErr, if set, decides whether a Send fails.
	sendErr func(ep Endpoint, part Part) error
	// createErr makes CreateEndpoint fail.
	createErr error
	// noticeErr makes PostNotice fail.
	noticeErr error
	// listHook, if set, runs at the start of ListEndpoints without the lock.
	listHook func(channelID string)
}

func newFakePlatform(clock *fakeClock, channels ...string) *fakePlatform {
	f := &fakePlatform{
		clock:     clock,
		channels:  make(map[string]bool),
		endpoints: make(map[string][]Endpoint),
		history:   make(map[string][]*Message),
		messages:  make(map[string]*Message),
		files:     make(map[string][]byte),
	}
	for _, ch := range channels {
		f.channels[ch] = true
	}
	return f
}

func (f *fakePlatform) ListEndpoints(_ context.Context, channelID string) ([]Endpoint, error) {
	if f.listHook != nil {
		f.listHook(channelID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if !f.channels[channelID] {
		return nil, fmt.Errorf("unknown channel %s", channelID)
	}
	return slices.Clone(f.endpoints[channelID]), nil
}

func (f *fakePlatform) CreateEndpoint(_ context.Context, channelID, name string) (Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return Endpoint{}, f.createErr
	}
	f.nextID++
	ep := Endpoint{ID: fmt.Sprintf("hook%d", f.nextID), ChannelID: channelID, Name: name}
	f.endpoints[channelID] = append(f.endpoints[channelID], ep)
	return ep, nil
}

func (f *fakePlatform) Send(_ context.Context, ep Endpoint, part Part) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		if err := f.sendErr(ep, part); err != nil {
			return err
		}
	}
	var at time.Time
	if f.clock != nil {
		at = f.clock.Now()
	}
	f.sent = append(f.sent, sentPart{Endpoint: ep, Part: part, At: at})
	return nil
}

func (f *fakePlatform) History(_ context.Context, channelID string) iter.Seq2[*Message, error] {
	return func(yield func(*Message, error) bool) {
		f.mu.Lock()
		msgs := slices.Clone(f.history[channelID])
		histErr := f.historyErr
		f.mu.Unlock()
		for _, msg := range msgs {
			if !yield(msg, nil) {
				return
			}
		}
		if histErr != nil {
			yield(nil, histErr)
		}
	}
}

func (f *fakePlatform) ChannelExists(_ context.Context, channelID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.channels[channelID], nil
}

func (f *fakePlatform) FetchAttachment(_ context.Context, att Attachment) (File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.files[att.ID]
	if !ok {
		return File{}, fmt.Errorf("file %s not found", att.ID)
	}
	return File{Name: att.Name, Data: data}, nil
}

func (f *fakePlatform) GetMessage(_ context.Context, messageID string) (*Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[messageID]
	if !ok {
		return nil, fmt.Errorf("message %s not found", messageID)
	}
	return msg, nil
}

func (f *fakePlatform) PostNotice(_ context.Context, channelID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.noticeErr != nil {
		return f.noticeErr
	}
	f.notices = append(f.notices, notice{ChannelID: channelID, Text: text})
	return nil
}

func (f *fakePlatform) Sent() []sentPart {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.sent)
}

func (f *fakePlatform) Notices() []notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.notices)
}

func (f *fakePlatform) sentTo(channelID string) []sentPart {
	var out []sentPart
	for _, s := range f.Sent() {
		if s.Endpoint.ChannelID == channelID {
			out = append(out, s)
		}
	}
	return out
}

type testEnv struct {
	engine   *Engine
	platform *fakePlatform
	clock    *fakeClock
	store    *Store
	dir      string
}

func newTestEnv(t *testing.T, channels ...string) *testEnv {
	t.Helper()
	clock := newFakeClock()
	platform := newFakePlatform(clock, channels...)
	dir := filepath.Join(t.TempDir(), "configs")
	store := NewStore(dir, zerolog.Nop())
	engine := NewEngine(platform, store, zerolog.Nop(), Options{Clock: clock})
	return &testEnv{engine: engine, platform: platform, clock: clock, store: store, dir: dir}
}

// setupTenant writes a tenant config directly to the store.
func (env *testEnv) setupTenant(t *testing.T, tenantID, errorChannel string, rules ...RelayRule) {
	t.Helper()
	if rules == nil {
		rules = []RelayRule{}
	}
	cfg := &TenantConfig{ErrorDestination: errorChannel, Relays: rules}
	if err := env.store.Save(tenantID, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func (env *testEnv) counter(t *testing.T, tenantID string) int64 {
	t.Helper()
	cfg, err := env.store.Load(tenantID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg.Usage.MessagesCopied
}

func (env *testEnv) readFile(t *testing.T, tenantID string) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(env.dir, tenantID+".json"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	return data
}

func textMessage(id, tenantID, channelID, text string) *Message {
	return &Message{
		ID:        id,
		TenantID:  tenantID,
		ChannelID: channelID,
		Author:    Author{ID: "u1", Username: "jdoe", DisplayName: "John Doe", AvatarURL: "https://example.com/u1.png"},
		Text:      text,
	}
}

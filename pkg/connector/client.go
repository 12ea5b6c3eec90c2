// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"

	"github.com/aiku/mattermost-mirror/pkg/relay"
)

const (
	reconnectMinDelay = time.Second
	reconnectMaxDelay = time.Minute
)

// MessageHandler receives inbound posts converted to relay messages.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *relay.Message) int
}

// Client is the mirror's connection to Mattermost. It implements
// relay.Platform on the REST API and feeds websocket posts to a
// MessageHandler.
type Client struct {
	config  *Config
	handler MessageHandler

	client    *model.Client4
	wsClient  *model.WebSocketClient
	wsMu      sync.Mutex
	userID    string
	serverURL string

	users        *exsync.Map[string, *model.User]
	channelTeams *exsync.Map[string, string]

	stopOnce sync.Once
	stopChan chan struct{}
	log      zerolog.Logger
}

var _ relay.Platform = (*Client)(nil)

// NewClient creates a client authenticated with the configured access token.
// Connect must be called before inbound posts are delivered.
func NewClient(cfg *Config, log zerolog.Logger) *Client {
	client := model.NewAPIv4Client(cfg.ServerURL)
	client.SetToken(cfg.AccessToken)
	return &Client{
		config:       cfg,
		client:       client,
		serverURL:    cfg.ServerURL,
		users:        exsync.NewMap[string, *model.User](),
		channelTeams: exsync.NewMap[string, string](),
		stopChan:     make(chan struct{}),
		log:          log.With().Str("component", "mm_client").Logger(),
	}
}

// Connect verifies the session and starts listening on the websocket.
// Inbound posts are passed to handler until Disconnect is called.
func (m *Client) Connect(ctx context.Context, handler MessageHandler) error {
	m.log.Info().Str("server_url", m.serverURL).Msg("Connecting to Mattermost")

	me, _, err := m.client.GetMe(ctx, "")
	if err != nil {
		return fmt.Errorf("failed to verify Mattermost session: %w", err)
	}
	m.userID = me.Id
	m.handler = handler
	m.log.Info().Str("user_id", me.Id).Str("username", me.Username).Msg("Authenticated")

	if err := m.connectWebSocket(); err != nil {
		return err
	}
	go m.listenWebSocket(context.WithoutCancel(ctx))
	return nil
}

func (m *Client) connectWebSocket() error {
	wsURL := httpToWS(m.serverURL)
	wsClient, err := model.NewWebSocketClient4(wsURL, m.client.AuthToken)
	if err != nil {
		return fmt.Errorf("failed to create websocket client: %w", err)
	}
	wsClient.Listen()

	m.wsMu.Lock()
	m.wsClient = wsClient
	m.wsMu.Unlock()

	m.log.Info().Str("ws_url", wsURL).Msg("WebSocket connected")
	return nil
}

func (m *Client) events() chan *model.WebSocketEvent {
	m.wsMu.Lock()
	defer m.wsMu.Unlock()
	if m.wsClient == nil {
		return nil
	}
	return m.wsClient.EventChannel
}

func (m *Client) listenWebSocket(ctx context.Context) {
	for {
		events := m.events()
		if events == nil {
			return
		}
		select {
		case <-m.stopChan:
			return
		case event, ok := <-events:
			if !ok {
				m.log.Warn().Msg("WebSocket event channel closed, reconnecting")
				if !m.reconnect() {
					return
				}
				continue
			}
			if event == nil {
				continue
			}
			m.handleEvent(ctx, event)
		}
	}
}

// reconnect retries the websocket with exponential backoff. It returns false
// if the client was stopped before a connection was re-established.
func (m *Client) reconnect() bool {
	delay := reconnectMinDelay
	for {
		err := m.connectWebSocket()
		if err == nil {
			return true
		}
		m.log.Error().Err(err).Dur("retry_in", delay).Msg("Failed to reconnect WebSocket")
		select {
		case <-m.stopChan:
			return false
		case <-time.After(delay):
		}
		delay = min(delay*2, reconnectMaxDelay)
	}
}

// Disconnect closes the WebSocket connection and stops the event loop.
func (m *Client) Disconnect() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
	m.wsMu.Lock()
	defer m.wsMu.Unlock()
	if m.wsClient != nil {
		m.wsClient.Close()
		m.wsClient = nil
	}
}

// getUser returns a user, caching it for the client's lifetime.
func (m *Client) getUser(ctx context.Context, userID string) (*model.User, error) {
	if user, ok := m.users.Get(userID); ok {
		return user, nil
	}
	user, _, err := m.client.GetUser(ctx, userID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	m.users.Set(userID, user)
	return user, nil
}

// teamForChannel returns the team a channel belongs to. Direct and group
// channels have no team and yield an empty id.
func (m *Client) teamForChannel(ctx context.Context, channelID string) (string, error) {
	if teamID, ok := m.channelTeams.Get(channelID); ok {
		return teamID, nil
	}
	channel, _, err := m.client.GetChannel(ctx, channelID, "")
	if err != nil {
		return "", fmt.Errorf("failed to get channel %s: %w", channelID, err)
	}
	m.channelTeams.Set(channelID, channel.TeamId)
	return channel.TeamId, nil
}

// Copyright 2024-2026 Aiku AI

package relay

import (
	"context"
	"iter"
	"strings"
	"time"
)

// Author describes who wrote a source message.
type Author struct {
	ID          string
	Username    string
	DisplayName string
	AvatarURL   string
	// Bot is set for automated accounts, including the mirror's own.
	Bot bool
}

// Handle returns the name to post under: the display name, falling back to
// the account name.
func (a Author) Handle() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Username
}

// Attachment references a file attached to a source message.
type Attachment struct {
	ID   string
	Name string
	Size int64
}

// File is an attachment fetched into memory so it can be re-uploaded.
type File struct {
	Name string
	Data []byte
}

// Message is an inbound or historical message on the platform.
type Message struct {
	ID          string
	TenantID    string
	ChannelID   string
	Author      Author
	Text        string
	Attachments []Attachment
	// FromProxy marks messages posted through a proxy endpoint, i.e. echoes
	// of something this system (or another integration) already relayed.
	FromProxy bool
	CreatedAt time.Time
}

// IsEmpty reports whether the message has neither text nor attachments.
// Whitespace-only text counts as no text.
func (m *Message) IsEmpty() bool {
	return strings.TrimSpace(m.Text) == "" && len(m.Attachments) == 0
}

// Endpoint is a reusable delivery identity bound to one channel.
type Endpoint struct {
	ID        string
	ChannelID string
	Name      string
}

// Part is one outbound fragment of a mirrored message.
type Part struct {
	Text      string
	Username  string
	AvatarURL string
	// First is set on the first part of a message; only that part carries
	// files.
	First bool
	Files []File
}

// Platform is everything the engine needs from the chat platform.
type Platform interface {
	// ListEndpoints returns the proxy endpoints that already exist on a channel.
	ListEndpoints(ctx context.Context, channelID string) ([]Endpoint, error)
	// CreateEndpoint creates a named proxy endpoint on a channel.
	CreateEndpoint(ctx context.Context, channelID, name string) (Endpoint, error)
	// Send posts one part through an endpoint under the part's display
	// identity.
	Send(ctx context.Context, ep Endpoint, part Part) error
	// History streams a channel's messages oldest-first. Implementations must
	// page lazily; the sequence stops after the first error.
	History(ctx context.Context, channelID string) iter.Seq2[*Message, error]
	// ChannelExists resolves a channel id to a live channel.
	ChannelExists(ctx context.Context, channelID string) (bool, error)
	// FetchAttachment downloads attachment bytes.
	FetchAttachment(ctx context.Context, att Attachment) (File, error)
	// GetMessage fetches a single message by id.
	GetMessage(ctx context.Context, messageID string) (*Message, error)
	// PostNotice posts a plain message as the system account.
	PostNotice(ctx context.Context, channelID, text string) error
}

// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mattermost-mirror/pkg/relay"
)

// handleEvent dispatches a Mattermost WebSocket event. Only new posts are
// mirrored; edits, deletions and reactions are not synchronized.
func (m *Client) handleEvent(ctx context.Context, evt *model.WebSocketEvent) {
	switch evt.EventType() {
	case model.WebsocketEventPosted:
		m.handlePosted(ctx, evt)
	default:
		m.log.Trace().Str("event_type", string(evt.EventType())).Msg("Unhandled event type")
	}
}

// parsePostedEvent extracts and validates a post from a WebSocket event,
// applying the echo prevention layers that need no API call. Returns
// (nil, nil) to skip silently, (nil, err) to log an error, or (post, nil) to
// proceed.
func (m *Client) parsePostedEvent(evt *model.WebSocketEvent) (*model.Post, error) {
	postJSON, ok := evt.GetData()["post"].(string)
	if !ok {
		return nil, fmt.Errorf("posted event missing post data")
	}

	var post model.Post
	if err := json.Unmarshal([]byte(postJSON), &post); err != nil {
		return nil, fmt.Errorf("failed to unmarshal post: %w", err)
	}

	// Echo prevention: skip own posts, including everything sent through
	// our webhooks.
	if post.UserId == m.userID {
		return nil, nil
	}

	// Echo prevention: skip non-default post types (system messages).
	if isSystemPost(&post) {
		return nil, nil
	}

	// Echo prevention: skip posts from usernames matching the bot prefix.
	senderName, _ := evt.GetData()["sender_name"].(string)
	senderName = strings.TrimPrefix(senderName, "@")
	if senderName != "" && isBridgeUsername(senderName, m.config.BotPrefix) {
		m.log.Debug().
			Str("post_id", post.Id).
			Str("username", senderName).
			Msg("Skipping bot prefix post (echo prevention)")
		return nil, nil
	}

	return &post, nil
}

func (m *Client) handlePosted(ctx context.Context, evt *model.WebSocketEvent) {
	post, err := m.parsePostedEvent(evt)
	if err != nil {
		m.log.Warn().Err(err).Msg("Failed to parse posted event")
		return
	}
	if post == nil || m.handler == nil {
		return
	}

	teamID, _ := evt.GetData()["team_id"].(string)
	msg, err := m.convertPost(ctx, post, teamID)
	if err != nil {
		m.log.Warn().Err(err).Str("post_id", post.Id).Msg("Failed to convert post")
		return
	}

	scheduled := m.handler.HandleMessage(ctx, msg)
	m.log.Debug().
		Str("post_id", post.Id).
		Str("channel_id", post.ChannelId).
		Str("user_id", post.UserId).
		Int("scheduled", scheduled).
		Msg("Received new message")
}

// convertPost builds a relay message from a post. teamID may be empty, in
// which case it is looked up from the channel.
func (m *Client) convertPost(ctx context.Context, post *model.Post, teamID string) (*relay.Message, error) {
	if teamID == "" {
		var err error
		if teamID, err = m.teamForChannel(ctx, post.ChannelId); err != nil {
			return nil, err
		}
	}

	msg := &relay.Message{
		ID:        post.Id,
		TenantID:  teamID,
		ChannelID: post.ChannelId,
		Text:      post.Message,
		FromProxy: isFromWebhook(post),
		CreatedAt: time.UnixMilli(post.CreateAt),
	}

	user, err := m.getUser(ctx, post.UserId)
	if err != nil {
		return nil, err
	}
	msg.Author = m.userToAuthor(user)

	for _, fileID := range post.FileIds {
		att, err := m.fileAttachment(ctx, post, fileID)
		if err != nil {
			return nil, err
		}
		msg.Attachments = append(msg.Attachments, att)
	}
	return msg, nil
}

func (m *Client) userToAuthor(user *model.User) relay.Author {
	return relay.Author{
		ID:       user.Id,
		Username: user.Username,
		DisplayName: m.config.FormatDisplayname(DisplaynameParams{
			Username:  user.Username,
			Nickname:  user.Nickname,
			FirstName: user.FirstName,
			LastName:  user.LastName,
		}),
		AvatarURL: avatarURL(m.serverURL, user.Id),
		Bot:       user.IsBot,
	}
}

// fileAttachment describes a post's file, using the metadata embedded in the
// post when the server included it.
func (m *Client) fileAttachment(ctx context.Context, post *model.Post, fileID string) (relay.Attachment, error) {
	if post.Metadata != nil {
		for _, info := range post.Metadata.Files {
			if info.Id == fileID {
				return relay.Attachment{ID: info.Id, Name: info.Name, Size: info.Size}, nil
			}
		}
	}
	info, _, err := m.client.GetFileInfo(ctx, fileID)
	if err != nil {
		return relay.Attachment{}, fmt.Errorf("failed to get file info %s: %w", fileID, err)
	}
	return relay.Attachment{ID: info.Id, Name: info.Name, Size: info.Size}, nil
}

// isBridgeUsername checks if a username belongs to an account managed by a
// mirror or bridge, identified by the configured prefix.
func isBridgeUsername(username, botPrefix string) bool {
	return botPrefix != "" && strings.HasPrefix(username, botPrefix)
}

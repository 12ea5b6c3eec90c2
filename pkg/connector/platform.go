// Copyright 2024-2026 Aiku AI

package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mattermost/mattermost/server/public/model"

	"github.com/aiku/mattermost-mirror/pkg/relay"
)

const webhookPageSize = 200

// ListEndpoints returns the incoming webhooks that post into channelID.
func (m *Client) ListEndpoints(ctx context.Context, channelID string) ([]relay.Endpoint, error) {
	teamID, err := m.teamForChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	var endpoints []relay.Endpoint
	for page := 0; ; page++ {
		hooks, _, err := m.client.GetIncomingWebhooksForTeam(ctx, teamID, page, webhookPageSize, "")
		if err != nil {
			return nil, fmt.Errorf("failed to list webhooks of team %s: %w", teamID, err)
		}
		for _, hook := range hooks {
			if hook.ChannelId == channelID && hook.DeleteAt == 0 {
				endpoints = append(endpoints, relay.Endpoint{ID: hook.Id, ChannelID: hook.ChannelId, Name: hook.DisplayName})
			}
		}
		if len(hooks) < webhookPageSize {
			return endpoints, nil
		}
	}
}

// CreateEndpoint creates an incoming webhook named name in channelID.
func (m *Client) CreateEndpoint(ctx context.Context, channelID, name string) (relay.Endpoint, error) {
	hook, _, err := m.client.CreateIncomingWebhook(ctx, &model.IncomingWebhook{
		ChannelId:   channelID,
		DisplayName: name,
		Description: "Mirrored messages",
	})
	if err != nil {
		return relay.Endpoint{}, fmt.Errorf("failed to create webhook in %s: %w", channelID, err)
	}
	return relay.Endpoint{ID: hook.Id, ChannelID: hook.ChannelId, Name: hook.DisplayName}, nil
}

// Send posts a part under the part's display identity. Text-only parts go
// through the webhook; webhooks cannot carry uploads, so parts with files are
// created as posts with the same identity overrides the webhook would set.
func (m *Client) Send(ctx context.Context, ep relay.Endpoint, part relay.Part) error {
	if len(part.Files) > 0 {
		return m.sendWithFiles(ctx, ep, part)
	}
	return m.executeWebhook(ctx, ep, part)
}

func (m *Client) executeWebhook(ctx context.Context, ep relay.Endpoint, part relay.Part) error {
	payload, err := json.Marshal(&model.IncomingWebhookRequest{
		Text:     part.Text,
		Username: part.Username,
		IconURL:  part.AvatarURL,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL(m.serverURL, ep.ID), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute webhook %s: %w", ep.ID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook %s returned %d: %s", ep.ID, resp.StatusCode, bytes.TrimSpace(body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (m *Client) sendWithFiles(ctx context.Context, ep relay.Endpoint, part relay.Part) error {
	fileIDs := make([]string, 0, len(part.Files))
	for _, file := range part.Files {
		uploaded, _, err := m.client.UploadFile(ctx, file.Data, ep.ChannelID, file.Name)
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", file.Name, err)
		}
		if len(uploaded.FileInfos) == 0 {
			return fmt.Errorf("upload of %s returned no file info", file.Name)
		}
		fileIDs = append(fileIDs, uploaded.FileInfos[0].Id)
	}

	post := &model.Post{
		ChannelId: ep.ChannelID,
		Message:   part.Text,
		FileIds:   fileIDs,
	}
	post.AddProp(propFromWebhook, "true")
	post.AddProp(propOverrideUsername, part.Username)
	if part.AvatarURL != "" {
		post.AddProp(propOverrideIconURL, part.AvatarURL)
	}
	if _, _, err := m.client.CreatePost(ctx, post); err != nil {
		return fmt.Errorf("failed to create post in %s: %w", ep.ChannelID, err)
	}
	return nil
}

// ChannelExists reports whether channelID is a live channel visible to the
// mirror's account.
func (m *Client) ChannelExists(ctx context.Context, channelID string) (bool, error) {
	channel, resp, err := m.client.GetChannel(ctx, channelID, "")
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get channel %s: %w", channelID, err)
	}
	m.channelTeams.Set(channelID, channel.TeamId)
	return channel.DeleteAt == 0, nil
}

// FetchAttachment downloads a file.
func (m *Client) FetchAttachment(ctx context.Context, att relay.Attachment) (relay.File, error) {
	data, _, err := m.client.GetFile(ctx, att.ID)
	if err != nil {
		return relay.File{}, fmt.Errorf("failed to download file %s: %w", att.ID, err)
	}
	return relay.File{Name: att.Name, Data: data}, nil
}

// GetMessage fetches a single post.
func (m *Client) GetMessage(ctx context.Context, messageID string) (*relay.Message, error) {
	post, _, err := m.client.GetPost(ctx, messageID, "")
	if err != nil {
		return nil, fmt.Errorf("failed to get post %s: %w", messageID, err)
	}
	return m.convertPost(ctx, post, "")
}

// PostNotice posts text to a channel as the mirror's own account.
func (m *Client) PostNotice(ctx context.Context, channelID, text string) error {
	_, _, err := m.client.CreatePost(ctx, &model.Post{ChannelId: channelID, Message: text})
	if err != nil {
		return fmt.Errorf("failed to post notice to %s: %w", channelID, err)
	}
	return nil
}

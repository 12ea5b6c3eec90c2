// Copyright 2024-2026 Aiku AI

package connector

import (
	"strings"

	"github.com/mattermost/mattermost/server/public/model"
)

// Post props that mark a post as delivered through a webhook with an
// overridden identity.
const (
	propFromWebhook      = "from_webhook"
	propOverrideUsername = "override_username"
	propOverrideIconURL  = "override_icon_url"
)

// avatarURL returns the profile image URL of a Mattermost user.
func avatarURL(serverURL, userID string) string {
	return serverURL + "/api/v4/users/" + userID + "/image"
}

// webhookURL returns the public execution URL of an incoming webhook.
func webhookURL(serverURL, hookID string) string {
	return serverURL + "/hooks/" + hookID
}

// isFromWebhook reports whether the post was created through a webhook or
// carries webhook identity overrides.
func isFromWebhook(post *model.Post) bool {
	v, ok := post.GetProp(propFromWebhook).(string)
	return ok && v == "true"
}

// isSystemPost reports whether the post is a join/leave/header change or any
// other non-default post type.
func isSystemPost(post *model.Post) bool {
	return post.Type != "" && post.Type != model.PostTypeDefault
}

// httpToWS converts an HTTP(S) URL to a WS(S) URL.
func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

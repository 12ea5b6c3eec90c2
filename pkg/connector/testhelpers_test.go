// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/mattermost/mattermost/server/public/model"
	"github.com/rs/zerolog"

	"github.com/aiku/mattermost-mirror/pkg/relay"
)

// endpointCall records which API endpoints were hit during a test.
type endpointCall struct {
	Method string
	Path   string
	Query  string
	Body   string
}

// webhookCall records one execution of an incoming webhook.
type webhookCall struct {
	HookID  string
	Request model.IncomingWebhookRequest
}

// fakeMM is a test helper that wraps an httptest.Server simulating the
// Mattermost API. It records calls and provides canned responses.
type fakeMM struct {
	Server *httptest.Server

	mu       sync.Mutex
	calls    []endpointCall
	executed []webhookCall
	created  []*model.Post
	nextID   int

	// Users maps user ID to model.User for GetUser/GetMe responses.
	Users map[string]*model.User
	// TokenToUser maps bearer tokens to user IDs for GetMe auth.
	TokenToUser map[string]string
	// Channels maps channel ID to model.Channel.
	Channels map[string]*model.Channel
	// Posts maps channel ID to its posts, oldest first.
	Posts map[string][]*model.Post
	// Files maps file ID to model.FileInfo.
	Files map[string]*model.FileInfo
	// FileData maps file ID to its content.
	FileData map[string][]byte
	// Hooks lists the incoming webhooks of all teams.
	Hooks []*model.IncomingWebhook
	// HookStatus, if set, is returned by every webhook execution.
	HookStatus int
	// FailEndpoints causes specific path prefixes to return 500.
	FailEndpoints map[string]bool
}

func newFakeMM() *fakeMM {
	f := &fakeMM{
		Users:         make(map[string]*model.User),
		TokenToUser:   make(map[string]string),
		Channels:      make(map[string]*model.Channel),
		Posts:         make(map[string][]*model.Post),
		Files:         make(map[string]*model.FileInfo),
		FileData:      make(map[string][]byte),
		FailEndpoints: make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.handler))
	return f
}

func (f *fakeMM) Close() {
	f.Server.Close()
}

func (f *fakeMM) record(r *http.Request, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, endpointCall{Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Body: body})
}

func (f *fakeMM) Calls() []endpointCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeMM) CallCount(method, path string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.Method == method && c.Path == path {
			n++
		}
	}
	return n
}

func (f *fakeMM) Executed() []webhookCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.executed)
}

func (f *fakeMM) Created() []*model.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.created)
}

func (f *fakeMM) newID(prefix string) string {
	f.nextID++
	return fmt.Sprintf("%s%d", prefix, f.nextID)
}

func (f *fakeMM) resolveToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	for tok, uid := range f.TokenToUser {
		if auth == "BEARER "+tok || auth == "Bearer "+tok {
			return uid
		}
	}
	return ""
}

// addPosts appends posts to a channel with increasing timestamps.
func (f *fakeMM) addPosts(channelID string, posts ...*model.Post) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range posts {
		p.ChannelId = channelID
		if p.CreateAt == 0 {
			p.CreateAt = int64(1_700_000_000_000 + len(f.Posts[channelID])*1000)
		}
		f.Posts[channelID] = append(f.Posts[channelID], p)
	}
}

func (f *fakeMM) findPost(postID string) *model.Post {
	for _, posts := range f.Posts {
		for _, p := range posts {
			if p.Id == postID {
				return p
			}
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter, what string) {
	writeJSON(w, http.StatusNotFound, map[string]any{"id": "api.not_found", "message": what + " not found", "status_code": 404})
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil {
		return v
	}
	return def
}

// postsPage answers GetPostsForChannel and GetPostsAfter. Lists are ordered
// newest first like the real server.
func (f *fakeMM) postsPage(r *http.Request, channelID string) *model.PostList {
	posts := f.Posts[channelID]
	page, perPage := queryInt(r, "page", 0), queryInt(r, "per_page", 60)

	var window []*model.Post
	if after := r.URL.Query().Get("after"); after != "" {
		idx := slices.IndexFunc(posts, func(p *model.Post) bool { return p.Id == after })
		if idx >= 0 {
			rest := posts[idx+1:]
			start, end := min(page*perPage, len(rest)), min((page+1)*perPage, len(rest))
			window = rest[start:end]
		}
	} else {
		newestFirst := slices.Clone(posts)
		slices.Reverse(newestFirst)
		start, end := min(page*perPage, len(newestFirst)), min((page+1)*perPage, len(newestFirst))
		window = slices.Clone(newestFirst[start:end])
		slices.Reverse(window)
	}

	list := model.NewPostList()
	for i := len(window) - 1; i >= 0; i-- {
		list.AddPost(window[i])
		list.AddOrder(window[i].Id)
	}
	return list
}

func (f *fakeMM) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.record(r, string(body))

	f.mu.Lock()
	defer f.mu.Unlock()

	// Check if this endpoint should fail.
	for prefix := range f.FailEndpoints {
		if strings.Contains(r.URL.Path, prefix) {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "fake error"})
			return
		}
	}

	path := r.URL.Path
	segments := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	// GET /api/v4/users/me
	case r.Method == "GET" && path == "/api/v4/users/me":
		uid := f.resolveToken(r)
		if uid == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "unauthorized"})
			return
		}
		if u, ok := f.Users[uid]; ok {
			writeJSON(w, http.StatusOK, u)
			return
		}
		notFound(w, "user")

	// GET /api/v4/users/{user_id}
	case r.Method == "GET" && len(segments) == 4 && segments[2] == "users":
		if u, ok := f.Users[segments[3]]; ok {
			writeJSON(w, http.StatusOK, u)
			return
		}
		notFound(w, "user")

	// GET /api/v4/channels/{channel_id}
	case r.Method == "GET" && len(segments) == 4 && segments[2] == "channels":
		if ch, ok := f.Channels[segments[3]]; ok {
			writeJSON(w, http.StatusOK, ch)
			return
		}
		notFound(w, "channel")

	// GET /api/v4/channels/{channel_id}/posts (GetPostsForChannel / GetPostsAfter)
	case r.Method == "GET" && len(segments) == 5 && segments[2] == "channels" && segments[4] == "posts":
		writeJSON(w, http.StatusOK, f.postsPage(r, segments[3]))

	// GET /api/v4/posts/{post_id}
	case r.Method == "GET" && len(segments) == 4 && segments[2] == "posts":
		if p := f.findPost(segments[3]); p != nil {
			writeJSON(w, http.StatusOK, p)
			return
		}
		notFound(w, "post")

	// POST /api/v4/posts
	case r.Method == "POST" && path == "/api/v4/posts":
		var post model.Post
		_ = json.Unmarshal(body, &post)
		post.Id = f.newID("post")
		f.created = append(f.created, &post)
		writeJSON(w, http.StatusCreated, &post)

	// GET /api/v4/files/{file_id}/info
	case r.Method == "GET" && len(segments) == 5 && segments[2] == "files" && segments[4] == "info":
		if fi, ok := f.Files[segments[3]]; ok {
			writeJSON(w, http.StatusOK, fi)
			return
		}
		notFound(w, "file")

	// GET /api/v4/files/{file_id}
	case r.Method == "GET" && len(segments) == 4 && segments[2] == "files":
		data, ok := f.FileData[segments[3]]
		if !ok {
			notFound(w, "file")
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(data)

	// POST /api/v4/files (upload)
	case r.Method == "POST" && path == "/api/v4/files":
		writeJSON(w, http.StatusCreated, &model.FileUploadResponse{
			FileInfos: []*model.FileInfo{{Id: f.newID("upload"), Name: "upload"}},
		})

	// GET /api/v4/hooks/incoming?team_id=...
	case r.Method == "GET" && path == "/api/v4/hooks/incoming":
		teamID := r.URL.Query().Get("team_id")
		var hooks []*model.IncomingWebhook
		for _, h := range f.Hooks {
			if teamID == "" || h.TeamId == teamID {
				hooks = append(hooks, h)
			}
		}
		page, perPage := queryInt(r, "page", 0), queryInt(r, "per_page", 60)
		start, end := min(page*perPage, len(hooks)), min((page+1)*perPage, len(hooks))
		writeJSON(w, http.StatusOK, hooks[start:end])

	// POST /api/v4/hooks/incoming
	case r.Method == "POST" && path == "/api/v4/hooks/incoming":
		var hook model.IncomingWebhook
		_ = json.Unmarshal(body, &hook)
		ch, ok := f.Channels[hook.ChannelId]
		if !ok {
			notFound(w, "channel")
			return
		}
		hook.Id = f.newID("hook")
		hook.TeamId = ch.TeamId
		f.Hooks = append(f.Hooks, &hook)
		writeJSON(w, http.StatusCreated, &hook)

	// POST /hooks/{hook_id} (webhook execution)
	case r.Method == "POST" && len(segments) == 2 && segments[0] == "hooks":
		if f.HookStatus != 0 {
			w.WriteHeader(f.HookStatus)
			_, _ = w.Write([]byte("webhook disabled"))
			return
		}
		var req model.IncomingWebhookRequest
		_ = json.Unmarshal(body, &req)
		f.executed = append(f.executed, webhookCall{HookID: segments[1], Request: req})
		_, _ = w.Write([]byte("ok"))

	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found: " + path})
	}
}

// newWebSocketEvent creates a model.WebSocketEvent for testing handlers.
func newWebSocketEvent(eventType model.WebsocketEventType, channelID string, data map[string]any) *model.WebSocketEvent {
	evt := model.NewWebSocketEvent(eventType, "", channelID, "", nil, "")
	return evt.SetData(data)
}

// postedEvent builds a posted event carrying post as JSON.
func postedEvent(t *testing.T, post *model.Post, senderName, teamID string) *model.WebSocketEvent {
	t.Helper()
	data, err := json.Marshal(post)
	if err != nil {
		t.Fatalf("marshal post: %v", err)
	}
	return newWebSocketEvent(model.WebsocketEventPosted, post.ChannelId, map[string]any{
		"post":        string(data),
		"sender_name": senderName,
		"team_id":     teamID,
	})
}

// recordingHandler collects every message handed to it.
type recordingHandler struct {
	mu   sync.Mutex
	msgs []*relay.Message
}

func (h *recordingHandler) HandleMessage(_ context.Context, msg *relay.Message) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, msg)
	return 1
}

func (h *recordingHandler) Messages() []*relay.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.msgs)
}

// newTestClient creates a Client against a fake server, with the standard
// team, channels and users seeded. The client acts as user "my-user-id".
func newTestClient(t *testing.T) (*Client, *fakeMM) {
	t.Helper()
	fake := newFakeMM()
	t.Cleanup(fake.Close)

	fake.Users["my-user-id"] = &model.User{Id: "my-user-id", Username: "mirror", IsBot: true}
	fake.Users["u1"] = &model.User{Id: "u1", Username: "jdoe", FirstName: "John", LastName: "Doe"}
	fake.Users["bot1"] = &model.User{Id: "bot1", Username: "alertbot", IsBot: true}
	fake.TokenToUser["test-token"] = "my-user-id"
	for _, id := range []string{"src", "dst", "errors"} {
		fake.Channels[id] = &model.Channel{Id: id, TeamId: "team1", Name: id, Type: model.ChannelTypeOpen}
	}

	cfg := &Config{
		ServerURL:           fake.Server.URL,
		AccessToken:         "test-token",
		DisplaynameTemplate: "{{.FirstName}} {{.LastName}}",
		BotPrefix:           "mirror_",
	}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	cfg.AccessToken = "test-token"

	client := NewClient(cfg, zerolog.Nop())
	client.userID = "my-user-id"
	return client, fake
}

// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector runs the relay engine against a Mattermost server.
//
// # Core Types
//
// [Client] implements relay.Platform on the Mattermost REST API. Proxy
// endpoints are incoming webhooks; history is read oldest-first page by
// page. It also keeps a WebSocket connection open and hands every new post
// to the engine.
//
// [MirrorConnector] owns the client, the engine and the admin HTTP API and
// manages their lifecycle.
//
// [Config] is the YAML configuration, upgraded against the embedded example
// config on load.
//
// # Echo Prevention
//
// Mirrored posts must never be mirrored again. Layers include the client's
// own user ID, system message filtering, configurable username prefix
// matching, the from_webhook post prop and the author's bot flag. These
// layers must not be simplified or removed.
package connector

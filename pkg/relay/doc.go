// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package relay implements the mirroring engine: per-tenant relay rules,
// delayed and paced delivery through proxy endpoints, message chunking, bulk
// channel replication and the persisted per-tenant usage counters.
//
// # Core Types
//
// [Engine] matches inbound messages against a tenant's rules and schedules
// one delayed delivery task per match. The same delivery subroutine drives
// [CopyJob], which replays an entire channel history oldest-first.
//
// [Store] persists one [TenantConfig] per tenant as a JSON file. All
// mutations go through [Ledger], which serializes read-modify-write cycles
// per tenant so concurrent deliveries never lose counter increments.
//
// [EndpointCache] resolves the proxy endpoint used to post under the original
// author's display name and avatar.
//
// # Platform
//
// The engine never talks to the chat platform directly. Everything it needs
// is described by [Platform]; the Mattermost implementation lives in the
// connector package.
package relay

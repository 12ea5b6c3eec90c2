// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command mattermost-mirror relays posts between Mattermost channels. Each
// team configures relay rules through an admin HTTP API; posts in a source
// channel are re-posted into the target channel under the original author's
// name and avatar after an optional delay. Whole channel histories can be
// copied the same way.
package main

import (
	"os"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

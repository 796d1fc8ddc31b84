// Package timeouts defines shared timeout defaults for SafeHaven binaries.
// Centralizing these values keeps the realtime server, its tests and the
// operator tooling in agreement.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight work during graceful
// shutdown.
const Shutdown = 5 * time.Second

// Authenticate bounds the window a new WebSocket connection has to present a
// valid credential.
const Authenticate = 10 * time.Second

// HeartbeatInterval is how often the server pings an idle connection.
const HeartbeatInterval = 30 * time.Second

// HeartbeatTimeout is how long an outstanding ping may go unanswered.
const HeartbeatTimeout = 10 * time.Second

// Persist caps a single persistence call made while ingesting an update.
const Persist = 5 * time.Second

// Write caps a single frame write to a client.
const Write = 5 * time.Second

// StoreDial caps the initial connectivity check against a storage backend.
const StoreDial = 5 * time.Second

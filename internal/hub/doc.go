// Package hub implements the realtime core: session registry, subscription
// index, and event fan-out over WebSocket connections. All registry and
// index state is owned by a single goroutine fed through a command channel.
package hub

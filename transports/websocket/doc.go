// Package websocket provides the bridge.Listener that accepts the design-tool
// plugin over WebSocket. Every path upgrades; each message is one JSON frame.
package websocket

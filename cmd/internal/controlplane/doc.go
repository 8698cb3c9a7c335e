// Package controlplane holds per-connection state for operator consoles and node devices,
// and the registry that owns the live set of connections.
//
// The package depends only on the Transport interface; the WebSocket adapter lives in the
// gateway package.
package controlplane

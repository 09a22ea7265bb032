// Package server implements the HTTP and WebSocket surface of coedit.
//
// The implementation is organized into specialized files for configuration,
// the connection lifecycle, clients, routing, and HTTP handlers. Shared
// editing state lives in the hub package; this package only moves frames
// between sockets and the hub.
package server

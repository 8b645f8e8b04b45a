// Package server implements the chat server's event loop and transports.
//
// The implementation is organized into specialized files for configuration,
// the hub event loop, TCP and WebSocket connections, routing, and HTTP
// handlers. All chat state is owned by the hub goroutine; everything else
// talks to it through channels.
package server

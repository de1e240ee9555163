// Package server assembles the relay: one listener serving the WebSocket
// endpoint, the help page and HTTP forwarding, and an optional second
// listener for metrics, health probes and session introspection.
//
// Routing on the relay listener:
//
//	GET <websocketPath>   WebSocket relay session
//	GET /, GET /help      help page
//	anything else         forwarded to the HTTP upstream
//
// Stop shuts the listener down, cancels running sessions and waits for
// them to finish within the shutdown timeout.
package server

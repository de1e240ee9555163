// Package middleware provides the net/http middleware placed in front of the
// relay's HTTP surface: request IDs, access logging, panic recovery, inbound
// rate limiting and a circuit breaker around HTTP forwarding.
//
// Every middleware has the signature func(http.Handler) http.Handler and can
// be composed with Chain. Response writer wrappers implement http.Hijacker so
// that WebSocket upgrades pass through them unchanged.
package middleware

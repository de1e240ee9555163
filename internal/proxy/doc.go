// Package proxy provides the inbound handlers of the relay.
//
// HTTPForwarder passes every HTTP request through to the fixed upstream
// base URL and returns the upstream response unchanged. Redirects are
// never followed. A transport failure is reported to the caller as a 500
// response with a JSON body of the form {"error": "..."}.
//
// WebSocketHandler upgrades the client connection and hands it to a relay
// session from the session registry.
//
// # Usage
//
//	fwd, err := proxy.NewHTTPForwarder("https://api.example.com",
//	    proxy.WithForwarderLogger(logger),
//	    proxy.WithForwarderMetrics(metrics),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ws := proxy.NewWebSocketHandler(ctx, registry, proxy.WithWebSocketLogger(logger))
package proxy

package server

import (
	"html/template"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const helpTemplateName = "help"

var helpTemplate = template.Must(template.New(helpTemplateName).Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>avarelay</title>
  <style>
    body { font-family: sans-serif; max-width: 48em; margin: 2em auto; line-height: 1.5; }
    code { background: #f2f2f2; padding: 0.1em 0.3em; }
  </style>
</head>
<body>
  <h1>avarelay</h1>
  <p>HTTP and WebSocket forwarding proxy.</p>

  <h2>Targets</h2>
  <ul>
    <li>HTTP target: <code>{{.HTTPTarget}}</code></li>
    <li>WebSocket target: <code>{{.WebSocketTarget}}</code></li>
  </ul>

  <h2>Local addresses</h2>
  <ul>
    <li>WebSocket: <code>{{.WebSocketURL}}</code></li>
    <li>HTTP proxy: <code>{{.HTTPURL}}</code></li>
  </ul>

  <h2>Usage</h2>
  <p>Connect WebSocket clients to <code>{{.WebSocketURL}}</code>. Each connection
  opens its own connection to the WebSocket target; messages are relayed one
  client message, then one upstream reply, in turn.</p>
  <p>Any other request to <code>{{.HTTPURL}}</code> is sent to the HTTP target with
  the same method, path, query, headers and body, and the upstream response is
  returned unchanged.</p>
</body>
</html>
`))

// helpData feeds the help page.
type helpData struct {
	HTTPTarget      string
	WebSocketTarget string
	WebSocketURL    string
	HTTPURL         string
}

// helpData describes the configured targets and the local addresses. The
// port comes from the bound listener so that port 0 resolves correctly.
func (s *Server) helpData() helpData {
	host := s.cfg.Server.Host
	port := s.cfg.Server.Port
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		port = addr.Port
	}
	local := net.JoinHostPort(host, strconv.Itoa(port))

	return helpData{
		HTTPTarget:      s.cfg.Upstream.HTTPBaseURL,
		WebSocketTarget: s.cfg.Upstream.WebSocketURL,
		WebSocketURL:    "ws://" + local + s.cfg.Server.WebSocketPath,
		HTTPURL:         "http://" + local,
	}
}

func (s *Server) serveHelp(c *gin.Context) {
	c.HTML(http.StatusOK, helpTemplateName, s.helpData())
}

// Package upstream relays entire Socket.IO sessions, both plain HTTP and
// WebSocket transports, to an upstream runtime without interpreting the
// protocol.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sandbridge/sandbridge/internal/common/logger"
)

const (
	// maxConnectTimeout clamps the configured upstream connect timeout.
	maxConnectTimeout = 30 * time.Second

	closeGracePeriod = time.Second
)

// hopByHopHeaders are never forwarded in either direction. The WebSocket
// negotiation headers are excluded too because each leg performs its own
// handshake.
var hopByHopHeaders = map[string]bool{
	"Connection":               true,
	"Keep-Alive":               true,
	"Proxy-Authenticate":       true,
	"Proxy-Authorization":      true,
	"Te":                       true,
	"Trailer":                  true,
	"Transfer-Encoding":        true,
	"Upgrade":                  true,
	"Sec-Websocket-Key":        true,
	"Sec-Websocket-Version":    true,
	"Sec-Websocket-Extensions": true,
	"Sec-Websocket-Protocol":   true,
	"Sec-Websocket-Accept":     true,
}

// Proxy relays Socket.IO traffic to the configured upstream base URL.
type Proxy struct {
	baseURL        *url.URL
	connectTimeout time.Duration
	client         *http.Client
	upgrader       websocket.Upgrader
	logger         *logger.Logger
}

// NewProxy creates a proxy for the given upstream base URL (http or https).
func NewProxy(baseURL string, connectTimeout time.Duration, log *logger.Logger) (*Proxy, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("upstream url must be http or https, got %q", parsed.Scheme)
	}
	if connectTimeout <= 0 || connectTimeout > maxConnectTimeout {
		connectTimeout = maxConnectTimeout
	}
	return &Proxy{
		baseURL:        parsed,
		connectTimeout: connectTimeout,
		client:         &http.Client{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: log.WithFields(zap.String("component", "upstream_proxy")),
	}, nil
}

// Handle relays one request. WebSocket upgrades become a byte-for-byte frame
// relay; everything else is forwarded as plain HTTP.
func (p *Proxy) Handle(c *gin.Context) {
	if websocket.IsWebSocketUpgrade(c.Request) {
		p.handleWebSocket(c)
		return
	}
	p.handleHTTP(c)
}

// rewriteURL maps the incoming request path onto the upstream base: the
// mount prefix is replaced by the upstream path and query strings are
// concatenated.
func (p *Proxy) rewriteURL(c *gin.Context, scheme string) *url.URL {
	target := *p.baseURL
	target.Scheme = scheme

	suffix := c.Param("any")
	target.Path = strings.TrimSuffix(p.baseURL.Path, "/") + "/socket.io" + suffix

	query := c.Request.URL.RawQuery
	if target.RawQuery != "" && query != "" {
		target.RawQuery += "&" + query
	} else if query != "" {
		target.RawQuery = query
	}
	return &target
}

func (p *Proxy) handleHTTP(c *gin.Context) {
	target := p.rewriteURL(c, p.baseURL.Scheme)

	req, err := http.NewRequestWithContext(c.Request.Context(),
		c.Request.Method, target.String(), c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to build upstream request"})
		return
	}
	copyHeaders(req.Header, c.Request.Header)

	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.WithError(err).Warn("upstream http request failed",
			zap.String("url", target.String()))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream request failed"})
		return
	}
	defer func() { _ = resp.Body.Close() }()

	for name, values := range resp.Header {
		if hopByHopHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			c.Writer.Header().Add(name, v)
		}
	}
	c.Status(resp.StatusCode)
	if _, err := io.Copy(c.Writer, resp.Body); err != nil {
		p.logger.WithError(err).Debug("upstream response copy interrupted")
	}
}

func (p *Proxy) handleWebSocket(c *gin.Context) {
	wsScheme := "ws"
	if p.baseURL.Scheme == "https" {
		wsScheme = "wss"
	}
	target := p.rewriteURL(c, wsScheme)

	clientConn, err := p.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		p.logger.WithError(err).Warn("client upgrade failed")
		return
	}

	header := http.Header{}
	copyHeaders(header, c.Request.Header)
	// Cookies ride in a forwarded header normally, but some clients split
	// them across multiple Cookie lines; re-add them explicitly.
	header.Del("Cookie")
	for _, cookie := range c.Request.Cookies() {
		header.Add("Cookie", cookie.String())
	}

	dialer := websocket.Dialer{HandshakeTimeout: p.connectTimeout}
	ctx, cancel := context.WithTimeout(c.Request.Context(), p.connectTimeout)
	defer cancel()

	upstreamConn, resp, err := dialer.DialContext(ctx, target.String(), header)
	if err != nil {
		reason := "upstream connect failed"
		if ctx.Err() == context.DeadlineExceeded {
			reason = "upstream connect timed out"
		}
		p.logger.WithError(err).Warn(reason, zap.String("url", target.String()))
		_ = clientConn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, reason),
			time.Now().Add(closeGracePeriod))
		_ = clientConn.Close()
		return
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	p.logger.Info("websocket session relayed", zap.String("url", target.String()))
	p.relay(clientConn, upstreamConn)
}

// relay pumps frames in both directions until either side terminates, then
// closes both sockets. Shutdown errors are swallowed; by the time a pump
// fails the session is over either way.
func (p *Proxy) relay(clientConn, upstreamConn *websocket.Conn) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pumpFrames(clientConn, upstreamConn)
	}()
	go func() {
		defer wg.Done()
		pumpFrames(upstreamConn, clientConn)
	}()
	wg.Wait()
	p.logger.Debug("websocket relay finished")
}

// pumpFrames copies frames from src to dst until src fails, then performs a
// best-effort graceful close of dst so its own pump unwinds too.
func pumpFrames(src, dst *websocket.Conn) {
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			_ = dst.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(closeGracePeriod))
			_ = dst.Close()
			_ = src.Close()
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			_ = src.Close()
			return
		}
	}
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		if hopByHopHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

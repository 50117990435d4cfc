// Package gateway exposes the event stream and the blob store over HTTP.
//
// Events are emitted with a POST and received over a websocket, one broker
// subscription per socket. Blobs are addressed by tenant, record id and data CID.
package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/config"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/contracts"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/logging"
)

const (
	defaultListenAddr     = ":8080"
	defaultRequestTimeout = 60 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultMaxBlobSize    = 64 << 20
)

// Config holds gateway settings.
type Config struct {
	ListenAddr     string
	RequestTimeout time.Duration
	PingInterval   time.Duration
	MaxBlobSize    int64
}

// ConfigFrom maps the daemon's gateway section.
func ConfigFrom(gc config.GatewayConfig) Config {
	return Config{
		ListenAddr:     gc.ListenAddr,
		RequestTimeout: gc.RequestTimeout,
		PingInterval:   gc.PingInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.MaxBlobSize <= 0 {
		c.MaxBlobSize = defaultMaxBlobSize
	}
	return c
}

// Gateway is the HTTP front of the event stream and the blob store.
type Gateway struct {
	cfg       Config
	logger    *logging.ColoredLogger
	stream    contracts.EventStream
	store     contracts.DataStore
	router    chi.Router
	server    *http.Server
	upgrader  websocket.Upgrader
	startedAt time.Time

	connsMu sync.Mutex
	conns   map[*websocket.Conn]struct{}
}

// New builds a gateway. Either backend may be nil, in which case its routes
// answer 503.
func New(cfg Config, logger *logging.ColoredLogger, stream contracts.EventStream, store contracts.DataStore) (*Gateway, error) {
	if logger == nil {
		l, err := logging.NewDefaultLogger(logging.ComponentGateway)
		if err != nil {
			return nil, err
		}
		logger = l
	}

	g := &Gateway{
		cfg:    cfg.withDefaults(),
		logger: logger,
		stream: stream,
		store:  store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin checks are left to the fronting proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		startedAt: time.Now(),
		conns:     make(map[*websocket.Conn]struct{}),
	}
	g.router = g.routes()
	g.server = &http.Server{
		Addr:              g.cfg.ListenAddr,
		Handler:           g.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g, nil
}

// Handler returns the gateway's HTTP handler.
func (g *Gateway) Handler() http.Handler { return g.router }

// ListenAndServe serves until Shutdown is called.
func (g *Gateway) ListenAndServe() error {
	g.logger.ComponentInfo(logging.ComponentGateway, "Gateway listening",
		zap.String("addr", g.cfg.ListenAddr))
	if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, sends a going-away close to every open
// websocket and waits for in-flight requests.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.ComponentInfo(logging.ComponentGateway, "Shutting down gateway")

	g.connsMu.Lock()
	conns := make([]*websocket.Conn, 0, len(g.conns))
	for c := range g.conns {
		conns = append(conns, c)
	}
	g.connsMu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		_ = c.Close()
	}

	return g.server.Shutdown(ctx)
}

func (g *Gateway) trackConn(c *websocket.Conn) {
	g.connsMu.Lock()
	g.conns[c] = struct{}{}
	g.connsMu.Unlock()
}

func (g *Gateway) untrackConn(c *websocket.Conn) {
	g.connsMu.Lock()
	delete(g.conns, c)
	g.connsMu.Unlock()
}

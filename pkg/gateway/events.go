package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/contracts"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/eventstream"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/httputil"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/logging"
)

const (
	writeWait      = 10 * time.Second
	closeTimeout   = 10 * time.Second
	frameBuffer    = 128
	maxClientFrame = 4096
)

type emitRequest struct {
	Event   contracts.MessageEvent `json:"event"`
	Indexes contracts.KeyValues    `json:"indexes"`
}

// emitHandler publishes one event for the tenant in the path.
func (g *Gateway) emitHandler(w http.ResponseWriter, r *http.Request) {
	if g.stream == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}
	tenant := chi.URLParam(r, "tenant")
	if !httputil.ValidateSegment(tenant) {
		httputil.WriteError(w, http.StatusBadRequest, "invalid tenant")
		return
	}

	var req emitRequest
	if err := httputil.DecodeJSONStrict(r, &req, httputil.DefaultMaxBody); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if req.Event == nil {
		httputil.WriteError(w, http.StatusBadRequest, "event is required")
		return
	}
	if req.Indexes == nil {
		req.Indexes = contracts.KeyValues{}
	}

	if err := g.stream.Emit(r.Context(), tenant, req.Event, req.Indexes); err != nil {
		g.logger.ComponentWarn(logging.ComponentGateway, "Emit failed",
			zap.String("tenant", tenant), zap.Error(err))
		httputil.WriteErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

// subscribeHandler subscribes before upgrading, so a failed subscription is
// still answered with a plain HTTP error. Each delivered event is written to
// the socket as one JSON text frame.
func (g *Gateway) subscribeHandler(w http.ResponseWriter, r *http.Request) {
	if g.stream == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "event stream not configured")
		return
	}
	tenant := chi.URLParam(r, "tenant")
	if !httputil.ValidateSegment(tenant) {
		httputil.WriteError(w, http.StatusBadRequest, "invalid tenant")
		return
	}
	id := httputil.QueryParam(r, "id", uuid.NewString())
	if !httputil.ValidateSegment(id) {
		httputil.WriteError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	frames := make(chan []byte, frameBuffer)
	listener := func(tenant string, event contracts.MessageEvent, indexes contracts.KeyValues) error {
		data, err := eventstream.Encode(eventstream.Envelope{Tenant: tenant, Event: event, Indexes: indexes})
		if err != nil {
			return err
		}
		select {
		case frames <- data:
			return nil
		default:
			return fmt.Errorf("websocket client is not keeping up, event dropped")
		}
	}

	sub, err := g.stream.Subscribe(r.Context(), tenant, id, listener)
	if err != nil {
		g.logger.ComponentWarn(logging.ComponentGateway, "Subscribe failed",
			zap.String("tenant", tenant), zap.String("id", id), zap.Error(err))
		httputil.WriteErr(w, err)
		return
	}
	closeSub := func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := sub.Close(ctx); err != nil {
			g.logger.ComponentWarn(logging.ComponentGateway, "Failed to close subscription",
				zap.String("tenant", tenant), zap.String("id", id), zap.Error(err))
		}
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		closeSub()
		return
	}
	defer closeSub()
	defer conn.Close()
	g.trackConn(conn)
	defer g.untrackConn(conn)
	conn.SetReadLimit(maxClientFrame)

	g.logger.ComponentInfo(logging.ComponentGateway, "Websocket subscribed",
		zap.String("tenant", tenant), zap.String("id", id))

	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(g.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case data := <-frames:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					g.logger.ComponentDebug(logging.ComponentGateway, "Websocket write failed", zap.Error(err))
					// Unblocks the reader.
					_ = conn.Close()
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					_ = conn.Close()
					return
				}
			case <-done:
				return
			}
		}
	}()

	// Client frames are ignored; reading only detects the close.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	close(done)
	<-writerDone

	g.logger.ComponentInfo(logging.ComponentGateway, "Websocket closed",
		zap.String("tenant", tenant), zap.String("id", id))
}

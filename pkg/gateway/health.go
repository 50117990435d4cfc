package gateway

import (
	"net/http"
	"time"

	"github.com/mackerelio/go-osstat/memory"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/httputil"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/logging"
)

type memoryStats struct {
	Total uint64 `json:"total"`
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
}

// healthResponse is the JSON structure used by healthHandler
type healthResponse struct {
	Status        string       `json:"status"`
	StartedAt     time.Time    `json:"started_at"`
	Uptime        string       `json:"uptime"`
	StreamOpen    *bool        `json:"stream_open,omitempty"`
	Subscriptions *int         `json:"subscriptions,omitempty"`
	BlobStore     bool         `json:"blob_store"`
	Memory        *memoryStats `json:"memory,omitempty"`
}

func (g *Gateway) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		StartedAt: g.startedAt,
		Uptime:    time.Since(g.startedAt).String(),
		BlobStore: g.store != nil,
	}

	if s, ok := g.stream.(interface{ IsOpen() bool }); ok {
		open := s.IsOpen()
		resp.StreamOpen = &open
	}
	if s, ok := g.stream.(interface{ Active() int }); ok {
		n := s.Active()
		resp.Subscriptions = &n
	}

	if mem, err := memory.Get(); err == nil {
		resp.Memory = &memoryStats{Total: mem.Total, Used: mem.Used, Free: mem.Free}
	} else {
		g.logger.ComponentDebug(logging.ComponentGateway, "Failed to read memory stats", zap.Error(err))
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}

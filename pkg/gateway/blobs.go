package gateway

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DeBrosOfficial/dwn-plugins/pkg/errors"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/httputil"
	"github.com/DeBrosOfficial/dwn-plugins/pkg/logging"
)

// HeaderDataCID carries the data CID of a returned blob.
const HeaderDataCID = "X-Data-Cid"

type blobAddress struct {
	tenant   string
	recordID string
	dataCID  string
}

// blobRequest validates the backend and the path segments, answering the
// request itself when either is unusable.
func (g *Gateway) blobRequest(w http.ResponseWriter, r *http.Request) (blobAddress, bool) {
	if g.store == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "blob store not configured")
		return blobAddress{}, false
	}
	addr := blobAddress{
		tenant:   chi.URLParam(r, "tenant"),
		recordID: chi.URLParam(r, "recordId"),
		dataCID:  chi.URLParam(r, "dataCid"),
	}
	for name, v := range map[string]string{"tenant": addr.tenant, "recordId": addr.recordID, "dataCid": addr.dataCID} {
		if !httputil.ValidateSegment(v) {
			httputil.WriteError(w, http.StatusBadRequest, "invalid "+name)
			return blobAddress{}, false
		}
	}
	return addr, true
}

func (g *Gateway) putBlobHandler(w http.ResponseWriter, r *http.Request) {
	addr, ok := g.blobRequest(w, r)
	if !ok {
		return
	}

	body := http.MaxBytesReader(w, r.Body, g.cfg.MaxBlobSize)
	res, err := g.store.Put(r.Context(), addr.tenant, addr.recordID, addr.dataCID, body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, http.StatusRequestEntityTooLarge, "blob exceeds size limit")
			return
		}
		g.logger.ComponentWarn(logging.ComponentGateway, "Blob put failed",
			zap.String("tenant", addr.tenant), zap.String("record_id", addr.recordID), zap.Error(err))
		httputil.WriteErr(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (g *Gateway) getBlobHandler(w http.ResponseWriter, r *http.Request) {
	addr, ok := g.blobRequest(w, r)
	if !ok {
		return
	}

	res, err := g.store.Get(r.Context(), addr.tenant, addr.recordID, addr.dataCID)
	if err != nil {
		if !errors.IsNotFound(err) {
			g.logger.ComponentWarn(logging.ComponentGateway, "Blob get failed",
				zap.String("tenant", addr.tenant), zap.String("record_id", addr.recordID), zap.Error(err))
		}
		httputil.WriteErr(w, err)
		return
	}
	defer res.Data.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(res.DataSize, 10))
	w.Header().Set(HeaderDataCID, res.DataCID)
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, res.Data); err != nil {
		g.logger.ComponentDebug(logging.ComponentGateway, "Blob write interrupted", zap.Error(err))
	}
}

func (g *Gateway) deleteBlobHandler(w http.ResponseWriter, r *http.Request) {
	addr, ok := g.blobRequest(w, r)
	if !ok {
		return
	}
	if err := g.store.Delete(r.Context(), addr.tenant, addr.recordID, addr.dataCID); err != nil {
		httputil.WriteErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (g *Gateway) clearBlobsHandler(w http.ResponseWriter, r *http.Request) {
	if g.store == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "blob store not configured")
		return
	}
	if err := g.store.Clear(r.Context()); err != nil {
		httputil.WriteErr(w, err)
		return
	}
	g.logger.ComponentInfo(logging.ComponentGateway, "Blob store cleared")
	w.WriteHeader(http.StatusNoContent)
}

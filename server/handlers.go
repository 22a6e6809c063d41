package server

import (
	"errors"
	"net/http"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"

	"roadhazard/api"
	"roadhazard/offline"
	"roadhazard/reporting"
)

func (s *Server) Help(c *gin.Context) {
	c.String(http.StatusOK, `
	Road hazard agent control API, version 2.0.
	GET  /status, /pending_reports, /failed_items, /metrics, /ws/status
	POST /report, /sync_now, /abandon, /retry_failed, /nearby
	`)
}

func (s *Server) statusResponse(c *gin.Context) api.StatusResponse {
	st := s.svc.Status()
	resp := api.StatusResponse{
		Online:       st.Online,
		PendingCount: st.PendingCount,
	}
	last, found, err := s.svc.LastSync(c.Request.Context())
	if err != nil {
		log.Warnf("Failed to read last sync time: %v", err)
	} else if found {
		resp.LastSync = last.UnixMilli()
	}
	return resp
}

func (s *Server) Status(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.statusResponse(c)) // 200
}

func (s *Server) SubmitReport(c *gin.Context) {
	args := &api.SubmitReportArgs{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to get the argument in %s call: %v", api.SubmitReportEndpoint, err)
		return
	}

	sub, err := s.svc.SubmitReport(c.Request.Context(), offline.PendingReport{
		ID:        args.Id,
		Type:      args.Type,
		Severity:  args.Severity,
		Address:   args.Address,
		Notes:     args.Notes,
		Timestamp: args.Timestamp,
		PhotoURI:  args.PhotoURI,
		Location:  args.Location,
	})
	if err != nil {
		s.fail(c, api.SubmitReportEndpoint, err)
		return
	}
	c.IndentedJSON(http.StatusOK, api.SubmitReportResponse{
		Id:     sub.ID,
		Queued: sub.Queued,
		Seq:    sub.Seq,
	}) // 200
}

func (s *Server) SyncNow(c *gin.Context) {
	n, err := s.svc.SyncNow(c.Request.Context())
	if err != nil {
		s.fail(c, api.SyncNowEndpoint, err)
		return
	}
	c.IndentedJSON(http.StatusOK, api.SyncNowResponse{
		Synced:       n,
		PendingCount: s.svc.PendingCount(),
	}) // 200
}

func (s *Server) PendingReports(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.svc.PendingReports(c.Request.Context())) // 200
}

func (s *Server) FailedItems(c *gin.Context) {
	items, err := s.svc.FailedItems(c.Request.Context())
	if err != nil {
		s.fail(c, api.FailedItemsEndpoint, err)
		return
	}
	if items == nil {
		items = []offline.SyncQueueItem{}
	}
	c.IndentedJSON(http.StatusOK, items) // 200
}

func (s *Server) Abandon(c *gin.Context) {
	args := &api.ItemArgs{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to get the argument in %s call: %v", api.AbandonEndpoint, err)
		return
	}
	if err := s.svc.Abandon(c.Request.Context(), args.Id); err != nil {
		s.fail(c, api.AbandonEndpoint, err)
		return
	}
	c.Status(http.StatusOK) // 200
}

func (s *Server) RetryFailed(c *gin.Context) {
	args := &api.ItemArgs{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to get the argument in %s call: %v", api.RetryFailedEndpoint, err)
		return
	}
	if err := s.svc.RetryFailed(c.Request.Context(), args.Id); err != nil {
		s.fail(c, api.RetryFailedEndpoint, err)
		return
	}
	c.Status(http.StatusOK) // 200
}

func (s *Server) Nearby(c *gin.Context) {
	args := &api.NearbyArgs{}
	if err := c.BindJSON(args); err != nil {
		log.Errorf("Failed to get the argument in %s call: %v", api.NearbyLocalEndpoint, err)
		return
	}
	res, err := s.svc.Nearby(c.Request.Context(), args.VPort)
	if err != nil {
		s.fail(c, api.NearbyLocalEndpoint, err)
		return
	}
	c.IndentedJSON(http.StatusOK, api.NearbyLocalResponse{
		Live:     res.Live,
		Stale:    res.Stale,
		Features: offline.FeatureCollection(res.Reports),
	}) // 200
}

// fail maps service errors onto HTTP statuses.
func (s *Server) fail(c *gin.Context, endpoint string, err error) {
	var (
		remote  *reporting.RemoteError
		storage *offline.StorageError
	)
	switch {
	case errors.Is(err, offline.ErrInvalidReport), errors.Is(err, reporting.ErrPhotoUnreadable):
		c.String(http.StatusBadRequest, err.Error()) // 400
	case errors.Is(err, offline.ErrNotFound):
		c.String(http.StatusNotFound, err.Error()) // 404
	case errors.Is(err, offline.ErrOffline):
		c.String(http.StatusServiceUnavailable, err.Error()) // 503
	case errors.As(err, &remote):
		c.String(http.StatusUnprocessableEntity, remote.Body) // 422
	case errors.As(err, &storage):
		log.Errorf("Storage failure in %s: %v", endpoint, err)
		c.String(http.StatusInternalServerError, "local storage unavailable") // 500
	default:
		log.Errorf("Failed %s: %v", endpoint, err)
		c.String(http.StatusInternalServerError, err.Error()) // 500
	}
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"roadhazard/api"
	"roadhazard/offline"
)

type Server struct {
	svc *offline.Service
	hub *Hub
}

func New(svc *offline.Service) *Server {
	return &Server{
		svc: svc,
		hub: NewHub(),
	}
}

func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) Router() *gin.Engine {
	router := gin.Default()
	router.Use(cors.New(cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowOrigins:     []string{"*"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	// Websocket upgrades must not be gzipped.
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{api.StatusStreamEndpoint})))

	router.GET(api.HelpEndpoint, s.Help)
	router.GET(api.StatusEndpoint, s.Status)
	router.POST(api.SubmitReportEndpoint, s.SubmitReport)
	router.POST(api.SyncNowEndpoint, s.SyncNow)
	router.GET(api.PendingReportsEndpoint, s.PendingReports)
	router.GET(api.FailedItemsEndpoint, s.FailedItems)
	router.POST(api.AbandonEndpoint, s.Abandon)
	router.POST(api.RetryFailedEndpoint, s.RetryFailed)
	router.POST(api.NearbyLocalEndpoint, s.Nearby)
	router.GET(api.StatusStreamEndpoint, s.StatusStream)
	router.GET(api.MetricsEndpoint, gin.WrapH(promhttp.Handler()))
	return router
}

// Run serves the control API on port until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	go s.hub.Run(ctx)
	unsubscribe := s.svc.Subscribe(s.hub.BroadcastStatus)
	defer unsubscribe()

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Router(),
	}
	errc := make(chan error, 1)
	go func() {
		log.Infof("Control API listening on %s", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

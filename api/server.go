package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	tmlog "github.com/cometbft/cometbft/libs/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NethermindEth/chaoschain-persona/api/handlers"
)

const shutdownTimeout = 10 * time.Second

// Server is the REST API.
type Server struct {
	router *gin.Engine
	srv    *http.Server
	logger tmlog.Logger
}

// NewServer builds the router. Nothing listens until Run.
func NewServer(port int, h *handlers.Handler, gatherer prometheus.Gatherer, logger tmlog.Logger) *Server {
	if logger == nil {
		logger = tmlog.NewNopLogger()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	SetupRoutes(router, h, gatherer)

	return &Server{
		router: router,
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger.With("module", "api"),
	}
}

// Router exposes the gin engine, mostly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	s.logger.Info("API server stopped")
	return nil
}

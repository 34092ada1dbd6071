// Package api serves experiment results over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/signalnine/nilmbench/internal/catalog"
	"github.com/signalnine/nilmbench/internal/result"
)

type Options struct {
	Addr    string
	Origins []string
}

// Server bundles the router with the result store and the run catalog.
// Catalog may be nil, in which case /api/v1/runs answers 404.
type Server struct {
	opts    Options
	store   *result.Store
	catalog *catalog.Store
	engine  *gin.Engine
}

func New(opts Options, store *result.Store, cat *catalog.Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(gin.Logger())
	engine.Use(corsMiddleware(opts.Origins))

	s := &Server{opts: opts, store: store, catalog: cat, engine: engine}
	s.registerRoutes()
	return s
}

// Engine exposes the underlying gin engine (for tests).
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.opts.Addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.engine.Group("/api/v1")
	v1.GET("/reports", s.handleListReports)
	v1.GET("/reports/:device/:model/:type/:experiment", s.handleGetReport)
	v1.GET("/predictions/:device/:model/:type/:experiment/:iteration", s.handleGetPredictions)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:run_id/folds", s.handleListFolds)
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		return cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "OPTIONS"},
			AllowHeaders:    []string{"Origin", "Content-Type"},
			ExposeHeaders:   []string{"Content-Length"},
			MaxAge:          12 * time.Hour,
		})
	}
	return cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	})
}

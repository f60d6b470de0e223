// Package server provides the HTTP API for Margo.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/margolab/margo/internal/config"
	"github.com/margolab/margo/internal/history"
	"github.com/margolab/margo/internal/viewer"
	"github.com/margolab/margo/internal/watcher"
)

// Server is the HTTP server for the Margo API.
type Server struct {
	session  *viewer.Session
	history  *history.SQLiteHistory
	catalog  *watcher.Catalog
	config   *config.ServerConfig
	maxScale float64
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a server with the given dependencies. history and
// catalog may be nil; their endpoints then report not-implemented.
func NewServer(
	session *viewer.Session,
	hist *history.SQLiteHistory,
	catalog *watcher.Catalog,
	cfg *config.ServerConfig,
	maxScale float64,
	logger *zap.Logger,
) *Server {
	if maxScale <= 0 {
		maxScale = 4.0
	}
	return &Server{
		session:  session,
		history:  hist,
		catalog:  catalog,
		config:   cfg,
		maxScale: maxScale,
		logger:   logger,
	}
}

// Handler builds the route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(180 * time.Second))
	r.Use(middleware.Compress(5))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/document", s.handleLoadDocument)
		r.Get("/document", s.handleDocumentInfo)

		r.Get("/mode", s.handleGetMode)
		r.Put("/mode", s.handleSetMode)

		r.Post("/selection/text", s.handleTextSelection)
		r.Post("/selection/drag/begin", s.handleDragBegin)
		r.Post("/selection/drag/update", s.handleDragUpdate)
		r.Post("/selection/drag/end", s.handleDragEnd)

		r.Get("/draft", s.handleGetDraft)
		r.Post("/draft/question", s.handleDraftQuestion)
		r.Post("/draft/note", s.handleDraftNote)
		r.Post("/draft/ask", s.handleDraftAsk)
		r.Post("/draft/confirm", s.handleDraftConfirm)
		r.Post("/draft/cancel", s.handleDraftCancel)

		r.Post("/pages/{page}/note", s.handlePageNote)

		r.Get("/annotations", s.handleListAnnotations)
		r.Get("/annotations/search", s.handleSearchAnnotations)
		r.Get("/annotations/{id}", s.handleGetAnnotation)
		r.Put("/annotations/{id}/note", s.handleUpdateNote)
		r.Delete("/annotations/{id}", s.handleDeleteAnnotation)

		r.Post("/render/{page}", s.handleRenderRequest)
		r.Get("/render/{page}", s.handleRenderState)
		r.Get("/render/{page}/image", s.handleRenderImage)
		r.Post("/render/invalidate", s.handleRenderInvalidate)

		r.Post("/viewport/layout", s.handleViewportLayout)
		r.Post("/viewport/scroll", s.handleViewportScroll)
		r.Get("/viewport", s.handleViewportCurrent)
		r.Post("/viewport/scroll-to/page", s.handleScrollToPage)
		r.Post("/viewport/scroll-to/annotation", s.handleScrollToAnnotation)

		r.Get("/session/export", s.handleSessionExport)
		r.Post("/session/save", s.handleSessionSave)
		r.Post("/session/import", s.handleSessionImport)
		r.Get("/sessions", s.handleSessionList)

		r.Get("/export/pdf", s.handleExportPDF)
		r.Get("/export/xlsx", s.handleExportXLSX)

		r.Get("/history", s.handleHistory)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

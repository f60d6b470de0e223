package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/margolab/margo/internal/geometry"
	"github.com/margolab/margo/internal/interact"
	"github.com/margolab/margo/internal/lifecycle"
	"github.com/margolab/margo/internal/session"
	"github.com/margolab/margo/internal/viewer"
	"github.com/margolab/margo/internal/viewport"
)

type loadDocumentRequest struct {
	Name       string `json:"name"`
	DataBase64 string `json:"dataBase64"`
}

func (s *Server) handleLoadDocument(w http.ResponseWriter, r *http.Request) {
	var req loadDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" || req.DataBase64 == "" {
		s.respondError(w, http.StatusBadRequest, "name and dataBase64 are required")
		return
	}
	pdfBytes, err := base64.StdEncoding.DecodeString(req.DataBase64)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "dataBase64 is not valid base64")
		return
	}
	info, err := s.session.LoadDocument(r.Context(), req.Name, pdfBytes)
	if err != nil {
		s.logger.Error("document load failed", zap.String("name", req.Name), zap.Error(err))
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, info)
}

func (s *Server) handleDocumentInfo(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.session.Info())
}

func (s *Server) handleGetMode(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"mode": string(s.session.Mode())})
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.session.SetMode(interact.Mode(req.Mode)); err != nil {
		if errors.Is(err, lifecycle.ErrNotReady) {
			s.respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"mode": req.Mode})
}

type textSelectionRequest struct {
	Page     int                  `json:"page"`
	Lines    []geometry.PixelRect `json:"lines"`
	Bounds   geometry.PixelRect   `json:"bounds"`
	Text     string               `json:"text"`
	PageSize geometry.Size        `json:"pageSize"`
}

func (s *Server) handleTextSelection(w http.ResponseWriter, r *http.Request) {
	var req textSelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	draft, err := s.session.TextSelection(req.Page, req.Lines, req.Bounds, req.Text, req.PageSize)
	if err != nil {
		s.respondFromError(w, err)
		return
	}
	// A nil draft means the selection was ignored (wrong mode, empty text).
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"draft": draft})
}

type dragRequest struct {
	Page     int            `json:"page"`
	Point    geometry.Point `json:"point"`
	PageSize geometry.Size  `json:"pageSize"`
}

func (s *Server) handleDragBegin(w http.ResponseWriter, r *http.Request) {
	var req dragRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	started := s.session.BeginDrag(req.Page, req.Point)
	s.respondJSON(w, http.StatusOK, map[string]bool{"started": started})
}

func (s *Server) handleDragUpdate(w http.ResponseWriter, r *http.Request) {
	var req dragRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rect, active := s.session.UpdateDrag(req.Point)
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"active": active, "rect": rect})
}

func (s *Server) handleDragEnd(w http.ResponseWriter, r *http.Request) {
	var req dragRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	draft, err := s.session.EndDrag(req.Point, req.PageSize)
	if err != nil {
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"draft": draft})
}

func (s *Server) handleGetDraft(w http.ResponseWriter, r *http.Request) {
	draft, open := s.session.Draft()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"open": open, "draft": draft})
}

func (s *Server) handleDraftQuestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.session.SetQuestion(req.Question); err != nil {
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDraftNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.session.SetDraftNote(req.Note); err != nil {
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDraftAsk(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Backend string `json:"backend"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ann, err := s.session.Ask(r.Context(), req.Backend)
	if err != nil {
		s.logger.Warn("ask failed", zap.String("backend", req.Backend), zap.Error(err))
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, ann)
}

func (s *Server) handleDraftConfirm(w http.ResponseWriter, r *http.Request) {
	ann, err := s.session.ConfirmDraft()
	if err != nil {
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, ann)
}

func (s *Server) handleDraftCancel(w http.ResponseWriter, r *http.Request) {
	s.session.CancelDraft()
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handlePageNote(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid page")
		return
	}
	draft, err := s.session.OpenPageNote(page)
	if err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrNotReady), errors.Is(err, interact.ErrDraftOpen):
			s.respondFromError(w, err)
		default:
			s.respondError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{"draft": draft})
}

func (s *Server) handleListAnnotations(w http.ResponseWriter, r *http.Request) {
	if pageParam := r.URL.Query().Get("page"); pageParam != "" {
		page, err := strconv.Atoi(pageParam)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid page")
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]interface{}{"annotations": s.session.AnnotationsByPage(page)})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"annotations": s.session.Annotations()})
}

func (s *Server) handleSearchAnnotations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	anns, err := s.session.SearchAnnotations(query, limit)
	if err != nil {
		s.logger.Error("annotation search failed", zap.Error(err))
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"annotations": anns})
}

func (s *Server) handleGetAnnotation(w http.ResponseWriter, r *http.Request) {
	ann, err := s.session.Annotation(chi.URLParam(r, "id"))
	if err != nil {
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, ann)
}

func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Note string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.session.UpdateNote(id, req.Note); err != nil {
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "updated"})
}

func (s *Server) handleDeleteAnnotation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.session.RemoveAnnotation(id); err != nil {
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleRenderRequest(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || page < 1 {
		s.respondError(w, http.StatusBadRequest, "invalid page")
		return
	}
	if err := s.session.Guard(); err != nil {
		s.respondFromError(w, err)
		return
	}
	var req struct {
		Scale float64 `json:"scale"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Scale <= 0 {
		req.Scale = 1.0
	}
	if req.Scale > s.maxScale {
		req.Scale = s.maxScale
	}
	// The render settles in the background; clients poll the state endpoint.
	s.session.Render().Request(context.WithoutCancel(r.Context()), page, req.Scale)
	state, _ := s.session.Render().StateOf(page)
	s.respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"page":  page,
		"scale": req.Scale,
		"state": state.String(),
	})
}

func (s *Server) handleRenderState(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || page < 1 {
		s.respondError(w, http.StatusBadRequest, "invalid page")
		return
	}
	state, renderErr := s.session.Render().StateOf(page)
	resp := map[string]interface{}{
		"page":  page,
		"state": state.String(),
	}
	if renderErr != nil {
		resp["error"] = renderErr.Error()
	}
	if result, ok := s.session.Render().Result(page); ok {
		resp["scale"] = result.Scale
		resp["width"] = result.Raster.Width
		resp["height"] = result.Raster.Height
		resp["textItems"] = result.TextItems
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRenderImage(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(chi.URLParam(r, "page"))
	if err != nil || page < 1 {
		s.respondError(w, http.StatusBadRequest, "invalid page")
		return
	}
	result, ok := s.session.Render().Result(page)
	if !ok || result.Raster == nil {
		s.respondError(w, http.StatusNotFound, "page has no rendered raster")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Raster.Image)
}

func (s *Server) handleRenderInvalidate(w http.ResponseWriter, r *http.Request) {
	s.session.Render().Invalidate()
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

type viewportLayoutRequest struct {
	Extents        []viewport.PageExtent `json:"extents"`
	ViewportHeight float64               `json:"viewportHeight"`
}

func (s *Server) handleViewportLayout(w http.ResponseWriter, r *http.Request) {
	var req viewportLayoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.session.Viewport().SetLayout(req.Extents, req.ViewportHeight)
	s.respondJSON(w, http.StatusOK, map[string]int{"currentPage": s.session.Viewport().Current()})
}

func (s *Server) handleViewportScroll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Offset float64 `json:"offset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	page := s.session.Viewport().SetScroll(req.Offset)
	s.respondJSON(w, http.StatusOK, map[string]int{"currentPage": page})
}

func (s *Server) handleViewportCurrent(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]int{"currentPage": s.session.Viewport().Current()})
}

func (s *Server) handleScrollToPage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Page int `json:"page"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	offset, err := s.session.Viewport().ScrollToPage(req.Page)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]float64{"offset": offset})
}

func (s *Server) handleScrollToAnnotation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	offset, err := s.session.ScrollToAnnotation(req.ID)
	if err != nil {
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]float64{"offset": offset})
}

func (s *Server) handleSessionExport(w http.ResponseWriter, r *http.Request) {
	data, err := s.session.ExportSession()
	if err != nil {
		s.respondFromError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="session.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleSessionSave(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FileName string `json:"fileName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	path, err := s.session.SaveSession(req.FileName)
	if err != nil {
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": path})
}

func (s *Server) handleSessionImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	info, err := s.session.ImportSession(r.Context(), data)
	if err != nil {
		s.logger.Warn("session import failed", zap.Error(err))
		s.respondFromError(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, info)
}

func (s *Server) handleSessionList(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		s.respondError(w, http.StatusNotImplemented, "session catalog not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"sessions": s.catalog.List()})
}

func (s *Server) handleExportPDF(w http.ResponseWriter, r *http.Request) {
	data, err := s.session.ExportAnnotated()
	if err != nil {
		s.logger.Error("annotated export failed", zap.Error(err))
		s.respondFromError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="annotated.pdf"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleExportXLSX(w http.ResponseWriter, r *http.Request) {
	data, err := s.session.ExportXLSX()
	if err != nil {
		s.logger.Error("spreadsheet export failed", zap.Error(err))
		s.respondFromError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="annotations.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.respondError(w, http.StatusNotImplemented, "history not enabled")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	entries, err := s.history.List(r.Context(), limit)
	if err != nil {
		s.logger.Error("history list failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "engine": s.session.Info().Phase})
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondFromError maps domain errors onto HTTP statuses.
func (s *Server) respondFromError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrNotReady):
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, viewer.ErrAnnotationNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, interact.ErrDraftOpen),
		errors.Is(err, interact.ErrNoDraft),
		errors.Is(err, interact.ErrSubmitInFlight),
		errors.Is(err, interact.ErrDraftSuperseded),
		errors.Is(err, lifecycle.ErrLoadInProgress):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrInvalidSession),
		errors.Is(err, viewer.ErrUnknownProvider):
		s.respondError(w, http.StatusBadRequest, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// Package api implements the node search HTTP API.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/fruitsalade/fruitsalade/nodesearch/internal/auth"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/logging"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/metadata"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/metrics"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/search"
	"github.com/fruitsalade/fruitsalade/nodesearch/internal/sharing"
	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/models"
	"github.com/fruitsalade/fruitsalade/nodesearch/pkg/protocol"
)

// maxBodySize caps JSON request bodies.
const maxBodySize = 1 << 20

// Server is the HTTP API.
type Server struct {
	store    metadata.Store
	finder   *search.Finder
	links    sharing.Links
	auth     *auth.Auth
	backend  string
	validate *validator.Validate
}

// NewServer creates a new server.
func NewServer(store metadata.Store, finder *search.Finder, links sharing.Links, authHandler *auth.Auth, backend string) *Server {
	return &Server{
		store:    store,
		finder:   finder,
		links:    links,
		auth:     authHandler,
		backend:  backend,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Handler returns the HTTP handler with all routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/public/folders/{id}/nodes", s.handlePublicFind)

	protect := func(h http.HandlerFunc) http.Handler { return s.auth.Middleware(h) }
	mux.Handle("POST /api/v1/nodes/find", protect(s.handleFind))
	mux.Handle("POST /api/v1/nodes/move", protect(s.handleMove))
	mux.Handle("POST /api/v1/links", protect(s.handleCreateLink))
	mux.Handle("DELETE /api/v1/links/{id}", protect(s.handleRevokeLink))

	// Metrics sits inside logging so it sees the matched route pattern.
	return logging.Middleware(metrics.Middleware(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, protocol.HealthResponse{Status: "ok", Backend: s.backend})
}

// ─── Search ─────────────────────────────────────────────────────────────────

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req protocol.FindRequest
	if !s.decode(w, r, &req) {
		return
	}

	// A page token carries its own criteria; inline ones are ignored then.
	var (
		filters search.Filters
		sortKey *search.SortKey
	)
	if req.PageToken == "" {
		if req.Limit < 0 {
			s.sendError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filters = toFilters(req.Filters)
		if err := search.ValidateFilters(filters); err != nil {
			s.sendError(w, http.StatusBadRequest, "invalid filters: "+err.Error())
			return
		}
		if req.Sort != "" {
			key, err := search.ParseSortKey(req.Sort)
			if err != nil {
				s.sendError(w, http.StatusBadRequest, err.Error())
				return
			}
			sortKey = &key
		}
	}

	page, err := s.finder.Find(r.Context(), claims.UserID(), search.Request{
		Filters:   filters,
		Sort:      sortKey,
		Limit:     req.Limit,
		PageToken: req.PageToken,
	})
	if err != nil {
		s.sendSearchError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, toFindResponse(page))
}

func (s *Server) handlePublicFind(w http.ResponseWriter, r *http.Request) {
	folderID := r.PathValue("id")
	q := r.URL.Query()

	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.sendError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	pageToken := q.Get("page_token")
	if len(pageToken) > 8192 {
		s.sendError(w, http.StatusBadRequest, search.ErrInvalidPageToken.Error())
		return
	}

	folder, err := s.store.GetNode(r.Context(), folderID)
	if errors.Is(err, metadata.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "folder not found")
		return
	}
	if err != nil {
		logging.WithContext(r.Context()).Error("get linked folder failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if folder.Category == models.CategoryFile {
		s.sendError(w, http.StatusNotFound, "folder not found")
		return
	}

	_, err = s.links.ActiveLinkForNode(r.Context(), folderID, r.Header.Get("X-Link-Password"))
	switch {
	case errors.Is(err, sharing.ErrLinkNotFound):
		s.sendError(w, http.StatusNotFound, "folder not found")
		return
	case errors.Is(err, sharing.ErrLinkPassword):
		s.sendError(w, http.StatusUnauthorized, err.Error())
		return
	case err != nil:
		logging.WithContext(r.Context()).Error("link lookup failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
		return
	}

	page, err := s.finder.FindPublic(r.Context(), folderID, limit, pageToken)
	if err != nil {
		s.sendSearchError(w, r, err)
		return
	}
	s.sendJSON(w, http.StatusOK, toFindResponse(page))
}

func (s *Server) sendSearchError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, search.ErrInvalidPageToken) {
		s.sendError(w, http.StatusBadRequest, search.ErrInvalidPageToken.Error())
		return
	}
	logging.WithContext(r.Context()).Error("search failed", zap.Error(err))
	s.sendError(w, http.StatusInternalServerError, "search failed")
}

// ─── Move ───────────────────────────────────────────────────────────────────

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req protocol.MoveRequest
	if !s.decode(w, r, &req) {
		return
	}

	for _, id := range append([]string{req.DestinationID}, req.NodeIDs...) {
		if !s.requireOwner(w, r, id, claims.UserID()) {
			return
		}
	}

	moved, err := s.store.MoveNodes(r.Context(), req.NodeIDs, req.DestinationID)
	switch {
	case errors.Is(err, metadata.ErrNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, metadata.ErrInvalidMove):
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		logging.WithContext(r.Context()).Error("move failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "move failed")
		return
	}

	logging.WithContext(r.Context()).Info("nodes moved",
		zap.String("user_id", claims.UserID()),
		zap.Int("count", len(moved)),
		zap.String("destination_id", req.DestinationID))
	s.sendJSON(w, http.StatusOK, protocol.MoveResponse{Nodes: moved})
}

// requireOwner writes an error and returns false unless userID owns id.
func (s *Server) requireOwner(w http.ResponseWriter, r *http.Request, id, userID string) bool {
	n, err := s.store.GetNode(r.Context(), id)
	if errors.Is(err, metadata.ErrNotFound) {
		s.sendError(w, http.StatusNotFound, "node not found: "+id)
		return false
	}
	if err != nil {
		logging.WithContext(r.Context()).Error("get node failed", zap.String("node_id", id), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
		return false
	}
	if n.OwnerID != userID {
		s.sendError(w, http.StatusForbidden, "access denied: "+id)
		return false
	}
	return true
}

// ─── Links ──────────────────────────────────────────────────────────────────

func (s *Server) handleCreateLink(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req protocol.CreateLinkRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.requireOwner(w, r, req.NodeID, claims.UserID()) {
		return
	}
	n, err := s.store.GetNode(r.Context(), req.NodeID)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if n.Category == models.CategoryFile {
		s.sendError(w, http.StatusBadRequest, "only folders can be published")
		return
	}

	link, err := s.links.Create(r.Context(), req.NodeID, claims.UserID(), req.Password,
		time.Duration(req.ExpiresInSec)*time.Second)
	if err != nil {
		logging.WithContext(r.Context()).Error("create link failed", zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to create link")
		return
	}

	logging.WithContext(r.Context()).Info("link created",
		zap.String("link_id", link.ID),
		zap.String("node_id", link.NodeID),
		zap.Bool("protected", link.PasswordHash != ""))
	s.sendJSON(w, http.StatusCreated, protocol.LinkResponse{
		ID:        link.ID,
		NodeID:    link.NodeID,
		ExpiresAt: link.ExpiresAt,
		Protected: link.PasswordHash != "",
		CreatedAt: link.CreatedAt,
	})
}

func (s *Server) handleRevokeLink(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetClaims(r.Context())
	if claims == nil {
		s.sendError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	linkID := r.PathValue("id")
	link, err := s.links.Get(r.Context(), linkID)
	if errors.Is(err, sharing.ErrLinkNotFound) {
		s.sendError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		logging.WithContext(r.Context()).Error("get link failed", zap.String("link_id", linkID), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !s.requireOwner(w, r, link.NodeID, claims.UserID()) {
		return
	}

	if err := s.links.Revoke(r.Context(), linkID); err != nil {
		logging.WithContext(r.Context()).Error("revoke link failed", zap.String("link_id", linkID), zap.Error(err))
		s.sendError(w, http.StatusInternalServerError, "failed to revoke link")
		return
	}
	logging.WithContext(r.Context()).Info("link revoked",
		zap.String("link_id", linkID),
		zap.String("node_id", link.NodeID))
	w.WriteHeader(http.StatusNoContent)
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// decode reads and validates a JSON body into v, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return false
	}
	return true
}

func toFilters(f protocol.Filters) search.Filters {
	return search.Filters{
		FolderID:     f.FolderID,
		Cascade:      f.Cascade,
		Flagged:      f.Flagged,
		SharedWithMe: f.SharedWithMe,
		SharedByMe:   f.SharedByMe,
		DirectShare:  f.DirectShare,
		OwnerID:      f.OwnerID,
		NodeType:     f.NodeType,
		Keywords:     f.Keywords,
	}
}

func toFindResponse(p *search.Page) protocol.FindResponse {
	nodes := p.Nodes
	if nodes == nil {
		nodes = []*models.Node{}
	}
	return protocol.FindResponse{Nodes: nodes, PageToken: p.NextPageToken}
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(protocol.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

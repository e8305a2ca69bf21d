package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/serp-visibility-crawler/internal/crawler"
)

type nameRequest struct {
	Name string `json:"name"`
}

type domainRequest struct {
	Domain string `json:"domain"`
}

type startRequest struct {
	IntervalHours float64 `json:"interval_hours"`
}

type entityResponse struct {
	crawler.Entity
	Domains []crawler.Domain `json:"domains"`
}

func (s *Server) listEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := s.entities.ListEntities(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entities": entities})
}

func (s *Server) getEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "entity_id")
	if !ok {
		return
	}
	entity, err := s.entities.GetEntity(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	domains, err := s.entities.ListDomains(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entityResponse{Entity: entity, Domains: domains})
}

func (s *Server) createEntity(w http.ResponseWriter, r *http.Request) {
	name, ok := s.decodeName(w, r)
	if !ok {
		return
	}
	entity, err := s.entities.CreateEntity(r.Context(), name)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, entity)
}

func (s *Server) renameEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "entity_id")
	if !ok {
		return
	}
	name, ok := s.decodeName(w, r)
	if !ok {
		return
	}
	entity, err := s.entities.RenameEntity(r.Context(), id, name)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, entity)
}

func (s *Server) deleteEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "entity_id")
	if !ok {
		return
	}
	if err := s.entities.DeleteEntity(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listDomains(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "entity_id")
	if !ok {
		return
	}
	domains, err := s.entities.ListDomains(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"domains": domains})
}

func (s *Server) addDomain(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "entity_id")
	if !ok {
		return
	}
	var req domainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Domain) == "" {
		s.writeError(w, http.StatusBadRequest, "domain is required")
		return
	}
	domain, err := s.entities.AddDomain(r.Context(), id, req.Domain)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, domain)
}

func (s *Server) deleteDomain(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "domain_id")
	if !ok {
		return
	}
	if err := s.entities.DeleteDomain(r.Context(), id); err != nil {
		s.storeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// searchEntity runs one crawl outside the scheduler. The run is returned to
// the caller and not written to the scheduler's result cache.
func (s *Server) searchEntity(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "entity_id")
	if !ok {
		return
	}
	entity, err := s.entities.GetEntity(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	owned, err := s.entities.ListOwnedDomains(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	run, err := s.searcher.Run(r.Context(), crawler.TrackedEntity{ID: entity.ID, Name: entity.Name, OwnedDomains: owned})
	if err != nil {
		var failed *crawler.CrawlFailedError
		if errors.As(err, &failed) {
			s.writeError(w, http.StatusBadGateway, "failed to search entity: "+failed.Cause.Error())
			return
		}
		s.logger.Error("search failed", zap.Int64("entity_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to search entity")
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) startScheduler(w http.ResponseWriter, r *http.Request) {
	interval := s.opts.DefaultInterval
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.IntervalHours < 0 {
		s.writeError(w, http.StatusBadRequest, "interval_hours must be positive")
		return
	}
	if req.IntervalHours > 0 {
		interval = time.Duration(req.IntervalHours * float64(time.Hour))
	}
	started, err := s.scheduler.Start(s.opts.BaseContext, interval)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	msg := "scheduler started with " + interval.String() + " interval"
	if !started {
		msg = "scheduler already running"
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"started": started, "message": msg})
}

func (s *Server) stopScheduler(w http.ResponseWriter, _ *http.Request) {
	stopped := s.scheduler.Stop()
	msg := "scheduler stopped"
	if !stopped {
		msg = "scheduler not running"
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"stopped": stopped, "message": msg})
}

func (s *Server) schedulerStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.scheduler.Status())
}

func (s *Server) schedulerResults(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"results": s.scheduler.Results()})
}

func (s *Server) schedulerResult(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r, "entity_id")
	if !ok {
		return
	}
	run, found := s.scheduler.ResultFor(id)
	if !found {
		s.writeError(w, http.StatusNotFound, "no stored run for entity")
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

func (s *Server) decodeName(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req nameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return "", false
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return "", false
	}
	return name, true
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, http.StatusBadRequest, "invalid "+param)
		return 0, false
	}
	return id, true
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, crawler.ErrConflict):
		s.writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("store operation failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

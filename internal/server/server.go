// Package server - REST и websocket поверх storage.Backend.
//
//	GET    /api/{kind}?<filter>&limit=&cursor=   список записей
//	POST   /api/{kind}                           создание, 201
//	PATCH  /api/{kind}/{id}                      изменение
//	DELETE /api/{kind}/{id}                      удаление, 204
//	GET    /ws?kinds=comment,vote                лента изменений
//	GET    /metrics, /healthz
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/UkralStul/feedsync/internal/feed"
	"github.com/UkralStul/feedsync/internal/feed/ws"
	"github.com/UkralStul/feedsync/internal/httpapi"
	"github.com/UkralStul/feedsync/internal/remote"
	"github.com/UkralStul/feedsync/internal/storage"
)

const maxBodyBytes = 1 << 20

type Server struct {
	backend storage.Backend
	hub     *feed.Hub
	ws      ws.Settings
	logger  *slog.Logger
}

func New(backend storage.Backend, hub *feed.Hub, settings ws.Settings, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{backend: backend, hub: hub, ws: settings, logger: logger.With("component", "server")}
}

// Router собирает chi-роутер со всеми маршрутами.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	if s.hub != nil {
		r.Get("/ws", ws.Handler(s.hub, s.ws, s.logger))
	}

	r.Route("/api/{kind}", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/", s.list)
		r.Post("/", s.create)
		r.Patch("/{id}", s.update)
		r.Delete("/{id}", s.remove)
	})
	return r
}

func kindParam(r *http.Request) (remote.Kind, error) {
	kind := remote.Kind(chi.URLParam(r, "kind"))
	switch kind {
	case remote.KindPost, remote.KindComment, remote.KindVote, remote.KindVoteTally,
		remote.KindFriendship, remote.KindNotification:
		return kind, nil
	}
	return "", &remote.ValidationError{Field: "kind", Reason: "is unknown"}
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	filter := remote.Filter{}
	var page remote.Page
	for key, values := range r.URL.Query() {
		switch key {
		case "limit":
			n, err := strconv.Atoi(values[0])
			if err != nil || n < 0 {
				s.writeError(w, r, &remote.ValidationError{Field: "limit", Reason: "must be a non-negative integer"})
				return
			}
			page.Limit = n
		case "cursor":
			page.Cursor = values[0]
		default:
			filter[key] = values[0]
		}
	}
	if uid := r.Header.Get(httpapi.UserHeader); uid != "" {
		if _, ok := filter["viewer_id"]; !ok {
			filter["viewer_id"] = uid
		}
	}

	recs, err := s.backend.Fetch(r.Context(), kind, filter, page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []remote.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) create(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	payload, err := readRecord(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if uid := r.Header.Get(httpapi.UserHeader); uid != "" {
		owner := "user_id"
		switch kind {
		case remote.KindPost:
			owner = "author_id"
		case remote.KindNotification:
			owner = "actor_id"
		}
		if _, ok := payload[owner]; !ok {
			payload[owner] = uid
		}
	}
	rec, err := s.backend.Create(r.Context(), kind, payload)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	patch, err := readRecord(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if uid := r.Header.Get(httpapi.UserHeader); uid != "" && kind == remote.KindFriendship {
		if _, ok := patch["actor_id"]; !ok {
			patch["actor_id"] = uid
		}
	}
	rec, err := s.backend.Update(r.Context(), kind, chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request) {
	kind, err := kindParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.backend.Delete(r.Context(), kind, chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func readRecord(r *http.Request) (remote.Record, error) {
	var rec remote.Record
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(&rec); err != nil {
		return nil, &remote.ValidationError{Field: "body", Reason: "must be a JSON object"}
	}
	if rec == nil {
		rec = remote.Record{}
	}
	return rec, nil
}

// writeError переводит ошибку бэкенда в статус и тело ErrorBody.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	body := httpapi.ErrorBody{Error: err.Error()}
	var status int
	var verr *remote.ValidationError
	switch {
	case errors.As(err, &verr):
		status, body.Code, body.Field = http.StatusBadRequest, httpapi.CodeValidation, verr.Field
	case errors.Is(err, remote.ErrNotFound):
		status, body.Code = http.StatusNotFound, httpapi.CodeNotFound
	case errors.Is(err, remote.ErrConflict):
		status, body.Code = http.StatusConflict, httpapi.CodeConflict
	case errors.Is(err, remote.ErrUnauthorized), errors.Is(err, remote.ErrUnauthenticated):
		status, body.Code = http.StatusForbidden, httpapi.CodeUnauthorized
	default:
		status, body.Code = http.StatusInternalServerError, httpapi.CodeInternal
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"error", err)
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

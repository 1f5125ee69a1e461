// Package server exposes data sources over HTTP for previewing a migrated
// database.
//
// Routes:
//
//	GET /healthz                        database ping and schema hash
//	GET /models                         models and their data sources
//	GET /models/{model}/{dataSource}    every root object, materialized
//	GET /models/{model}/{dataSource}?id=<pk>
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/pthm/cidl/pkg/migrator"
	"github.com/pthm/cidl/pkg/orm"
	"github.com/pthm/cidl/pkg/schema"
)

const shutdownTimeout = 5 * time.Second

// DB is what the server needs from a database handle.
type DB interface {
	orm.Querier
	PingContext(ctx context.Context) error
}

// Server serves the data source views of one schema revision.
type Server struct {
	db      DB
	dialect migrator.Dialect
	ast     *schema.MigrationsAst
	log     zerolog.Logger
	router  chi.Router
}

// New creates a server for the revision described by ast.
func New(db DB, dialect migrator.Dialect, ast *schema.MigrationsAst, log zerolog.Logger) *Server {
	s := &Server{db: db, dialect: dialect, ast: ast, log: log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.health)
	r.Route("/models", func(r chi.Router) {
		r.Get("/", s.listModels)
		r.Get("/{model}/{dataSource}", s.queryDataSource)
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":      "ok",
		"dialect":     s.dialect.Name(),
		"schema_hash": strconv.FormatUint(s.ast.Hash, 10),
	}
	if err := s.db.PingContext(r.Context()); err != nil {
		body["status"] = "unavailable"
		body["error"] = err.Error()
		s.writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	s.writeJSON(w, http.StatusOK, body)
}

type modelInfo struct {
	Name        string   `json:"name"`
	PrimaryKey  string   `json:"primary_key"`
	DataSources []string `json:"data_sources"`
}

func (s *Server) listModels(w http.ResponseWriter, _ *http.Request) {
	out := make([]modelInfo, 0, len(s.ast.Models))
	for _, m := range s.ast.Models {
		info := modelInfo{Name: m.Name, PrimaryKey: m.PrimaryKey.Name, DataSources: []string{}}
		for _, ds := range m.DataSources {
			info.DataSources = append(info.DataSources, ds.Name)
		}
		out = append(out, info)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) queryDataSource(w http.ResponseWriter, r *http.Request) {
	model := chi.URLParam(r, "model")
	dataSource := chi.URLParam(r, "dataSource")

	raw := r.URL.Query().Get("id")
	if raw == "" {
		objs, err := orm.QueryDataSource(r.Context(), s.db, s.dialect, s.ast, model, dataSource)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, objs)
		return
	}

	id, err := orm.ParseKey(s.ast, model, raw)
	if orm.IsUnknownModelErr(err) {
		s.writeError(w, r, err)
		return
	}
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	obj, err := orm.GetDataSource(r.Context(), s.db, s.dialect, s.ast, model, dataSource, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if obj == nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": model + " " + raw + " not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, obj)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case orm.IsUnknownModelErr(err), errors.Is(err, orm.ErrUnknownDataSource):
		status = http.StatusNotFound
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("query failed")
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn().Err(err).Msg("writing response")
	}
}

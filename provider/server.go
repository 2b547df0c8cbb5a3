package provider

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/maxpert/ripple/entity"
	"github.com/maxpert/ripple/rx"
	"github.com/rs/zerolog/log"
)

const (
	// SecretHeader carries the shared secret
	SecretHeader = "X-Ripple-Secret"

	defaultLimit = 1000
)

// Server exposes gateway tables over HTTP. Writes go through the gateway
// so they reach local observers.
type Server struct {
	db     *rx.Database
	secret string
	router chi.Router
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithSecret requires clients to present secret
func WithSecret(secret string) ServerOption {
	return func(s *Server) {
		s.secret = secret
	}
}

// NewServer builds the routes for every table registered with d
func NewServer(d *rx.Database, opts ...ServerOption) *Server {
	s := &Server{db: d}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.authMiddleware)

	r.Route("/{table}", func(r chi.Router) {
		r.Use(s.tableMiddleware)
		r.Get("/", s.handleQuery)
		r.Put("/", s.handlePut)
		r.Delete("/", s.handleDeleteWhere)
		r.Get("/count", s.handleCount)
		r.Get("/{id}", s.handleGet)
		r.Delete("/{id}", s.handleDeleteByID)
	})

	s.router = r
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Mount serves the provider under prefix on mux
func (s *Server) Mount(mux *http.ServeMux, prefix string) {
	prefix = strings.TrimSuffix(prefix, "/")
	mux.Handle(prefix+"/", http.StripPrefix(prefix, s))
	log.Info().Str("prefix", prefix).Msg("Provider endpoints enabled")
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.secret == "" {
			next.ServeHTTP(w, r)
			return
		}

		provided := r.Header.Get(SecretHeader)
		if provided == "" {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeErrorResponse(w, http.StatusUnauthorized, "missing authentication header")
				return
			}
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeErrorResponse(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}
			provided = parts[1]
		}

		if provided != s.secret {
			writeErrorResponse(w, http.StatusUnauthorized, "invalid secret")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) tableMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		table, err := s.db.Table(chi.URLParam(r, "table"))
		if err != nil {
			writeErrorResponse(w, http.StatusNotFound, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(withTable(r.Context(), table)))
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	table := tableFrom(r.Context())

	b, err := parseBuilder(r)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	// Stream a JSON array so clients can decode lazily
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	first := true
	for e, err := range table.Query(b).All(r.Context()) {
		if err != nil {
			if first {
				writeErrorResponse(w, statusFor(err), err.Error())
				return
			}
			// Headers are gone; truncate the array so the client sees a broken stream
			log.Error().Err(err).Str("table", table.Name()).Msg("Query failed mid-stream")
			return
		}
		sep := ","
		if first {
			sep = "["
			first = false
		}
		if _, err := w.Write([]byte(sep)); err != nil {
			return
		}
		if err := enc.Encode(e); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
			return
		}
	}
	if first {
		w.Write([]byte("["))
	}
	w.Write([]byte("]\n"))
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	n, err := tableFrom(r.Context()).Count(r.Context())
	if err != nil {
		writeErrorResponse(w, statusFor(err), err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, countResponse{Count: n})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	e, found, err := tableFrom(r.Context()).Get(r.Context(), id)
	if err != nil {
		writeErrorResponse(w, statusFor(err), err.Error())
		return
	}
	if !found {
		writeErrorResponse(w, http.StatusNotFound, "not found")
		return
	}
	writeJSONResponse(w, http.StatusOK, e)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	table := tableFrom(r.Context())

	e := table.New()
	if err := json.NewDecoder(r.Body).Decode(e); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid entity: "+err.Error())
		return
	}

	if _, err := s.db.PutNow(r.Context(), e); err != nil {
		writeErrorResponse(w, statusFor(err), err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, e)
}

func (s *Server) handleDeleteByID(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	deleted, err := tableFrom(r.Context()).DeleteByID(r.Context(), id)
	if err != nil {
		writeErrorResponse(w, statusFor(err), err.Error())
		return
	}
	n := int64(0)
	if deleted {
		n = 1
	}
	writeJSONResponse(w, http.StatusOK, deleteResponse{Deleted: n})
}

func (s *Server) handleDeleteWhere(w http.ResponseWriter, r *http.Request) {
	where, args := selectionFrom(r)
	n, err := tableFrom(r.Context()).DeleteWhere(r.Context(), where, args...)
	if err != nil {
		writeErrorResponse(w, statusFor(err), err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, deleteResponse{Deleted: n})
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid id")
		return 0, false
	}
	return id, true
}

func selectionFrom(r *http.Request) (string, []any) {
	q := r.URL.Query()
	var args []any
	for _, a := range q[ParamArg] {
		args = append(args, a)
	}
	return q.Get(ParamWhere), args
}

// parseBuilder reads where, arg, order, limit and offset parameters. Order
// terms prefixed with - sort descending.
func parseBuilder(r *http.Request) (*rx.Builder, error) {
	q := r.URL.Query()
	where, args := selectionFrom(r)
	b := rx.Select().Where(where, args...)

	for _, term := range q[ParamOrder] {
		if col, ok := strings.CutPrefix(term, "-"); ok {
			b.OrderByDesc(col)
		} else {
			b.OrderBy(term)
		}
	}

	limit := uint64(defaultLimit)
	if v := q.Get(ParamLimit); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, errors.New("invalid limit parameter")
		}
		limit = n
	}
	b.Limit(uint(limit))

	if v := q.Get(ParamOffset); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return nil, errors.New("invalid offset parameter")
		}
		b.Offset(uint(n))
	}
	return b, nil
}

func statusFor(err error) int {
	if errors.Is(err, entity.ErrNotRegistered) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

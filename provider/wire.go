package provider

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/maxpert/ripple/rx"
	"github.com/rs/zerolog/log"
)

// Query parameters understood by the query and delete routes
const (
	ParamWhere  = "where"
	ParamArg    = "arg"
	ParamOrder  = "order"
	ParamLimit  = "limit"
	ParamOffset = "offset"
)

type countResponse struct {
	Count int64 `json:"count"`
}

type deleteResponse struct {
	Deleted int64 `json:"deleted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSONResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	writeJSONResponse(w, status, errorResponse{Error: message})
}

type tableCtxKey struct{}

func withTable(ctx context.Context, t *rx.Table) context.Context {
	return context.WithValue(ctx, tableCtxKey{}, t)
}

func tableFrom(ctx context.Context) *rx.Table {
	t, _ := ctx.Value(tableCtxKey{}).(*rx.Table)
	return t
}

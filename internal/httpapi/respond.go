package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/bartek5186/hurtownia/internal/apperr"
)

// Statusy w kopercie odpowiedzi.
const (
	statusOK           = "ok"
	statusBadRequest   = "bad request"
	statusNotFound     = "not found"
	statusForbidden    = "forbidden"
	statusUnauthorized = "unauthorized"
	statusError        = "error"
)

var errBadJSON = apperr.New(apperr.Validation, "invalid request format")

// envelope to ciało każdej odpowiedzi: {"status": ..., ...payload}.
type envelope map[string]any

func respond(w http.ResponseWriter, code int, status string, payload envelope) {
	body := envelope{"status": status}
	for k, v := range payload {
		body[k] = v
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func ok(w http.ResponseWriter, payload envelope) {
	respond(w, http.StatusOK, statusOK, payload)
}

// httpStatus mapuje kategorię błędu na kod HTTP i status koperty.
// Konflikty i błędy źródła cennika klient widzi jako bad request.
func httpStatus(k apperr.Kind) (int, string) {
	switch k {
	case apperr.Validation, apperr.Conflict, apperr.Upstream:
		return http.StatusBadRequest, statusBadRequest
	case apperr.NotFound:
		return http.StatusNotFound, statusNotFound
	case apperr.Forbidden:
		return http.StatusForbidden, statusForbidden
	case apperr.Unauthorized:
		return http.StatusUnauthorized, statusUnauthorized
	default:
		return http.StatusInternalServerError, statusError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code, status := httpStatus(apperr.KindOf(err))
	ev := s.log.Warn()
	if code == http.StatusInternalServerError {
		ev = s.log.Error()
	}
	ev.Err(err).Str("req_id", middleware.GetReqID(r.Context())).
		Str("method", r.Method).Str("path", r.URL.Path).Int("code", code).Msg("request failed")
	respond(w, code, status, envelope{"error": apperr.Message(err)})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.Validation, errBadJSON.Msg, err)
	}
	return nil
}

// accessLog loguje każde żądanie po obsłużeniu.
func accessLog(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info().
				Str("req_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("code", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("took", time.Now().Sub(start)).
				Msg("http")
		})
	}
}

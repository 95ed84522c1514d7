// Package api exposes reading sessions over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/abhisek/lectio/internal/llm"
	"github.com/abhisek/lectio/internal/reading"
	"github.com/abhisek/lectio/internal/tutor"
)

// UserHeader carries the caller's user id.
const UserHeader = "X-User-ID"

const maxBodyBytes = 1 << 20

type contextKey int

const userIDKey contextKey = iota

// Tutor is the session surface served by the API. *tutor.Service satisfies it.
type Tutor interface {
	StartSession(ctx context.Context, userID, contentID string) (*reading.StartResult, error)
	Session(ctx context.Context, sessionID, userID string) (*reading.Session, error)
	UpdatePrePhase(ctx context.Context, sessionID, userID string, in reading.PreReading) (*reading.Session, error)
	SaveSummary(ctx context.Context, sessionID, userID, text string) (*reading.Session, error)
	AdvancePhase(ctx context.Context, sessionID, userID string, to reading.Phase) (*reading.Session, error)
	ProcessUtterance(ctx context.Context, u tutor.Utterance) (*tutor.Reply, error)
	Outcome(ctx context.Context, sessionID, userID string) (*reading.Outcome, error)
}

// Handler serves the session endpoints.
type Handler struct {
	tutor    Tutor
	gatherer prometheus.Gatherer
	log      *zap.Logger
}

// NewHandler creates a Handler. A nil gatherer serves the default registry
// on /metrics.
func NewHandler(t Tutor, gatherer prometheus.Gatherer, log *zap.Logger) *Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{tutor: t, gatherer: gatherer, log: log}
}

// Router returns the full HTTP handler.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(h.accessLog)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))

	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Route("/sessions", func(r chi.Router) {
		r.Use(requireUser)
		r.Post("/", h.StartSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Put("/pre", h.UpdatePrePhase)
			r.Put("/summary", h.SaveSummary)
			r.Post("/advance", h.AdvancePhase)
			r.Post("/utterances", h.ProcessUtterance)
			r.Get("/outcome", h.GetOutcome)
		})
	})
	return r
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// UserIDFromContext returns the caller set by requireUser.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			Error(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			h.log.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chiMiddleware.GetReqID(r.Context())))
		}()
		next.ServeHTTP(ww, r)
	})
}

// fail maps domain errors to status codes. Unexpected errors are logged and
// reported without detail.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	var ve *reading.ValidationError
	switch {
	case errors.As(err, &ve):
		Error(w, http.StatusUnprocessableEntity, ve.Reason)
	case errors.Is(err, reading.ErrNotFound):
		Error(w, http.StatusNotFound, "not found")
	case errors.Is(err, reading.ErrForbidden):
		Error(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, reading.ErrConflict):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, llm.ErrAllProvidersFailed):
		h.log.Warn("tutor unavailable", zap.String("path", r.URL.Path), zap.Error(err))
		Error(w, http.StatusServiceUnavailable, "tutor is unavailable, try again later")
	case errors.Is(err, context.DeadlineExceeded):
		Error(w, http.StatusGatewayTimeout, "request timed out")
	default:
		h.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		Error(w, http.StatusInternalServerError, "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		Error(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/influmatch/influmatch/internal/application/engine"
	"github.com/influmatch/influmatch/internal/domain/conversation"
	"github.com/influmatch/influmatch/internal/infrastructure/sse"
)

// Server holds dependencies for HTTP handlers.
type Server struct {
	engine *engine.Engine
	sseHub *sse.Hub
	logger zerolog.Logger
}

func NewServer(eng *engine.Engine, sseHub *sse.Hub, logger zerolog.Logger) *Server {
	return &Server{
		engine: eng,
		sseHub: sseHub,
		logger: logger.With().Str("service", "http").Logger(),
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.health)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/bid", s.initializeBid)
			r.Post("/campaign", s.initializeCampaign)
			r.Get("/", s.listConversations)

			r.Route("/{conversationId}", func(r chi.Router) {
				r.Get("/", s.getContext)
				r.Post("/actions", s.handleAction)
				r.Get("/messages", s.listMessages)
				r.Post("/messages", s.postMessage)
				r.Post("/read", s.markRead)
			})
		})

		r.Post("/payments/verify", s.verifyPayment)
		r.Get("/stream", s.streamEndpoint)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Helpers

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"message": message,
	})
}

// respondDomainError maps DomainError kinds onto HTTP statuses.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	var de *conversation.DomainError
	if !asDomainError(err, &de) {
		s.logger.Error().Err(err).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	status := http.StatusInternalServerError
	switch de.Kind {
	case conversation.ErrNotFound:
		status = http.StatusNotFound
	case conversation.ErrUnauthorized:
		status = http.StatusForbidden
	case conversation.ErrInvalidState, conversation.ErrPreconditionFailed:
		status = http.StatusConflict
	case conversation.ErrInvalidInput, conversation.ErrSignatureInvalid:
		status = http.StatusBadRequest
	case conversation.ErrExternalUnavailable:
		status = http.StatusBadGateway
	case conversation.ErrRateLimited:
		status = http.StatusTooManyRequests
	}

	code := string(de.Kind)
	if de.Subkind != "" {
		code = de.Subkind
	}
	respondJSON(w, status, map[string]interface{}{
		"error":   code,
		"kind":    de.Kind,
		"message": de.Message,
	})
}

func asDomainError(err error, target **conversation.DomainError) bool {
	return errors.As(err, target)
}

func parseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, key))
}

func decodeBody(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

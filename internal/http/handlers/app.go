package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"archivision/internal/domain"
	"archivision/internal/middleware"
	"archivision/internal/session"
)

// Workflow is the set of session actions exposed over HTTP.
type Workflow interface {
	Snapshot(ctx context.Context, id string) (*session.Session, error)
	Submit(ctx context.Context, id string, params domain.DesignParameters) (*session.Session, error)
	Select(ctx context.Context, id string, index int) (*session.Session, error)
	EditPrompt(ctx context.Context, id, text string) (*session.Session, error)
	Regenerate(ctx context.Context, id, text string) (*session.Session, error)
	End(ctx context.Context, id string) error
}

type App struct {
	Flow   Workflow
	Logger zerolog.Logger
	page   *template.Template
}

func NewApp(flow Workflow, logger *zerolog.Logger) *App {
	l := zerolog.New(io.Discard)
	if logger != nil {
		l = *logger
	}
	return &App{Flow: flow, Logger: l, page: pageTemplate}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, code int, errCode, message string) {
	a.json(w, code, map[string]errorBody{"error": {Code: errCode, Message: message}})
}

// fail writes the error envelope for a workflow error.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	if status >= http.StatusInternalServerError {
		a.Logger.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("session_id", middleware.SessionIDFromContext(r.Context())).
			Str("code", code).
			Msg("http: request failed")
	}
	a.error(w, status, code, message)
}

// classify maps an error to its HTTP status and envelope code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidParameters), errors.Is(err, domain.ErrEmptyPrompt):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrNoSuchImage), errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound, "not_found"
	}
	switch domain.KindOf(err) {
	case domain.KindGeneration:
		return http.StatusBadGateway, string(domain.KindGeneration)
	case domain.KindImageService:
		return http.StatusBadGateway, string(domain.KindImageService)
	}
	return http.StatusInternalServerError, "internal"
}

func sessionID(r *http.Request) string {
	return middleware.SessionIDFromContext(r.Context())
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

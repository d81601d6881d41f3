package handlers

import (
	"encoding/json"
	"net/http"

	"archivision/internal/domain"
)

const maxJSONBody = 64 << 10

type selectionRequest struct {
	Index *int `json:"index"`
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	return true
}

func (a *App) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := a.Flow.Snapshot(r.Context(), sessionID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, newSessionView(s))
}

func (a *App) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.Flow.End(r.Context(), sessionID(r)); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) SubmitDesign(w http.ResponseWriter, r *http.Request) {
	var params domain.DesignParameters
	if !a.decode(w, r, &params) {
		return
	}
	s, err := a.Flow.Submit(r.Context(), sessionID(r), params)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, newSessionView(s))
}

func (a *App) SelectImage(w http.ResponseWriter, r *http.Request) {
	var req selectionRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Index == nil {
		a.error(w, http.StatusBadRequest, "bad_request", "index is required")
		return
	}
	s, err := a.Flow.Select(r.Context(), sessionID(r), *req.Index)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, newSessionView(s))
}

func (a *App) EditPrompt(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if !a.decode(w, r, &req) {
		return
	}
	s, err := a.Flow.EditPrompt(r.Context(), sessionID(r), req.Prompt)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, newSessionView(s))
}

func (a *App) Regenerate(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if r.ContentLength != 0 && !a.decode(w, r, &req) {
		return
	}
	s, err := a.Flow.Regenerate(r.Context(), sessionID(r), req.Prompt)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, newSessionView(s))
}

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"
)

// apiResponse is the envelope of every JSON reply. Code 0 means success.
type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("writeJSON: %v", err)
	}
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, apiResponse{Code: 0, Msg: "success", Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiResponse{Code: 1, Msg: msg})
}

// writeGameError maps controller errors to short caller-facing messages.
// Anything unexpected is logged and reported as a generic failure.
func writeGameError(w http.ResponseWriter, context string, err error) {
	switch {
	case errors.Is(err, ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrInsufficientPlayers), errors.Is(err, ErrDuplicateRole):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrRolesNotAssigned), errors.Is(err, ErrNotStartedOrOver), errors.Is(err, ErrNoActiveGame):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ErrStaleState):
		writeError(w, http.StatusConflict, err.Error()+", retry")
	default:
		logError(context, err)
		writeError(w, http.StatusInternalServerError, "operation failed")
	}
}

// decodeAssignments accepts either a bare array or {"roles": [...]}.
func decodeAssignments(body []byte) ([]Assignment, error) {
	body = bytes.TrimSpace(body)
	var roles []Assignment
	if len(body) > 0 && body[0] == '[' {
		err := json.Unmarshal(body, &roles)
		return roles, err
	}
	var wrapped struct {
		Roles []Assignment `json:"roles"`
	}
	err := json.Unmarshal(body, &wrapped)
	return wrapped.Roles, err
}

func (a *App) handleRoles(w http.ResponseWriter, r *http.Request) {
	key := a.resolveSession(r)

	switch r.Method {
	case http.MethodGet:
		roles, err := a.controller.GetRoles(r.Context(), key)
		if err != nil {
			writeGameError(w, "handleRoles: GetRoles", err)
			return
		}
		writeOK(w, roles)
	case http.MethodPost:
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(r.Body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		roles, err := decodeAssignments(buf.Bytes())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if err := a.controller.AssignRoles(r.Context(), key, roles); err != nil {
			writeGameError(w, "handleRoles: AssignRoles", err)
			return
		}
		writeOK(w, roles)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	key := a.resolveSession(r)
	if err := a.controller.StartGame(r.Context(), key); err != nil {
		writeGameError(w, "handleStart: StartGame", err)
		return
	}
	state, err := a.controller.GetState(r.Context(), key)
	if err != nil {
		writeGameError(w, "handleStart: GetState", err)
		return
	}
	writeOK(w, state)
}

func (a *App) handleNight(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	report, err := a.controller.RunNightPhase(r.Context(), a.resolveSession(r))
	if err != nil {
		writeGameError(w, "handleNight: RunNightPhase", err)
		return
	}
	writeOK(w, report)
}

func (a *App) handleDay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	report, err := a.controller.RunDayPhase(r.Context(), a.resolveSession(r))
	if err != nil {
		writeGameError(w, "handleDay: RunDayPhase", err)
		return
	}
	writeOK(w, report)
}

func (a *App) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	state, err := a.controller.GetState(r.Context(), a.resolveSession(r))
	if err != nil {
		writeGameError(w, "handleState: GetState", err)
		return
	}
	writeOK(w, state)
}

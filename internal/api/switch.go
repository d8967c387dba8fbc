package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/sshswitch/internal/bridges/sshswitch"
	"github.com/nerrad567/sshswitch/internal/history"
)

// switchResponse is the body of every /switch endpoint except history.
type switchResponse struct {
	DeviceID    string     `json:"device_id"`
	IsOn        bool       `json:"is_on"`
	State       string     `json:"state"`
	LastUpdated *time.Time `json:"last_updated,omitempty"`
	Connected   bool       `json:"connected"`
}

func (s *Server) switchResponse(state sshswitch.SwitchState) switchResponse {
	resp := switchResponse{
		DeviceID:  s.sw.DeviceID(),
		IsOn:      state.IsOn,
		State:     state.Raw,
		Connected: s.sw.IsConnected(),
	}
	if resp.State == "" {
		resp.State = sshswitch.StateUnknown
	}
	if !state.LastUpdated.IsZero() {
		ts := state.LastUpdated.UTC()
		resp.LastUpdated = &ts
	}
	return resp
}

// handleHealth reports bridge health. It answers 200 while the process is
// up; a degraded device is reported in the body, not the status code.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	health := s.sw.Health()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  health.Status,
		"reason":  health.Reason,
		"version": s.version,
		"device":  health,
	})
}

func (s *Server) handleGetSwitch(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.switchResponse(s.sw.State()))
}

func (s *Server) handleTurnOn(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, s.sw.TurnOn)
}

func (s *Server) handleTurnOff(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, s.sw.TurnOff)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.runCommand(w, r, s.sw.Refresh)
}

// runCommand executes a switch operation. The device's own failures never
// surface as HTTP errors; the response reflects whatever state results.
func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, op func(context.Context, string) sshswitch.SwitchState) {
	state := op(r.Context(), commandSource(r))
	writeJSON(w, http.StatusOK, s.switchResponse(state))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeUnavailable(w, "state history unavailable")
		return
	}

	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	deviceID := s.sw.DeviceID()
	entries, err := s.history.List(r.Context(), deviceID, limit)
	if err != nil {
		s.logger.Error("loading state history failed", "error", err)
		writeInternalError(w, "failed to load state history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": deviceID,
		"history":   entries,
		"count":     len(entries),
	})
}

// parseHistoryLimit parses the limit query parameter with bounds enforcement.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return history.DefaultLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > history.MaxLimit {
		return 0, fmt.Errorf("limit exceeds maximum of %d", history.MaxLimit)
	}
	return limit, nil
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/feeder-core/internal/command"
	"github.com/nerrad567/feeder-core/internal/device"
	"github.com/nerrad567/feeder-core/internal/protocol"
)

// commandRequest is the body of POST /devices/{id}/commands.
type commandRequest struct {
	Type         string `json:"type"`
	PortionGrams int    `json:"portion_grams"`
}

// scheduleRequest is the body of PUT /devices/{id}/schedule/{index}.
type scheduleRequest struct {
	Hour         *int `json:"hour"`
	Minute       *int `json:"minute"`
	PortionGrams *int `json:"portion_grams"`
}

// handleListDevices returns every device sorted by id.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices := s.engine.AllSnapshots()

	if v := r.URL.Query().Get("online"); v != "" {
		want, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "online must be true or false")
			return
		}
		filtered := make([]device.Device, 0, len(devices))
		for _, d := range devices {
			if d.Online == want {
				filtered = append(filtered, d)
			}
		}
		devices = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": devices,
		"count":   len(devices),
	})
}

func (s *Server) handleDeviceStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	d, err := s.engine.Snapshot(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, device.ErrInvalidDeviceID):
		writeBadRequest(w, err.Error())
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case err != nil:
		writeInternalError(w, "failed to read device")
	default:
		writeJSON(w, http.StatusOK, d)
	}
}

// handleIssueCommand translates the body into a command and sends it.
func (s *Server) handleIssueCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	cmd, err := parseCommand(req)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	res := s.engine.IssueCommand(r.Context(), principalFrom(r.Context()), chi.URLParam(r, "id"), cmd)
	writeResult(w, res)
}

// handleScheduleEdit submits one meal slot change. The edit stays pending
// until the device echoes it.
func (s *Server) handleScheduleEdit(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		writeBadRequest(w, "slot index must be an integer")
		return
	}

	var req scheduleRequest
	if decodeErr := json.NewDecoder(r.Body).Decode(&req); decodeErr != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Hour == nil || req.Minute == nil || req.PortionGrams == nil {
		writeBadRequest(w, "hour, minute and portion_grams are required")
		return
	}

	res := s.engine.SubmitScheduleEdit(r.Context(), principalFrom(r.Context()),
		chi.URLParam(r, "id"), index, *req.Hour, *req.Minute, *req.PortionGrams)
	writeResult(w, res)
}

// parseCommand maps a request body to a command. Schedule changes have
// their own route.
func parseCommand(req commandRequest) (protocol.Command, error) {
	switch req.Type {
	case protocol.FeedNow{}.Name():
		return protocol.FeedNow{PortionGrams: req.PortionGrams}, nil
	case protocol.TestActuator{}.Name():
		return protocol.TestActuator{}, nil
	case protocol.RequestStatus{}.Name():
		return protocol.RequestStatus{}, nil
	case protocol.Stop{}.Name():
		return protocol.Stop{}, nil
	case protocol.Ping{}.Name():
		return protocol.Ping{}, nil
	case protocol.QueryConfig{}.Name():
		return protocol.QueryConfig{}, nil
	case protocol.UpdateSchedule{}.Name():
		return nil, fmt.Errorf("use PUT /devices/{id}/schedule/{index} for schedule changes")
	case "":
		return nil, fmt.Errorf("type is required")
	}
	return nil, fmt.Errorf("unknown command type %q", req.Type)
}

// resultStatus maps a command outcome to an HTTP status. A malformed id in
// the path is the caller's error, not a missing device.
func resultStatus(res command.Result) int {
	switch res.Outcome {
	case command.OutcomeSent:
		return http.StatusAccepted
	case command.OutcomeUnavailable:
		return http.StatusServiceUnavailable
	}
	if errors.Is(res.Err, device.ErrInvalidDeviceID) {
		return http.StatusBadRequest
	}
	switch res.Reason {
	case command.ReasonNotAuthorized:
		return http.StatusForbidden
	case command.ReasonUnknownDevice:
		return http.StatusNotFound
	}
	return http.StatusUnprocessableEntity
}

func writeResult(w http.ResponseWriter, res command.Result) {
	writeJSON(w, resultStatus(res), res)
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/fleetlink-core/internal/dashboard"
	"github.com/nerrad567/fleetlink-core/internal/device"
	"github.com/nerrad567/fleetlink-core/internal/relay"
)

// shutdownRequest is the body of POST /devices/shutdown.
type shutdownRequest struct {
	MACAddress string `json:"macAddress"`
}

// shutdownResponse mirrors the dashboard shutdown-response payload.
type shutdownResponse struct {
	Success    bool       `json:"success"`
	MACAddress string     `json:"macAddress"`
	Message    string     `json:"message"`
	Path       relay.Path `json:"path"`
}

// handleListDevices returns the caller's devices, or every device with its
// owner for admins.
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	list, err := dashboard.ListDevices(r.Context(), s.store, id)
	if err != nil {
		s.logger.Error("listing devices failed", "user_id", id.UserID, "error", err)
		writeInternalError(w, "failed to list devices")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleShutdownDevice relays a shutdown command. HTTP callers have no
// dashboard session, so delivery starts at the agent channel.
func (s *Server) handleShutdownDevice(w http.ResponseWriter, r *http.Request) {
	var req shutdownRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	mac, err := device.NormalizeMAC(req.MACAddress)
	if err != nil {
		writeBadRequest(w, relay.Message(relay.ErrInvalidMAC))
		return
	}

	id, _ := identityFrom(r.Context())
	path, err := s.relay.Shutdown(r.Context(), relay.Requester{
		UserID:  id.UserID,
		IsAdmin: id.IsAdmin,
		Source:  "api",
	}, mac)
	if err != nil {
		status, code := shutdownStatus(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("shutdown relay failed", "mac_address", mac, "error", err)
		}
		writeError(w, status, code, relay.Message(err))
		return
	}

	writeJSON(w, http.StatusOK, shutdownResponse{
		Success:    true,
		MACAddress: mac,
		Message:    relay.Message(nil),
		Path:       path,
	})
}

func shutdownStatus(err error) (int, string) {
	switch {
	case errors.Is(err, relay.ErrInvalidMAC):
		return http.StatusBadRequest, ErrCodeBadRequest
	case errors.Is(err, relay.ErrDeviceNotFound), errors.Is(err, relay.ErrNotOwned):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, relay.ErrNotConnected):
		return http.StatusConflict, ErrCodeConflict
	case errors.Is(err, relay.ErrDeliveryFailed):
		return http.StatusBadGateway, ErrCodeBadGateway
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

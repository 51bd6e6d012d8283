package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/nerrad567/fleetlink-core/internal/dashboard"
	"github.com/nerrad567/fleetlink-core/internal/device"
)

type debugBroadcastRequest struct {
	Type       string `json:"type"`
	MACAddress string `json:"macAddress"`
}

type connectedDevice struct {
	Name       string     `json:"name"`
	MACAddress string     `json:"macAddress"`
	IPAddress  string     `json:"ipAddress"`
	LastSeen   *time.Time `json:"lastSeen"`
}

// handleDebugConnections compares registry membership with stored connectivity.
func (s *Server) handleDebugConnections(w http.ResponseWriter, r *http.Request) {
	agents := s.agents.Registry().Keys()
	sort.Strings(agents)

	stored, err := s.store.ListConnected(r.Context())
	if err != nil {
		s.logger.Error("listing connected devices failed", "error", err)
		writeInternalError(w, "failed to get connection info")
		return
	}
	devices := make([]connectedDevice, len(stored))
	for i, d := range stored {
		devices[i] = connectedDevice{Name: d.Name, MACAddress: d.MACAddress, IPAddress: d.IPAddress, LastSeen: d.LastSeen}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"websockets": s.connCounts(),
		"agents": map[string]any{
			"total":   len(agents),
			"devices": agents,
		},
		"dashboards": s.hub.Snapshot(),
		"database": map[string]any{
			"connectedDevices": len(devices),
			"devices":          devices,
		},
	})
}

// handleDebugBroadcast triggers a broadcast by hand. "direct" skips scoping
// and sends device-disconnect to every live dashboard channel.
func (s *Server) handleDebugBroadcast(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "broadcast bridge not configured")
		return
	}

	var req debugBroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	mac, err := device.NormalizeMAC(req.MACAddress)
	if err != nil {
		writeBadRequest(w, "macAddress is required")
		return
	}

	var run func(context.Context, string) (int, error)
	switch req.Type {
	case dashboard.EventDeviceUpdate, "update":
		run = s.bridge.Update
	case dashboard.EventDeviceDisconnect, "disconnect":
		run = s.bridge.Disconnect
	case dashboard.EventDeviceShutdown, "shutdown":
		run = s.bridge.Shutdown
	case "direct":
		run = func(context.Context, string) (int, error) {
			return s.bridge.EmitAll(dashboard.EventDeviceDisconnect, mac)
		}
	default:
		writeBadRequest(w, "unknown broadcast type: "+req.Type)
		return
	}

	delivered, err := run(r.Context(), mac)
	if errors.Is(err, device.ErrDeviceNotFound) {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "device not found")
		return
	}
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}

	s.logger.Info("debug broadcast sent", "type", req.Type, "mac_address", mac, "recipients", delivered)
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message":    req.Type + " broadcast sent for " + mac,
		"recipients": delivered,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

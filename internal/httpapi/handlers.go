// Package httpapi implements the control plane: JSON request/response
// handlers for room creation, discovery, joining, and liveness. Handlers
// only read and validate against the room registry; occupancy changes are
// driven by the relay plane.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/blockduel/relay/internal/room"
)

// maxNameLen bounds client-supplied display names.
const maxNameLen = 20

// Handlers holds the control-plane dependencies.
type Handlers struct {
	store  room.Store
	logger *zap.Logger
}

// NewHandlers creates the control-plane handler set.
//
// Precondition: store and logger must be non-nil.
func NewHandlers(store room.Store, logger *zap.Logger) *Handlers {
	return &Handlers{store: store, logger: logger}
}

type createRoomRequest struct {
	IsPublic bool   `json:"isPublic"`
	HostName string `json:"hostName"`
}

type joinRoomRequest struct {
	RoomCode   string `json:"roomCode"`
	PlayerName string `json:"playerName"`
}

type heartbeatRequest struct {
	RoomCode string `json:"roomCode"`
}

// CreateRoom handles POST /api/create-room.
func (h *Handlers) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	hostName, err := normalizeName(req.HostName, "Host")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := h.store.Create(hostName, req.IsPublic)
	if err != nil {
		h.logger.Error("creating room", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to create room")
		return
	}

	h.logger.Info("room created",
		zap.String("room", info.Code),
		zap.Bool("is_public", info.IsPublic),
	)
	writeJSON(w, http.StatusOK, map[string]any{"roomCode": info.Code})
}

// ListRooms handles GET /api/list-rooms.
func (h *Handlers) ListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"rooms": h.store.PublicRooms()})
}

// JoinRoom handles POST /api/join-room. It validates that the room can be
// joined; the caller still has to attach over the relay plane to occupy a
// slot.
func (h *Handlers) JoinRoom(w http.ResponseWriter, r *http.Request) {
	var req joinRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.RoomCode) == "" {
		writeError(w, http.StatusBadRequest, "Room code is required")
		return
	}
	if _, err := normalizeName(req.PlayerName, "Guest"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	code := room.NormalizeCode(req.RoomCode)
	info, err := h.store.ValidateJoin(code)
	switch {
	case errors.Is(err, room.ErrNotFound):
		writeError(w, http.StatusNotFound, "Room not found")
		return
	case errors.Is(err, room.ErrRoomFull):
		writeError(w, http.StatusBadRequest, "Room is full")
		return
	case errors.Is(err, room.ErrInProgress):
		writeError(w, http.StatusBadRequest, "Game already in progress")
		return
	case err != nil:
		h.logger.Error("validating join", zap.String("room", code), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to join room")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"hostName": info.HostName,
	})
}

// Heartbeat handles POST /api/heartbeat.
func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.RoomCode) == "" {
		writeError(w, http.StatusBadRequest, "Room code is required")
		return
	}

	code := room.NormalizeCode(req.RoomCode)
	if err := h.store.Heartbeat(code); err != nil {
		writeError(w, http.StatusNotFound, "Room not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Healthz handles GET /healthz.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// decodeJSON decodes a request body, treating an empty body as the zero
// request so optional-field endpoints accept bare POSTs.
func decodeJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// normalizeName trims a display name, applies the fallback when empty,
// and enforces the length cap.
func normalizeName(name, fallback string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback, nil
	}
	if len(name) > maxNameLen {
		return "", errors.New("Player name too long (max 20 chars)")
	}
	return name, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

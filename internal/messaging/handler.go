package messaging

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/foreman-pm/foreman/internal/identity"
	"github.com/foreman-pm/foreman/internal/notify"
	"github.com/foreman-pm/foreman/internal/platform/httpx"
	"github.com/foreman-pm/foreman/internal/state"
)

const writeTimeout = 5 * time.Second

// Handler wires messaging endpoints.
type Handler struct {
	logger         *slog.Logger
	service        *Service
	registry       *state.Registry
	hub            *notify.Hub
	originPatterns []string
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service, registry *state.Registry, hub *notify.Hub, originPatterns []string) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, registry: registry, hub: hub, originPatterns: originPatterns}
}

// MountRoutes registers messaging routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/rooms", h.handleRooms)
	r.Get("/unread", h.handleUnread)
	r.Post("/rooms/{roomID}/read", h.handleMarkRead)
	r.Get("/stream", h.handleStream)
}

func (h *Handler) handleRooms(w http.ResponseWriter, r *http.Request) {
	if identity.FromContext(r.Context()) == nil {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	res := h.service.Rooms(r.Context())
	if res.Err != nil {
		httpx.RespondError(w, res.Err)
		return
	}
	httpx.JSON(w, http.StatusOK, res.View())
}

func (h *Handler) handleUnread(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.Sync(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	snap, err := h.service.MarkRead(r.Context(), chi.URLParam(r, "roomID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, identity.ErrUnauthenticated) {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	httpx.RespondError(w, err)
}

// handleStream pushes unread snapshots and toasts of the current identity
// until the client disconnects.
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	id := identity.IDFromContext(r.Context())
	if id == "" {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "sign in required")
		return
	}
	if _, err := h.service.Sync(r.Context()); err != nil {
		h.logger.Warn("stream unread sync", slog.String("identity_id", id), slog.Any("error", err))
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.originPatterns})
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	unread := h.registry.For(id).Unread.Subscribe(ctx)
	var toasts <-chan notify.Toast
	if h.hub != nil {
		toasts = h.hub.Subscribe(ctx, id)
	}

	if err := h.write(ctx, conn, StreamEvent{Type: EventReady}); err != nil {
		return
	}
	readErr := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				readErr <- err
				return
			}
		}
	}()

	for {
		var evt StreamEvent
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case <-readErr:
			_ = conn.Close(websocket.StatusNormalClosure, "closed")
			return
		case snap, ok := <-unread:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			evt = StreamEvent{Type: EventUnread, Data: snap}
		case toast, ok := <-toasts:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "closed")
				return
			}
			evt = StreamEvent{Type: EventToast, Data: toast}
		}
		if err := h.write(ctx, conn, evt); err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "write_failed")
			return
		}
	}
}

func (h *Handler) write(ctx context.Context, conn *websocket.Conn, evt StreamEvent) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, evt)
}

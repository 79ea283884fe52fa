// Package ws serves equipment observers over websocket. Each connection is a
// session.Client; the server writes SetEquipment frames as binary messages
// and accepts JSON VIEW messages that move the client's view.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mymatsubara/valence/internal/game/session"
	"github.com/mymatsubara/valence/internal/game/world"
)

// MessageTypeView is the type of the client message that moves its view.
const MessageTypeView = "VIEW"

// MaxViewDistance bounds the distance a client may request.
const MaxViewDistance = 32

// Spawner sends full equipment state to clients on the view-entry path.
type Spawner interface {
	SpawnEquipment(c *session.Client) int
	SpawnEquipmentEntering(c *session.Client, oldInstance world.InstanceID, oldView world.ChunkView) int
}

// HandlerConfig tunes the websocket endpoint.
type HandlerConfig struct {
	// ViewDistance is used when the client does not request one.
	ViewDistance int
	// ReadTimeout disconnects clients that send neither messages nor pongs.
	ReadTimeout time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// CheckOrigin overrides the upgrader origin check; nil allows any origin.
	CheckOrigin func(r *http.Request) bool
}

// ViewMessage is the JSON text message a client sends to move its view.
// Instance is optional; an empty value keeps the current instance. A zero
// Distance keeps the current distance.
type ViewMessage struct {
	Type     string  `json:"type"`
	Instance string  `json:"instance,omitempty"`
	X        float64 `json:"x"`
	Z        float64 `json:"z"`
	Distance int     `json:"distance,omitempty"`
}

// Handler upgrades HTTP requests to observer connections.
type Handler struct {
	world    *world.Manager
	sessions *session.Manager
	spawner  Spawner
	cfg      HandlerConfig
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[uuid.UUID]*websocket.Conn
}

// NewHandler creates a Handler.
//
// Precondition: all arguments must be non-nil.
// Postcondition: zero durations and distance in cfg are replaced by defaults.
func NewHandler(w *world.Manager, sessions *session.Manager, spawner Spawner, cfg HandlerConfig, logger *zap.Logger) *Handler {
	if cfg.ViewDistance <= 0 {
		cfg.ViewDistance = 8
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Minute
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		world:    w,
		sessions: sessions,
		spawner:  spawner,
		cfg:      cfg,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     checkOrigin,
		},
		conns: make(map[uuid.UUID]*websocket.Conn),
	}
}

type joinRequest struct {
	instance world.InstanceID
	entity   uuid.UUID
	view     world.ChunkView
}

// errStatus pairs a request error with its HTTP status.
type errStatus struct {
	status int
	err    error
}

func (e *errStatus) Error() string { return e.err.Error() }

func badRequest(format string, args ...any) error {
	return &errStatus{status: http.StatusBadRequest, err: fmt.Errorf(format, args...)}
}

func notFound(format string, args ...any) error {
	return &errStatus{status: http.StatusNotFound, err: fmt.Errorf(format, args...)}
}

// parseJoin validates the query parameters instance, entity, x, z and distance.
// When entity is given and x/z are omitted, the view is centred on the entity.
func (h *Handler) parseJoin(r *http.Request) (joinRequest, error) {
	q := r.URL.Query()
	var req joinRequest

	instance, err := world.ParseInstanceID(q.Get("instance"))
	if err != nil {
		return req, badRequest("instance: %v", err)
	}
	if _, ok := h.world.Instance(instance); !ok {
		return req, notFound("instance %s not found", instance)
	}
	req.instance = instance

	var center world.Vec3
	if raw := q.Get("entity"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return req, badRequest("entity: %v", err)
		}
		e, ok := h.world.Get(id)
		if !ok {
			return req, notFound("entity %s not found", id)
		}
		req.entity = id
		center = e.Position()
	}

	for _, coord := range []struct {
		name string
		dst  *float64
	}{{"x", &center.X}, {"z", &center.Z}} {
		raw := q.Get(coord.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return req, badRequest("%s: %v", coord.name, err)
		}
		*coord.dst = v
	}

	distance := h.cfg.ViewDistance
	if raw := q.Get("distance"); raw != "" {
		distance, err = strconv.Atoi(raw)
		if err != nil {
			return req, badRequest("distance: %v", err)
		}
	}
	if distance < 1 || distance > MaxViewDistance {
		return req, badRequest("distance must be 1-%d, got %d", MaxViewDistance, distance)
	}
	req.view = world.NewChunkView(center, distance)
	return req, nil
}

// ServeHTTP upgrades the connection, registers the client, sends the full
// equipment of everything in view and then serves the connection until it
// closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseJoin(r)
	if err != nil {
		status := http.StatusBadRequest
		var es *errStatus
		if errors.As(err, &es) {
			status = es.status
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	uid := uuid.New()
	client, err := h.sessions.AddClient(uid, req.entity, req.instance, req.view)
	if err != nil {
		h.logger.Error("registering client", zap.Error(err))
		_ = conn.Close()
		return
	}
	h.track(uid, conn)
	h.logger.Info("observer connected",
		zap.String("client", uid.String()),
		zap.String("instance", req.instance.String()),
		zap.Int32("chunk_x", req.view.Center.X),
		zap.Int32("chunk_z", req.view.Center.Z),
	)

	writerDone := make(chan struct{})
	go h.writeLoop(conn, client, writerDone)

	h.spawner.SpawnEquipment(client)
	h.readLoop(conn, client)

	if err := h.sessions.RemoveClient(uid); err != nil {
		h.logger.Warn("removing client", zap.String("client", uid.String()), zap.Error(err))
	}
	<-writerDone
	h.untrack(uid)
	_ = conn.Close()
	h.logger.Info("observer disconnected", zap.String("client", uid.String()))
}

// writeLoop drains the client's outbox into binary frames and pings the peer
// so idle observers keep their read deadline alive.
func (h *Handler) writeLoop(conn *websocket.Conn, c *session.Client, done chan<- struct{}) {
	defer close(done)
	ping := time.NewTicker(h.cfg.ReadTimeout / 2)
	defer ping.Stop()

	for {
		select {
		case frame, ok := <-c.Outbox.Frames():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				h.logger.Debug("websocket write failed", zap.String("client", c.UID.String()), zap.Error(err))
				// Unblocks the read loop; the outbox is closed by RemoveClient.
				_ = conn.Close()
				for range c.Outbox.Frames() {
				}
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				_ = conn.Close()
				for range c.Outbox.Frames() {
				}
				return
			}
		}
	}
}

// readLoop handles VIEW messages until the connection fails or closes.
func (h *Handler) readLoop(conn *websocket.Conn, c *session.Client) {
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})
	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
		if kind != websocket.TextMessage {
			continue
		}
		if err := h.handleView(c, msg); err != nil {
			h.logger.Debug("ignoring client message", zap.String("client", c.UID.String()), zap.Error(err))
		}
	}
}

func (h *Handler) handleView(c *session.Client, msg []byte) error {
	var vm ViewMessage
	if err := json.Unmarshal(msg, &vm); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	if vm.Type != MessageTypeView {
		return fmt.Errorf("unknown message type %q", vm.Type)
	}

	instance := c.Instance()
	if vm.Instance != "" {
		id, err := world.ParseInstanceID(vm.Instance)
		if err != nil {
			return err
		}
		if _, ok := h.world.Instance(id); !ok {
			return fmt.Errorf("instance %s not found", id)
		}
		instance = id
	}
	distance := vm.Distance
	if distance == 0 {
		distance = c.View().Distance
	}
	if distance < 1 || distance > MaxViewDistance {
		return fmt.Errorf("distance must be 1-%d, got %d", MaxViewDistance, distance)
	}

	oldInstance, oldView, err := h.sessions.UpdateView(c.UID, instance, world.NewChunkView(world.Vec3{X: vm.X, Z: vm.Z}, distance))
	if err != nil {
		return err
	}
	h.spawner.SpawnEquipmentEntering(c, oldInstance, oldView)
	return nil
}

func (h *Handler) track(uid uuid.UUID, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[uid] = conn
}

func (h *Handler) untrack(uid uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, uid)
}

// ConnectionCount returns the number of open observer connections.
func (h *Handler) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll sends a going-away close frame to every connection and closes it.
// http.Server.Shutdown does not track hijacked connections, so the server
// calls this on stop.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, conn := range h.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

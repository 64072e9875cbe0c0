package realtime

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub coordina las conexiones locales y sus salas (personal y por conversación).
// La presencia se registra en Attach/Detach, no se calcula recorriendo salas.
type Hub struct {
	logger   *zap.Logger
	presence Presence

	mu        sync.RWMutex
	conns     map[string]*Connection            // connID -> conexión
	rooms     map[string]map[string]*Connection // sala -> connID -> conexión
	connRooms map[string]map[string]struct{}    // connID -> salas
}

func NewHub(logger *zap.Logger, presence Presence) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if presence == nil {
		presence = NewLocalPresence()
	}
	return &Hub{
		logger:    logger,
		presence:  presence,
		conns:     make(map[string]*Connection),
		rooms:     make(map[string]map[string]*Connection),
		connRooms: make(map[string]map[string]struct{}),
	}
}

// Presence devuelve el registro que alimenta el hub.
func (h *Hub) Presence() Presence {
	return h.presence
}

// Attach registra la conexión, la une a la sala personal y arranca su escritura.
func (h *Hub) Attach(ctx context.Context, conn *Connection) {
	h.mu.Lock()
	h.conns[conn.ID] = conn
	h.connRooms[conn.ID] = make(map[string]struct{})
	h.joinLocked(UserRoom(conn.UserID), conn)
	h.mu.Unlock()

	if err := h.presence.Connect(ctx, conn.UserID); err != nil {
		h.logger.Warn("presence connect failed", zap.String("user_id", conn.UserID), zap.Error(err))
	}
	conn.Start()
}

// Detach saca la conexión de todas sus salas. Es idempotente.
func (h *Hub) Detach(ctx context.Context, conn *Connection) {
	h.mu.Lock()
	_, tracked := h.conns[conn.ID]
	if tracked {
		h.detachLocked(conn.ID)
	}
	h.mu.Unlock()

	if !tracked {
		return
	}
	if err := h.presence.Disconnect(ctx, conn.UserID); err != nil {
		h.logger.Warn("presence disconnect failed", zap.String("user_id", conn.UserID), zap.Error(err))
	}
}

// Join agrega la conexión a la sala; devuelve false si la conexión ya no está registrada.
func (h *Hub) Join(room string, conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn.ID]; !ok {
		return false
	}
	h.joinLocked(room, conn)
	return true
}

func (h *Hub) Leave(room string, conn *Connection) {
	h.mu.Lock()
	h.leaveLocked(room, conn.ID)
	h.mu.Unlock()
}

// Emit escribe el frame en todas las conexiones de la sala y devuelve cuántas lo aceptaron.
func (h *Hub) Emit(room string, frame []byte) int {
	h.mu.RLock()
	members := make([]*Connection, 0, len(h.rooms[room]))
	for _, conn := range h.rooms[room] {
		members = append(members, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range members {
		if err := conn.Send(frame); err == nil {
			delivered++
		}
	}
	return delivered
}

// RoomSize cuenta las conexiones locales en la sala.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// Close termina todas las conexiones y limpia el estado.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.conns))
	for _, conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		h.Detach(context.Background(), conn)
		conn.Close(1001, "server shutdown")
	}
}

func (h *Hub) joinLocked(room string, conn *Connection) {
	members := h.rooms[room]
	if members == nil {
		members = make(map[string]*Connection)
		h.rooms[room] = members
	}
	members[conn.ID] = conn

	joined := h.connRooms[conn.ID]
	if joined == nil {
		joined = make(map[string]struct{})
		h.connRooms[conn.ID] = joined
	}
	joined[room] = struct{}{}
}

func (h *Hub) leaveLocked(room, connID string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if joined, ok := h.connRooms[connID]; ok {
		delete(joined, room)
	}
}

func (h *Hub) detachLocked(connID string) {
	for room := range h.connRooms[connID] {
		h.leaveLocked(room, connID)
	}
	delete(h.connRooms, connID)
	delete(h.conns, connID)
}

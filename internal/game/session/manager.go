package session

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/mymatsubara/valence/internal/game/world"
)

// Client is a connected observer.
type Client struct {
	// UID is the unique client identifier.
	UID uuid.UUID
	// Entity is the entity this client controls, or uuid.Nil for spectators.
	Entity uuid.UUID
	// Outbox receives encoded frames for this client.
	Outbox *Outbox

	mu       sync.RWMutex
	instance world.InstanceID
	view     world.ChunkView
}

// Instance returns the instance the client is watching.
func (c *Client) Instance() world.InstanceID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instance
}

// View returns the client's current chunk view.
func (c *Client) View() world.ChunkView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

// Controls reports whether the client controls the entity with the given id.
func (c *Client) Controls(entity uuid.UUID) bool {
	return c.Entity != uuid.Nil && c.Entity == entity
}

// Sees reports whether an entity in instance at pos is visible to the client.
func (c *Client) Sees(instance world.InstanceID, pos world.ChunkPos) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.instance == instance && c.view.Contains(pos)
}

// Manager tracks all connected clients.
// All methods are safe for concurrent use.
type Manager struct {
	mu         sync.RWMutex
	clients    map[uuid.UUID]*Client
	bufferSize int
}

// NewManager creates an empty Manager whose clients get outboxes of bufferSize frames.
func NewManager(bufferSize int) *Manager {
	return &Manager{
		clients:    make(map[uuid.UUID]*Client),
		bufferSize: bufferSize,
	}
}

// AddClient registers a client watching view in instance, controlling entity
// (uuid.Nil for none).
//
// Postcondition: Returns the created Client, or an error if uid is already registered.
func (m *Manager) AddClient(uid, entity uuid.UUID, instance world.InstanceID, view world.ChunkView) (*Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.clients[uid]; exists {
		return nil, fmt.Errorf("client %s already connected", uid)
	}
	c := &Client{
		UID:      uid,
		Entity:   entity,
		Outbox:   NewOutbox(uid.String(), m.bufferSize),
		instance: instance,
		view:     view,
	}
	m.clients[uid] = c
	return c, nil
}

// RemoveClient unregisters a client and closes its outbox.
//
// Postcondition: Returns an error if the client is not found.
func (m *Manager) RemoveClient(uid uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, exists := m.clients[uid]
	if !exists {
		return fmt.Errorf("client %s not found", uid)
	}
	_ = c.Outbox.Close()
	delete(m.clients, uid)
	return nil
}

// UpdateView moves a client to instance and view.
//
// Postcondition: Returns the previous instance and view, or an error if the client is not found.
func (m *Manager) UpdateView(uid uuid.UUID, instance world.InstanceID, view world.ChunkView) (world.InstanceID, world.ChunkView, error) {
	m.mu.RLock()
	c, exists := m.clients[uid]
	m.mu.RUnlock()
	if !exists {
		return world.InstanceID{}, world.ChunkView{}, fmt.Errorf("client %s not found", uid)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	oldInstance, oldView := c.instance, c.view
	c.instance = instance
	c.view = view
	return oldInstance, oldView, nil
}

// GetClient returns the client with the given UID.
func (m *Manager) GetClient(uid uuid.UUID) (*Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[uid]
	return c, ok
}

// Clients returns a snapshot of all connected clients ordered by UID.
//
// Postcondition: Returns a non-nil slice; may be empty.
func (m *Manager) Clients() []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UID.String() < out[j].UID.String()
	})
	return out
}

// ClientCount returns the number of connected clients.
func (m *Manager) ClientCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

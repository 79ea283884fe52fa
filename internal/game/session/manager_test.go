package session

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/mymatsubara/valence/internal/game/world"
)

func TestOutbox_Push(t *testing.T) {
	o := NewOutbox("test", 4)
	require.NoError(t, o.Push([]byte("hello")))
	assert.Equal(t, 1, o.Len())

	data := <-o.Frames()
	assert.Equal(t, []byte("hello"), data)
}

func TestOutbox_PushClosed(t *testing.T) {
	o := NewOutbox("test", 4)
	require.NoError(t, o.Close())
	assert.True(t, o.IsClosed())
	err := o.Push([]byte("fail"))
	assert.True(t, errors.Is(err, ErrOutboxClosed))
}

func TestOutbox_PushFull(t *testing.T) {
	o := NewOutbox("test", 1)
	require.NoError(t, o.Push([]byte("first")))
	err := o.Push([]byte("overflow"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrOutboxFull))
	assert.Contains(t, err.Error(), "buffer full")
}

func TestOutbox_CloseIdempotent(t *testing.T) {
	o := NewOutbox("test", 0)
	require.NoError(t, o.Close())
	require.NoError(t, o.Close())
	_, open := <-o.Frames()
	assert.False(t, open)
}

func TestOutbox_ConcurrentPushAndClose(t *testing.T) {
	o := NewOutbox("test", 16)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = o.Push([]byte{byte(j)})
			}
		}()
	}
	_ = o.Close()
	wg.Wait()
	assert.True(t, o.IsClosed())
}

func TestManager_AddClient(t *testing.T) {
	m := NewManager(8)
	inst := world.NewInstanceID()
	uid, ent := uuid.New(), uuid.New()
	view := world.ChunkView{Distance: 4}

	c, err := m.AddClient(uid, ent, inst, view)
	require.NoError(t, err)
	assert.Equal(t, inst, c.Instance())
	assert.Equal(t, view, c.View())
	assert.True(t, c.Controls(ent))
	assert.False(t, c.Controls(uuid.New()))
	assert.Equal(t, 1, m.ClientCount())

	_, err = m.AddClient(uid, uuid.Nil, inst, view)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already connected")
}

func TestClient_Spectator_ControlsNothing(t *testing.T) {
	m := NewManager(8)
	c, err := m.AddClient(uuid.New(), uuid.Nil, world.NewInstanceID(), world.ChunkView{})
	require.NoError(t, err)
	assert.False(t, c.Controls(uuid.Nil))
}

func TestManager_RemoveClient(t *testing.T) {
	m := NewManager(8)
	uid := uuid.New()
	c, err := m.AddClient(uid, uuid.Nil, world.NewInstanceID(), world.ChunkView{})
	require.NoError(t, err)

	require.NoError(t, m.RemoveClient(uid))
	assert.True(t, c.Outbox.IsClosed())
	assert.Equal(t, 0, m.ClientCount())
	assert.Error(t, m.RemoveClient(uid))
}

func TestManager_UpdateView(t *testing.T) {
	m := NewManager(8)
	uid := uuid.New()
	first, second := world.NewInstanceID(), world.NewInstanceID()
	c, err := m.AddClient(uid, uuid.Nil, first, world.ChunkView{Distance: 2})
	require.NoError(t, err)

	oldInst, oldView, err := m.UpdateView(uid, second, world.ChunkView{Center: world.ChunkPos{X: 50}, Distance: 3})
	require.NoError(t, err)
	assert.Equal(t, first, oldInst)
	assert.Equal(t, 2, oldView.Distance)
	assert.Equal(t, second, c.Instance())
	assert.True(t, c.Sees(second, world.ChunkPos{X: 50}))
	assert.False(t, c.Sees(first, world.ChunkPos{X: 50}))
	assert.False(t, c.Sees(second, world.ChunkPos{}))

	_, _, err = m.UpdateView(uuid.New(), first, world.ChunkView{})
	assert.Error(t, err)
}

func TestManager_GetClientAndClients(t *testing.T) {
	m := NewManager(8)
	inst := world.NewInstanceID()
	for i := 0; i < 3; i++ {
		_, err := m.AddClient(uuid.New(), uuid.Nil, inst, world.ChunkView{})
		require.NoError(t, err)
	}
	clients := m.Clients()
	require.Len(t, clients, 3)
	for i := 1; i < len(clients); i++ {
		assert.Less(t, clients[i-1].UID.String(), clients[i].UID.String())
	}
	got, ok := m.GetClient(clients[1].UID)
	require.True(t, ok)
	assert.Same(t, clients[1], got)
	_, ok = m.GetClient(uuid.New())
	assert.False(t, ok)
}

func TestProperty_Manager_AddRemoveCount(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		m := NewManager(1)
		n := rapid.IntRange(0, 20).Draw(rt, "n")
		uids := make([]uuid.UUID, n)
		for i := range uids {
			uids[i] = uuid.New()
			if _, err := m.AddClient(uids[i], uuid.Nil, world.InstanceID{}, world.ChunkView{}); err != nil {
				rt.Fatalf("add: %v", err)
			}
		}
		k := rapid.IntRange(0, n).Draw(rt, "remove")
		for i := 0; i < k; i++ {
			if err := m.RemoveClient(uids[i]); err != nil {
				rt.Fatalf("remove: %v", err)
			}
		}
		if m.ClientCount() != n-k {
			rt.Fatalf("count %d, want %d", m.ClientCount(), n-k)
		}
	})
}

package gameserver_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mymatsubara/valence/internal/game/equipment"
	"github.com/mymatsubara/valence/internal/game/inventory"
	"github.com/mymatsubara/valence/internal/game/session"
	"github.com/mymatsubara/valence/internal/game/world"
	"github.com/mymatsubara/valence/internal/gameserver"
	"github.com/mymatsubara/valence/internal/scripting"
)

const testCatalog = `
items:
  - id: 1
    name: iron_helmet
    max_stack: 1
  - id: 2
    name: torch
`

type boundScripts struct {
	scripts  *scripting.Manager
	world    *world.Manager
	sessions *session.Manager
	entity   *world.Entity
	logs     *observer.ObservedLogs
}

func newBound(t *testing.T, src string) *boundScripts {
	t.Helper()
	cat, err := inventory.LoadCatalogFromBytes([]byte(testCatalog))
	require.NoError(t, err)
	inst := &world.Instance{ID: world.NewInstanceID(), Name: "overworld"}
	nether := &world.Instance{ID: world.NewInstanceID(), Name: "nether"}
	wm, err := world.NewManager([]*world.Instance{inst, nether})
	require.NoError(t, err)
	e, err := wm.Spawn(inst.ID, world.Vec3{})
	require.NoError(t, err)

	core, logs := observer.New(zap.DebugLevel)
	scripts := scripting.NewManager(zap.New(core))
	t.Cleanup(scripts.Close)
	sm := session.NewManager(8)
	gameserver.BindScripting(scripts, wm, cat, gameserver.NewEquipmentBroadcaster(wm, sm, zap.New(core)))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.lua"), []byte(src), 0644))
	require.NoError(t, scripts.LoadInstance("overworld", dir, 0))
	return &boundScripts{scripts: scripts, world: wm, sessions: sm, entity: e, logs: logs}
}

func newBoundScripts(t *testing.T, src string) (*scripting.Manager, *world.Manager, *world.Entity, *observer.ObservedLogs) {
	t.Helper()
	b := newBound(t, src)
	return b.scripts, b.world, b.entity, b.logs
}

func TestBindScripting_OnTickEquipsEveryEntity(t *testing.T) {
	scripts, _, e, logs := newBoundScripts(t, `
		function on_tick(tick)
			for _, id in ipairs(engine.world.entities()) do
				engine.equipment.set(id, "helmet", "iron_helmet")
				engine.equipment.set(id, "main_hand", "torch", 16)
			end
		end
	`)
	scripts.OnTick(1)
	assert.Equal(t, 0, logs.FilterLevelExact(zap.WarnLevel).Len())

	helmet, ok := e.Equipment.Get(equipment.Helmet)
	require.True(t, ok)
	assert.Equal(t, inventory.ItemKind(1), helmet.Kind)
	torch, ok := e.Equipment.Get(equipment.MainHand)
	require.True(t, ok)
	assert.Equal(t, int8(16), torch.Count)
	assert.Equal(t, uint8(0b100001), e.Equipment.DirtyMask())
}

func TestBindScripting_GetAndRemove(t *testing.T) {
	scripts, _, e, _ := newBoundScripts(t, `
		function run(id)
			engine.equipment.set(id, "boots", "torch", 3)
			local kind, count = engine.equipment.get(id, "boots")
			local removed = engine.equipment.remove(id, "boots")
			return kind .. ":" .. count .. ":" .. tostring(removed)
		end
	`)
	ret, err := scripts.CallHook("overworld", "run", lua.LString(e.ID.String()))
	require.NoError(t, err)
	assert.Equal(t, lua.LString("torch:3:true"), ret)
	assert.True(t, e.Equipment.IsEmpty())
	assert.True(t, e.Equipment.HasPendingChanges())
}

func TestBindScripting_Clear(t *testing.T) {
	scripts, _, e, _ := newBoundScripts(t, `
		function run(id) engine.equipment.clear(id) end
	`)
	e.Equipment.Set(inventory.NewItemStack(2, 1), equipment.OffHand)
	e.Equipment.ClearDirty()
	_, err := scripts.CallHook("overworld", "run", lua.LString(e.ID.String()))
	require.NoError(t, err)
	assert.True(t, e.Equipment.IsEmpty())
	assert.Equal(t, uint8(1<<equipment.OffHand), e.Equipment.DirtyMask())
}

func TestBindScripting_InvalidArgumentsRaise(t *testing.T) {
	scripts, _, e, _ := newBoundScripts(t, `
		function try(id, slot, kind, count)
			local ok, err = pcall(engine.equipment.set, id, slot, kind, count)
			return tostring(ok)
		end
	`)
	id := lua.LString(e.ID.String())
	cases := []struct {
		name string
		args []lua.LValue
	}{
		{"bad slot", []lua.LValue{id, lua.LString("tail"), lua.LString("torch"), lua.LNumber(1)}},
		{"unknown kind", []lua.LValue{id, lua.LString("helmet"), lua.LString("diamond"), lua.LNumber(1)}},
		{"over max stack", []lua.LValue{id, lua.LString("helmet"), lua.LString("iron_helmet"), lua.LNumber(2)}},
		{"bad entity", []lua.LValue{lua.LString("nobody"), lua.LString("helmet"), lua.LString("torch"), lua.LNumber(1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ret, err := scripts.CallHook("overworld", "try", tc.args...)
			require.NoError(t, err)
			assert.Equal(t, lua.LString("false"), ret)
		})
	}
	assert.True(t, e.Equipment.IsEmpty())
	assert.False(t, e.Equipment.HasPendingChanges())
}

func TestBindScripting_MoveSendsFullStateToNewObservers(t *testing.T) {
	b := newBound(t, `
		function run(id) engine.world.move(id, 1600, 64, 0) end
	`)
	b.entity.Equipment.Set(inventory.NewItemStack(1, 1), equipment.Helmet)
	b.entity.Equipment.ClearDirty()
	overworld, ok := b.world.InstanceByName("overworld")
	require.True(t, ok)
	near, err := b.sessions.AddClient(uuid.New(), uuid.Nil, overworld.ID, world.NewChunkView(world.Vec3{X: 1600}, 4))
	require.NoError(t, err)
	origin, err := b.sessions.AddClient(uuid.New(), uuid.Nil, overworld.ID, world.NewChunkView(world.Vec3{}, 4))
	require.NoError(t, err)

	_, err = b.scripts.CallHook("overworld", "run", lua.LString(b.entity.ID.String()))
	require.NoError(t, err)
	assert.Equal(t, 0, b.logs.FilterLevelExact(zap.WarnLevel).Len())

	assert.Equal(t, world.Vec3{X: 1600, Y: 64}, b.entity.Position())
	assert.Equal(t, 1, near.Outbox.Len())
	assert.Equal(t, 0, origin.Outbox.Len())
}

func TestBindScripting_MoveAcrossInstances(t *testing.T) {
	b := newBound(t, `
		function run(id)
			local ok = pcall(engine.world.move, id, 0, 0, 0, "end")
			engine.world.move(id, 8, 70, 8, "nether")
			return tostring(ok)
		end
	`)
	ret, err := b.scripts.CallHook("overworld", "run", lua.LString(b.entity.ID.String()))
	require.NoError(t, err)
	assert.Equal(t, lua.LString("false"), ret)

	nether, ok := b.world.InstanceByName("nether")
	require.True(t, ok)
	assert.Equal(t, nether.ID, b.entity.Instance())
	assert.Equal(t, world.Vec3{X: 8, Y: 70, Z: 8}, b.entity.Position())
}

func TestBindScripting_Despawn(t *testing.T) {
	b := newBound(t, `
		function run(id)
			engine.world.despawn(id)
			local ok = pcall(engine.world.despawn, id)
			return #engine.world.entities() .. ":" .. tostring(ok)
		end
	`)
	ret, err := b.scripts.CallHook("overworld", "run", lua.LString(b.entity.ID.String()))
	require.NoError(t, err)
	assert.Equal(t, lua.LString("0:false"), ret)
	_, found := b.world.Get(b.entity.ID)
	assert.False(t, found)
}

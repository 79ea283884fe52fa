package scripting

import (
	"errors"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

var errNotWired = errors.New("not available")

// RegisterModules defines the engine global in L:
//
//	engine.instance                         name of the VM's instance
//	engine.log.{debug,info,warn,error}(msg)
//	engine.world.entities()                 entity ids in this instance
//	engine.world.move(entity, x, y, z[, instance])
//	engine.world.despawn(entity)
//	engine.equipment.set(entity, slot, kind[, count])
//	engine.equipment.remove(entity, slot)   -> removed (boolean)
//	engine.equipment.clear(entity)
//	engine.equipment.get(entity, slot)      -> kind, count | nil
//
// equipment and world mutations raise a Lua error when the call fails.
// move keeps the entity's instance when instance is omitted.
func (m *Manager) RegisterModules(L *lua.LState, instance string) {
	engine := L.NewTable()
	L.SetField(engine, "instance", lua.LString(instance))
	L.SetField(engine, "log", m.logModule(L, instance))
	L.SetField(engine, "world", m.worldModule(L, instance))
	L.SetField(engine, "equipment", m.equipmentModule(L))
	L.SetGlobal("engine", engine)
}

func (m *Manager) logModule(L *lua.LState, instance string) *lua.LTable {
	mod := L.NewTable()
	levels := map[string]func(string, ...zap.Field){
		"debug": m.logger.Debug,
		"info":  m.logger.Info,
		"warn":  m.logger.Warn,
		"error": m.logger.Error,
	}
	for name, logFn := range levels {
		logFn := logFn
		L.SetField(mod, name, L.NewFunction(func(L *lua.LState) int {
			logFn(L.CheckString(1), zap.String("instance", instance), zap.String("source", "lua"))
			return 0
		}))
	}
	return mod
}

func (m *Manager) worldModule(L *lua.LState, instance string) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "entities", L.NewFunction(func(L *lua.LState) int {
		tbl := L.NewTable()
		if m.ListEntities != nil {
			for _, id := range m.ListEntities(instance) {
				tbl.Append(lua.LString(id))
			}
		}
		L.Push(tbl)
		return 1
	}))
	L.SetField(mod, "move", L.NewFunction(func(L *lua.LState) int {
		entity := L.CheckString(1)
		x, y, z := float64(L.CheckNumber(2)), float64(L.CheckNumber(3)), float64(L.CheckNumber(4))
		target := L.OptString(5, "")
		if m.MoveEntity == nil {
			L.RaiseError("engine.world.move: %v", errNotWired)
			return 0
		}
		if err := m.MoveEntity(entity, x, y, z, target); err != nil {
			L.RaiseError("engine.world.move: %v", err)
		}
		return 0
	}))
	L.SetField(mod, "despawn", L.NewFunction(func(L *lua.LState) int {
		entity := L.CheckString(1)
		if m.DespawnEntity == nil {
			L.RaiseError("engine.world.despawn: %v", errNotWired)
			return 0
		}
		if err := m.DespawnEntity(entity); err != nil {
			L.RaiseError("engine.world.despawn: %v", err)
		}
		return 0
	}))
	return mod
}

func (m *Manager) equipmentModule(L *lua.LState) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "set", L.NewFunction(func(L *lua.LState) int {
		entity, slot, kind := L.CheckString(1), L.CheckString(2), L.CheckString(3)
		count := L.OptInt(4, 1)
		if m.SetEquipment == nil {
			L.RaiseError("engine.equipment.set: %v", errNotWired)
			return 0
		}
		if err := m.SetEquipment(entity, slot, kind, count); err != nil {
			L.RaiseError("engine.equipment.set: %v", err)
		}
		return 0
	}))
	L.SetField(mod, "remove", L.NewFunction(func(L *lua.LState) int {
		entity, slot := L.CheckString(1), L.CheckString(2)
		if m.RemoveEquipment == nil {
			L.RaiseError("engine.equipment.remove: %v", errNotWired)
			return 0
		}
		removed, err := m.RemoveEquipment(entity, slot)
		if err != nil {
			L.RaiseError("engine.equipment.remove: %v", err)
			return 0
		}
		L.Push(lua.LBool(removed))
		return 1
	}))
	L.SetField(mod, "clear", L.NewFunction(func(L *lua.LState) int {
		entity := L.CheckString(1)
		if m.ClearEquipment == nil {
			L.RaiseError("engine.equipment.clear: %v", errNotWired)
			return 0
		}
		if err := m.ClearEquipment(entity); err != nil {
			L.RaiseError("engine.equipment.clear: %v", err)
		}
		return 0
	}))
	L.SetField(mod, "get", L.NewFunction(func(L *lua.LState) int {
		entity, slot := L.CheckString(1), L.CheckString(2)
		if m.GetEquipment == nil {
			L.RaiseError("engine.equipment.get: %v", errNotWired)
			return 0
		}
		item, err := m.GetEquipment(entity, slot)
		if err != nil {
			L.RaiseError("engine.equipment.get: %v", err)
			return 0
		}
		if item == nil {
			L.Push(lua.LNil)
			return 1
		}
		L.Push(lua.LString(item.Kind))
		L.Push(lua.LNumber(item.Count))
		return 2
	}))
	return mod
}

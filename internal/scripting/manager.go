package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// ItemInfo is a snapshot of an equipped item passed to Lua.
type ItemInfo struct {
	Kind  string
	Count int
}

// Manager owns one sandboxed LState per instance and dispatches hooks to them.
//
// Each LState is single-threaded; a per-VM mutex serializes calls into the
// same instance while different instances may run concurrently.
type Manager struct {
	mu     sync.RWMutex
	vms    map[string]*vm
	logger *zap.Logger

	// Injected after construction. nil = the Lua function raises an error.
	SetEquipment    func(entity, slot, kind string, count int) error
	RemoveEquipment func(entity, slot string) (bool, error)
	ClearEquipment  func(entity string) error
	GetEquipment    func(entity, slot string) (*ItemInfo, error)
	ListEntities    func(instance string) []string
	MoveEntity      func(entity string, x, y, z float64, instance string) error
	DespawnEntity   func(entity string) error
}

type vm struct {
	mu        sync.Mutex
	L         *lua.LState
	instLimit int
}

// NewManager creates a Manager with no VMs.
//
// Precondition: logger must be non-nil.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		vms:    make(map[string]*vm),
		logger: logger,
	}
}

// LoadInstance creates a sandboxed VM for instance, registers the engine.*
// modules, then executes every *.lua file in scriptDir in lexicographic order.
// A previously loaded VM for the same instance is replaced.
//
// Precondition: instance must be non-empty; scriptDir must be a readable directory.
// Postcondition: the VM is registered, or an error is returned and nothing changes.
func (m *Manager) LoadInstance(instance, scriptDir string, instLimit int) error {
	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		return fmt.Errorf("scripting: reading script dir %q for %q: %w", scriptDir, instance, err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			files = append(files, filepath.Join(scriptDir, e.Name()))
		}
	}
	sort.Strings(files)

	L := NewSandboxedState()
	m.RegisterModules(L, instance)
	for _, path := range files {
		if err := withBudget(L, instLimit, func() error { return L.DoFile(path) }); err != nil {
			L.Close()
			return fmt.Errorf("scripting: loading %q for %q: %w", path, instance, err)
		}
	}

	m.mu.Lock()
	old := m.vms[instance]
	m.vms[instance] = &vm{L: L, instLimit: instLimit}
	m.mu.Unlock()
	if old != nil {
		old.mu.Lock()
		old.L.Close()
		old.mu.Unlock()
	}
	return nil
}

// Instances returns the names of the instances with a loaded VM, sorted.
func (m *Manager) Instances() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.vms))
	for name := range m.vms {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// CallHook calls the named Lua global function in instance's VM. Returns
// (LNil, nil) if the VM or the hook does not exist. Lua runtime errors,
// including an exhausted instruction budget, are logged at Warn level and
// never propagated.
//
// Postcondition: Returns the first return value of the hook, or LNil.
func (m *Manager) CallHook(instance, hook string, args ...lua.LValue) (lua.LValue, error) {
	m.mu.RLock()
	v, ok := m.vms[instance]
	m.mu.RUnlock()
	if !ok {
		return lua.LNil, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	fn := v.L.GetGlobal(hook)
	if fn == lua.LNil {
		return lua.LNil, nil
	}
	err := withBudget(v.L, v.instLimit, func() error {
		return v.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...)
	})
	if err != nil {
		m.logger.Warn("scripting: Lua runtime error",
			zap.String("instance", instance),
			zap.String("hook", hook),
			zap.Error(err),
		)
		return lua.LNil, nil
	}
	ret := v.L.Get(-1)
	v.L.Pop(1)
	return ret, nil
}

// CallHookAll calls hook in every loaded VM in instance-name order.
func (m *Manager) CallHookAll(hook string, args ...lua.LValue) {
	for _, instance := range m.Instances() {
		_, _ = m.CallHook(instance, hook, args...)
	}
}

// OnTick invokes the on_tick(tick) hook of every instance.
func (m *Manager) OnTick(tick uint64) {
	m.CallHookAll("on_tick", lua.LNumber(tick))
}

// Close releases every VM.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, v := range m.vms {
		v.mu.Lock()
		v.L.Close()
		v.mu.Unlock()
		delete(m.vms, name)
	}
}

package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/ws2dgo/server/internal/app"
	"github.com/ws2dgo/server/internal/core/event"
)

// Module runs a game written in Lua. It implements the app lifecycle hooks
// by calling the script globals on_pre_start, on_start and on_shutdown, and
// forwards connection events to on_connect and on_disconnect.
//
// The VM is single-goroutine: hooks run on the tick goroutine, or before
// and after the loop.
type Module struct {
	vm      *lua.LState
	app     *app.App
	schemas map[string]*schema
	booting bool // inside on_pre_start, registration allowed
	closed  bool
	log     *zap.Logger
}

// NewModule creates a VM and loads every .lua file in dir in lexical order.
func NewModule(dir string, log *zap.Logger) (*Module, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	m := &Module{vm: vm, schemas: make(map[string]*schema), log: log}
	m.openAPI()

	if err := m.loadDir(dir); err != nil {
		vm.Close()
		return nil, fmt.Errorf("load scripts: %w", err)
	}
	return m, nil
}

func (m *Module) loadDir(dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := m.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		m.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// DoString runs a chunk of Lua in the module's VM.
func (m *Module) DoString(src string) error {
	return m.vm.DoString(src)
}

func (m *Module) PreStart(a *app.App) error {
	m.app = a
	bus := a.Server.Bus()
	event.Subscribe(bus, func(e event.ConnectionOpened) {
		m.callHook("on_connect", lua.LNumber(e.ClientID))
	})
	event.Subscribe(bus, func(e event.ConnectionClosed) {
		m.callHook("on_disconnect", lua.LNumber(e.ClientID), lua.LString(e.Reason))
	})
	m.booting = true
	defer func() { m.booting = false }()
	return m.callHook("on_pre_start")
}

func (m *Module) Start(*app.App) {
	m.callHook("on_start")
}

func (m *Module) Shutdown(*app.App) {
	m.callHook("on_shutdown")
	m.Close()
}

// callHook calls a global function if the scripts define it.
func (m *Module) callHook(name string, args ...lua.LValue) error {
	fn := m.vm.GetGlobal(name)
	if fn == lua.LNil {
		return nil
	}
	return m.call(name, fn, args...)
}

func (m *Module) call(name string, fn lua.LValue, args ...lua.LValue) error {
	_, err := m.callRet(name, fn, 0, args...)
	return err
}

// callRet calls fn and returns exactly nret results, padded with nil.
func (m *Module) callRet(name string, fn lua.LValue, nret int, args ...lua.LValue) ([]lua.LValue, error) {
	if err := m.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    nret,
		Protect: true,
	}, args...); err != nil {
		m.log.Error("lua error", zap.String("func", name), zap.Error(err))
		return nil, fmt.Errorf("lua %s: %w", name, err)
	}
	ret := make([]lua.LValue, nret)
	for i := range ret {
		ret[i] = m.vm.Get(i - nret)
	}
	m.vm.Pop(nret)
	return ret, nil
}

// Close releases the VM without running on_shutdown. Later calls do nothing.
func (m *Module) Close() {
	if m.closed {
		return
	}
	m.closed = true
	m.vm.Close()
}

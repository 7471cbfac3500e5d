package scripting

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ws2dgo/server/internal/app"
	"github.com/ws2dgo/server/internal/config"
)

type pipe struct {
	addr   string
	mu     sync.Mutex
	sent   [][]byte
	closed bool
	hooks  []func()
}

func (p *pipe) Send(data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, data)
	return true
}

func (p *pipe) RemoteAddr() string { return p.addr }

func (p *pipe) frames() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.sent...)
}

func (p *pipe) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	hooks := p.hooks
	p.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

func (p *pipe) OnClose(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, fn)
}

func writeScripts(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, src := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
	}
	return dir
}

func bootModule(t *testing.T, files map[string]string, log *zap.Logger) (*Module, *app.App) {
	t.Helper()
	if log == nil {
		log = zap.NewNop()
	}
	m, err := NewModule(writeScripts(t, files), log)
	require.NoError(t, err)
	cfg := config.Defaults()
	cfg.Network.HeartbeatInterval = 0
	a := app.New(cfg, m, log)
	require.NoError(t, a.Boot())
	return m, a
}

func global(m *Module, name string) lua.LValue {
	return m.vm.GetGlobal(name)
}

func TestScriptsLoadInLexicalOrder(t *testing.T) {
	m, err := NewModule(writeScripts(t, map[string]string{
		"b.lua":      `order = order .. "b"`,
		"a.lua":      `order = "a"`,
		"notes.txt":  `this is not lua`,
		"c_last.lua": `order = order .. "c"`,
	}), zap.NewNop())
	require.NoError(t, err)
	defer m.Close()
	assert.Equal(t, "abc", lua.LVAsString(global(m, "order")))
}

func TestMissingScriptDirIsEmptyGame(t *testing.T) {
	m, err := NewModule(filepath.Join(t.TempDir(), "none"), zap.NewNop())
	require.NoError(t, err)
	m.Close()
}

func TestScriptSyntaxError(t *testing.T) {
	_, err := NewModule(writeScripts(t, map[string]string{"bad.lua": "function ("}), zap.NewNop())
	assert.Error(t, err)
}

func TestLifecycleHooks(t *testing.T) {
	m, a := bootModule(t, map[string]string{"main.lua": `
		calls = ""
		function on_pre_start() calls = calls .. "pre;" end
		function on_start() calls = calls .. "start;" end
		function on_shutdown() calls = calls .. "stop;" end
	`}, nil)
	assert.Equal(t, "pre;", lua.LVAsString(global(m, "calls")))
	m.Start(a)
	assert.Equal(t, "pre;start;", lua.LVAsString(global(m, "calls")))
	m.Shutdown(a)
}

func TestPreStartErrorAbortsBoot(t *testing.T) {
	m, err := NewModule(writeScripts(t, map[string]string{"main.lua": `
		function on_pre_start() error("missing assets") end
	`}), zap.NewNop())
	require.NoError(t, err)
	defer m.Close()
	a := app.New(config.Defaults(), m, zap.NewNop())
	err = a.Boot()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing assets")
}

func TestSchedulingFromLua(t *testing.T) {
	m, a := bootModule(t, map[string]string{"main.lua": `
		later, repeats, next = 0, 0, 0
		function on_pre_start()
			ws2d.run_later(function() later = later + 1 end, 2)
			ws2d.run_next_tick(function() next = next + 1 end)
			rep = ws2d.run_repeatedly(function() repeats = repeats + 1 end, 2)
		end
	`}, nil)
	defer m.Close()

	for i := 0; i < 5; i++ {
		a.Server.Tick()
	}
	assert.Equal(t, float64(1), float64(lua.LVAsNumber(global(m, "later"))))
	assert.Equal(t, float64(1), float64(lua.LVAsNumber(global(m, "next"))))
	assert.Equal(t, float64(2), float64(lua.LVAsNumber(global(m, "repeats"))), "fires on ticks 3 and 5")

	require.NoError(t, m.DoString(`stopped = ws2d.stop_task(rep); again = ws2d.stop_task(rep)`))
	assert.Equal(t, lua.LTrue, global(m, "stopped"))
	assert.Equal(t, lua.LFalse, global(m, "again"))
	for i := 0; i < 4; i++ {
		a.Server.Tick()
	}
	assert.Equal(t, float64(2), float64(lua.LVAsNumber(global(m, "repeats"))))
}

func TestSuspendAndResumeFromLua(t *testing.T) {
	m, a := bootModule(t, map[string]string{"main.lua": `
		fired = 0
		function on_pre_start()
			id = ws2d.run_later(function() fired = fired + 1 end, 1)
			ok = ws2d.suspend_task(id)
		end
	`}, nil)
	defer m.Close()
	assert.Equal(t, lua.LTrue, global(m, "ok"))
	for i := 0; i < 5; i++ {
		a.Server.Tick()
	}
	assert.Equal(t, float64(0), float64(lua.LVAsNumber(global(m, "fired"))))

	require.NoError(t, m.DoString(`ws2d.resume_task(id)`))
	a.Server.Tick()
	a.Server.Tick()
	assert.Equal(t, float64(1), float64(lua.LVAsNumber(global(m, "fired"))))
}

func TestConnectionCallbacks(t *testing.T) {
	m, a := bootModule(t, map[string]string{"main.lua": `
		log = {}
		function on_connect(id) table.insert(log, "open " .. id .. " n=" .. ws2d.connections()) end
		function on_disconnect(id, reason) table.insert(log, "close " .. id .. " " .. reason) end
	`}, nil)
	defer m.Close()

	p := &pipe{addr: "10.0.0.1:4000"}
	a.Server.Accept(p)
	a.Server.Tick()
	p.Close()
	a.Server.Tick()

	require.NoError(t, m.DoString(`joined = table.concat(log, ",")`))
	assert.Equal(t, "open 0 n=1,close 0 closed", lua.LVAsString(global(m, "joined")))
}

func TestTaskErrorIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	m, a := bootModule(t, map[string]string{"main.lua": `
		after = false
		function on_pre_start()
			ws2d.run_next_tick(function() error("boom") end)
			ws2d.run_later(function() after = true end, 2)
		end
	`}, zap.New(core))
	defer m.Close()

	for i := 0; i < 3; i++ {
		a.Server.Tick()
	}
	assert.Equal(t, 1, logs.FilterMessage("lua error").Len())
	assert.Equal(t, lua.LTrue, global(m, "after"))
}

func TestAPIBeforePreStartRaises(t *testing.T) {
	_, err := NewModule(writeScripts(t, map[string]string{"main.lua": `ws2d.connections()`}), zap.NewNop())
	assert.Error(t, err)
}

func TestShutdownFromLua(t *testing.T) {
	m, a := bootModule(t, map[string]string{"main.lua": `function stop() ws2d.shutdown() end`}, nil)
	defer m.Close()
	require.NoError(t, m.DoString(`stop()`))
	assert.True(t, a.Server.Stopping())
}

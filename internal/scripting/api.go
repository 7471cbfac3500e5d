package scripting

import (
	"fmt"
	"io"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/ws2dgo/server/internal/app"
	"github.com/ws2dgo/server/internal/command"
	"github.com/ws2dgo/server/internal/net/packet"
	"github.com/ws2dgo/server/internal/server"
)

// openAPI installs the ws2d table.
func (m *Module) openAPI() {
	t := m.vm.SetFuncs(m.vm.NewTable(), map[string]lua.LGFunction{
		"log":            m.luaLog,
		"run_later":      m.luaRunLater,
		"run_next_tick":  m.luaRunNextTick,
		"run_repeatedly": m.luaRunRepeatedly,
		"suspend_task":   m.luaSuspendTask,
		"resume_task":    m.luaResumeTask,
		"stop_task":      m.luaStopTask,
		"connections":    m.luaConnections,
		"tps":            m.luaTPS,
		"shutdown":       m.luaShutdown,

		"register_packet":  m.luaRegisterPacket,
		"register_command": m.luaRegisterCommand,
		"send":             m.luaSend,
		"broadcast":        m.luaBroadcast,
	})
	m.vm.SetGlobal("ws2d", t)
}

func (m *Module) mustApp(L *lua.LState) *app.App {
	if m.app == nil {
		L.RaiseError("ws2d is not available before on_pre_start")
	}
	return m.app
}

// mustBoot returns the app while on_pre_start runs and raises otherwise.
func (m *Module) mustBoot(L *lua.LState, fn string) *app.App {
	if !m.booting {
		L.RaiseError("ws2d.%s is only available during on_pre_start", fn)
	}
	return m.app
}

// task wraps a Lua function as a scheduler action.
func (m *Module) task(fn *lua.LFunction) func() {
	return func() { m.call("task", fn) }
}

func (m *Module) luaLog(L *lua.LState) int {
	m.log.Info(L.CheckString(1), zap.String("source", "lua"))
	return 0
}

func (m *Module) luaRunLater(L *lua.LState) int {
	a := m.mustApp(L)
	fn := L.CheckFunction(1)
	delay := L.OptInt64(2, 0)
	L.Push(lua.LNumber(a.Server.Scheduler().RunTaskLater(m.task(fn), delay)))
	return 1
}

func (m *Module) luaRunNextTick(L *lua.LState) int {
	a := m.mustApp(L)
	fn := L.CheckFunction(1)
	L.Push(lua.LNumber(a.Server.Scheduler().RunTaskNextTick(m.task(fn))))
	return 1
}

func (m *Module) luaRunRepeatedly(L *lua.LState) int {
	a := m.mustApp(L)
	fn := L.CheckFunction(1)
	cycle := L.CheckInt64(2)
	if cycle < 1 {
		L.ArgError(2, "cycle must be at least 1")
	}
	L.Push(lua.LNumber(a.Server.Scheduler().RunTaskRepeatedly(m.task(fn), cycle)))
	return 1
}

func (m *Module) luaSuspendTask(L *lua.LState) int {
	err := m.mustApp(L).Server.Scheduler().SuspendTask(L.CheckInt(1))
	L.Push(lua.LBool(err == nil))
	return 1
}

func (m *Module) luaResumeTask(L *lua.LState) int {
	err := m.mustApp(L).Server.Scheduler().ResumeTask(L.CheckInt(1))
	L.Push(lua.LBool(err == nil))
	return 1
}

func (m *Module) luaStopTask(L *lua.LState) int {
	err := m.mustApp(L).Server.Scheduler().StopTask(L.CheckInt(1))
	L.Push(lua.LBool(err == nil))
	return 1
}

func (m *Module) luaConnections(L *lua.LState) int {
	L.Push(lua.LNumber(m.mustApp(L).Server.ClientCount()))
	return 1
}

func (m *Module) luaTPS(L *lua.LState) int {
	L.Push(lua.LNumber(m.mustApp(L).Server.Pacer().MeasuredTPS()))
	return 1
}

func (m *Module) luaShutdown(L *lua.LState) int {
	m.mustApp(L).Shutdown()
	return 0
}

// register_packet(name, fields, handler) adds a packet type and returns its
// code. handler(id, msg) may return a packet name and table as the reply.
// Without a handler the type is send-only.
func (m *Module) luaRegisterPacket(L *lua.LState) int {
	a := m.mustBoot(L, "register_packet")
	name := L.CheckString(1)
	sc, err := parseSchema(name, L.CheckTable(2))
	if err != nil {
		L.ArgError(2, err.Error())
	}
	fn := L.OptFunction(3, nil)

	var handler func(*server.Server, *server.Client, packet.Dynamic) (packet.Payload, error)
	if fn != nil {
		handler = func(_ *server.Server, c *server.Client, msg packet.Dynamic) (packet.Payload, error) {
			return m.handlePacket(fn, c, msg.(*message))
		}
	}
	code, err := packet.RegisterDynamic(a.Server.Packets(), name, sc.newMessage, handler)
	if err != nil {
		L.RaiseError("register_packet: %s", err)
	}
	m.schemas[name] = sc
	L.Push(lua.LNumber(code))
	return 1
}

func (m *Module) handlePacket(fn *lua.LFunction, c *server.Client, msg *message) (packet.Payload, error) {
	ret, err := m.callRet("packet "+msg.schema.name, fn, 2, lua.LNumber(c.ID()), msg.table(m.vm))
	if err != nil {
		return nil, err
	}
	if ret[0] == lua.LNil {
		return nil, nil
	}
	return m.buildMessage(ret[0], ret[1])
}

// buildMessage builds an outbound packet from a script-side name and table.
func (m *Module) buildMessage(name, fields lua.LValue) (*message, error) {
	sc, ok := m.schemas[lua.LVAsString(name)]
	if !ok {
		return nil, fmt.Errorf("unknown packet %q", lua.LVAsString(name))
	}
	var t *lua.LTable
	switch v := fields.(type) {
	case *lua.LTable:
		t = v
	case *lua.LNilType:
	default:
		return nil, fmt.Errorf("packet %s: fields must be a table, got %s", sc.name, fields.Type())
	}
	return sc.fromTable(t), nil
}

// register_command(aliases, usage, fn) adds a console command. fn receives
// the arguments after the alias and may return a line to print.
func (m *Module) luaRegisterCommand(L *lua.LState) int {
	a := m.mustBoot(L, "register_command")
	var aliases []string
	switch v := L.CheckAny(1).(type) {
	case lua.LString:
		aliases = []string{string(v)}
	case *lua.LTable:
		for i := 1; i <= v.Len(); i++ {
			aliases = append(aliases, lua.LVAsString(v.RawGetInt(i)))
		}
	default:
		L.ArgError(1, "alias or list of aliases expected")
	}
	usage := L.CheckString(2)
	fn := L.CheckFunction(3)

	err := a.Commands.Register(command.Command{
		Aliases: aliases,
		Usage:   usage,
		Run: func(_ *server.Server, out io.Writer, args []string) error {
			argv := m.vm.NewTable()
			for _, arg := range args[1:] {
				argv.Append(lua.LString(arg))
			}
			ret, err := m.callRet("command "+args[0], fn, 1, argv)
			if err != nil {
				return err
			}
			if ret[0] != lua.LNil {
				fmt.Fprintln(out, lua.LVAsString(ret[0]))
			}
			return nil
		},
	})
	if err != nil {
		L.RaiseError("register_command: %s", err)
	}
	return 0
}

// send(id, name, fields) reports whether the packet was queued.
func (m *Module) luaSend(L *lua.LState) int {
	a := m.mustApp(L)
	id := L.CheckInt(1)
	msg, err := m.buildMessage(L.CheckAny(2), L.Get(3))
	if err != nil {
		L.RaiseError("send: %s", err)
	}
	c, ok := a.Server.Client(id)
	if !ok {
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LBool(a.Server.Send(c, msg) == nil))
	return 1
}

// broadcast(name, fields) sends to every connection.
func (m *Module) luaBroadcast(L *lua.LState) int {
	a := m.mustApp(L)
	msg, err := m.buildMessage(L.CheckAny(1), L.Get(2))
	if err != nil {
		L.RaiseError("broadcast: %s", err)
	}
	if err := a.Server.Broadcast(msg); err != nil {
		L.RaiseError("broadcast: %s", err)
	}
	return 0
}

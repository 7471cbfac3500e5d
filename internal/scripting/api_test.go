package scripting

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/ws2dgo/server/internal/app"
	"github.com/ws2dgo/server/internal/config"
	"github.com/ws2dgo/server/internal/net/packet"
)

const pingPong = `
	function on_pre_start()
		PING = ws2d.register_packet("ping", {{"seq", "int"}, {"note", "string"}}, function(id, msg)
			last_sender = id
			return "pong", {seq = msg.seq + 1, note = msg.note .. "!", ok = true}
		end)
		PONG = ws2d.register_packet("pong", {{"seq", "int"}, {"note", "string"}, {"ok", "bool"}})
		NEWS = ws2d.register_packet("news", {{"text", "string"}})
	end
`

func pingFrame(code byte, sender byte, seq int32, note string) []byte {
	w := packet.NewWriter()
	w.WriteD(seq)
	w.WriteS(note)
	return packet.AppendFrame(nil, code, sender, w.Bytes())
}

func TestLuaPacketPingPong(t *testing.T) {
	m, a := bootModule(t, map[string]string{"main.lua": pingPong}, nil)
	defer m.Close()
	assert.Equal(t, lua.LNumber(2), global(m, "PING"), "codes follow the presets")

	p := &pipe{addr: "10.0.0.1:4000"}
	a.Server.Accept(p)
	a.Server.Tick()
	a.Server.Receive(p, pingFrame(2, 0, 41, "hi"))
	a.Server.Tick()

	frames := p.frames()
	require.Len(t, frames, 2, "client uid then pong")
	pong := frames[1]
	require.Equal(t, byte(3), pong[0])
	r := packet.NewReader(pong[1:])
	assert.Equal(t, int32(42), r.ReadD())
	assert.Equal(t, "hi!", r.ReadS())
	assert.True(t, r.ReadBool())
	require.NoError(t, r.Err())
	assert.Equal(t, lua.LNumber(0), global(m, "last_sender"))
}

func TestLuaSendAndBroadcast(t *testing.T) {
	m, a := bootModule(t, map[string]string{"main.lua": pingPong}, nil)
	defer m.Close()
	p1 := &pipe{addr: "10.0.0.1:1"}
	p2 := &pipe{addr: "10.0.0.2:2"}
	a.Server.Accept(p1)
	a.Server.Accept(p2)
	a.Server.Tick()

	require.NoError(t, m.DoString(`
		sent = ws2d.send(1, "news", {text = "for two"})
		missing = ws2d.send(9, "news", {text = "nobody"})
		ws2d.broadcast("news", {text = "all"})
	`))
	assert.Equal(t, lua.LTrue, global(m, "sent"))
	assert.Equal(t, lua.LFalse, global(m, "missing"))
	assert.Len(t, p1.frames(), 2)
	assert.Len(t, p2.frames(), 3)

	last := p2.frames()[2]
	assert.Equal(t, byte(4), last[0])
	r := packet.NewReader(last[1:])
	assert.Equal(t, "all", r.ReadS())

	assert.Error(t, m.DoString(`ws2d.send(0, "nope", {})`))
	assert.Error(t, m.DoString(`ws2d.broadcast("news", 5)`))
}

func TestLuaRegistrationOutsidePreStartRaises(t *testing.T) {
	m, _ := bootModule(t, map[string]string{"main.lua": pingPong}, nil)
	defer m.Close()
	err := m.DoString(`ws2d.register_packet("late", {})`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only available during on_pre_start")
	assert.Error(t, m.DoString(`ws2d.register_command("late", "late", function() end)`))
}

func TestLuaRegistrationErrorAbortsBoot(t *testing.T) {
	for name, src := range map[string]string{
		"duplicate packet": `function on_pre_start()
			ws2d.register_packet("a", {})
			ws2d.register_packet("a", {})
		end`,
		"bad field type": `function on_pre_start()
			ws2d.register_packet("a", {{"x", "vector"}})
		end`,
		"duplicate field": `function on_pre_start()
			ws2d.register_packet("a", {{"x", "int"}, {"x", "int"}})
		end`,
		"taken alias": `function on_pre_start()
			ws2d.register_command("stop", "stop", function() end)
		end`,
	} {
		t.Run(name, func(t *testing.T) {
			m, err := NewModule(writeScripts(t, map[string]string{"main.lua": src}), zap.NewNop())
			require.NoError(t, err)
			defer m.Close()
			assert.Error(t, app.New(config.Defaults(), m, zap.NewNop()).Boot())
		})
	}
}

func TestLuaCommand(t *testing.T) {
	m, a := bootModule(t, map[string]string{"main.lua": `
		function on_pre_start()
			ws2d.register_command({"greet", "hello"}, "greet <name>", function(args)
				if #args == 0 then error("who?") end
				return "hello " .. args[1] .. " (" .. ws2d.connections() .. " online)"
			end)
		end
	`}, nil)
	defer m.Close()

	cmd, ok := a.Commands.Lookup("HELLO")
	require.True(t, ok)
	assert.Equal(t, "greet <name>", cmd.Usage)

	var out bytes.Buffer
	require.NoError(t, cmd.Run(a.Server, &out, []string{"hello", "ada"}))
	assert.Equal(t, "hello ada (0 online)\n", out.String())
	assert.Error(t, cmd.Run(a.Server, &out, []string{"greet"}))
}

func TestLuaPingPongOverWebSocket(t *testing.T) {
	m, err := NewModule(writeScripts(t, map[string]string{"main.lua": pingPong}), zap.NewNop())
	require.NoError(t, err)
	defer m.Close()

	cfg := config.Defaults()
	cfg.Network.BindAddress = "127.0.0.1:0"
	cfg.Network.TicksPerSecond = 100
	cfg.Network.HeartbeatInterval = 0
	cfg.RateLimit.Enabled = false
	a := app.New(cfg, m, zap.NewNop())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(context.Background()) }()
	select {
	case <-a.Ready():
	case err := <-errCh:
		t.Fatalf("run failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("app not ready")
	}

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+a.Addr()+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))

	_, uidFrame, err := ws.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.BinaryMessage, pingFrame(2, uidFrame[1], 7, "yo")))

	_, reply, err := ws.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, byte(3), reply[0])
	r := packet.NewReader(reply[1:])
	assert.Equal(t, int32(8), r.ReadD())
	assert.Equal(t, "yo!", r.ReadS())

	a.Shutdown()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("run did not return")
	}
}

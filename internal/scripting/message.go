package scripting

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/ws2dgo/server/internal/net/packet"
)

type fieldKind uint8

const (
	kindByte fieldKind = iota
	kindBool
	kindShort
	kindInt
	kindLong
	kindFloat
	kindString
)

var fieldKinds = map[string]fieldKind{
	"byte":   kindByte,
	"bool":   kindBool,
	"short":  kindShort,
	"int":    kindInt,
	"long":   kindLong,
	"float":  kindFloat,
	"string": kindString,
}

type field struct {
	name string
	kind fieldKind
}

// schema is the wire layout of a script-defined packet type.
type schema struct {
	name   string
	fields []field
}

// parseSchema reads a field list of the form {{"seq", "int"}, {"text", "string"}}.
func parseSchema(name string, list *lua.LTable) (*schema, error) {
	sc := &schema{name: name}
	seen := make(map[string]bool)
	for i := 1; i <= list.Len(); i++ {
		pair, ok := list.RawGetInt(i).(*lua.LTable)
		if !ok {
			return nil, fmt.Errorf("field %d: expected {name, type}", i)
		}
		fname := lua.LVAsString(pair.RawGetInt(1))
		if fname == "" {
			return nil, fmt.Errorf("field %d: missing name", i)
		}
		if seen[fname] {
			return nil, fmt.Errorf("field %d: duplicate name %q", i, fname)
		}
		kind, ok := fieldKinds[lua.LVAsString(pair.RawGetInt(2))]
		if !ok {
			return nil, fmt.Errorf("field %q: unknown type %q", fname, lua.LVAsString(pair.RawGetInt(2)))
		}
		seen[fname] = true
		sc.fields = append(sc.fields, field{name: fname, kind: kind})
	}
	return sc, nil
}

func (sc *schema) newMessage() packet.Dynamic {
	return &message{schema: sc}
}

// fromTable builds a message from a Lua table keyed by field name. Missing
// fields encode as zero values.
func (sc *schema) fromTable(t *lua.LTable) *message {
	msg := &message{schema: sc, values: make([]lua.LValue, len(sc.fields))}
	for i, f := range sc.fields {
		v := lua.LValue(lua.LNil)
		if t != nil {
			v = t.RawGetString(f.name)
		}
		msg.values[i] = v
	}
	return msg
}

// message is a packet whose fields are declared by a script.
type message struct {
	schema *schema
	values []lua.LValue
}

func (msg *message) PacketName() string { return msg.schema.name }

func (msg *message) Encode(w *packet.Writer) {
	for i, f := range msg.schema.fields {
		v := msg.values[i]
		switch f.kind {
		case kindByte:
			w.WriteC(byte(int64(lua.LVAsNumber(v))))
		case kindBool:
			w.WriteBool(lua.LVAsBool(v))
		case kindShort:
			w.WriteH(uint16(int64(lua.LVAsNumber(v))))
		case kindInt:
			w.WriteD(int32(int64(lua.LVAsNumber(v))))
		case kindLong:
			w.WriteQ(int64(lua.LVAsNumber(v)))
		case kindFloat:
			w.WriteF(float64(lua.LVAsNumber(v)))
		case kindString:
			w.WriteS(lua.LVAsString(v))
		}
	}
}

func (msg *message) Decode(r *packet.Reader) error {
	msg.values = make([]lua.LValue, len(msg.schema.fields))
	for i, f := range msg.schema.fields {
		var v lua.LValue
		switch f.kind {
		case kindByte:
			v = lua.LNumber(r.ReadC())
		case kindBool:
			v = lua.LBool(r.ReadBool())
		case kindShort:
			v = lua.LNumber(r.ReadH())
		case kindInt:
			v = lua.LNumber(r.ReadD())
		case kindLong:
			v = lua.LNumber(r.ReadQ())
		case kindFloat:
			v = lua.LNumber(r.ReadF())
		case kindString:
			v = lua.LString(r.ReadS())
		}
		msg.values[i] = v
	}
	return nil
}

func (msg *message) table(L *lua.LState) *lua.LTable {
	t := L.NewTable()
	for i, f := range msg.schema.fields {
		t.RawSetString(f.name, msg.values[i])
	}
	return t
}

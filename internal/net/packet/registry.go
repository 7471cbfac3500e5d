package packet

import (
	"errors"
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

// MaxTypes is the size of the one-byte type code space.
const MaxTypes = 256

var (
	ErrDuplicateType      = errors.New("packet: payload type already registered")
	ErrCodeSpaceExhausted = errors.New("packet: all 256 type codes are in use")
	ErrFrozen             = errors.New("packet: registry is frozen")
	ErrUnregistered       = errors.New("packet: payload type not registered")
	ErrUnknownCode        = errors.New("packet: unknown type code")
	ErrNoHandler          = errors.New("packet: type has no handler")
	ErrMalformed          = errors.New("packet: malformed payload")
	ErrHandlerPanic       = errors.New("packet: handler panicked")
)

// Payload is a typed message body. Types that are only ever sent may leave
// Decode as a no-op and types only ever received may leave Encode empty.
type Payload interface {
	Encode(w *Writer)
	Decode(r *Reader) error
}

// Descriptor binds a payload type to its code and handler. S is the server
// context and C the connection type handed to handlers.
type Descriptor[S, C any] struct {
	Code    byte
	Name    string
	newFn   func() Payload
	handler func(srv S, sender C, msg Payload) (Payload, error)
}

// HasHandler reports whether frames of this type can be received.
func (d *Descriptor[S, C]) HasHandler() bool { return d.handler != nil }

// Decode builds a fresh payload from a frame body.
func (d *Descriptor[S, C]) Decode(body []byte) (Payload, error) {
	msg := d.newFn()
	r := NewReader(body)
	err := msg.Decode(r)
	if err == nil {
		err = r.Err()
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, d.Name, err)
	}
	return msg, nil
}

// Dynamic is a payload whose wire type is picked at run time, so several
// wire types can share one Go type. It is registered by name.
type Dynamic interface {
	Payload
	PacketName() string
}

// dynamicKey keys Dynamic payloads apart from Go types in byKey.
type dynamicKey string

func keyOf(p Payload) any {
	if d, ok := p.(Dynamic); ok {
		return dynamicKey(d.PacketName())
	}
	return reflect.TypeOf(p)
}

// Registry assigns dense type codes in registration order and routes
// received frames to their handlers. Registration happens at setup; once
// frozen the registry is read-only and safe for concurrent readers.
type Registry[S, C any] struct {
	byCode []*Descriptor[S, C]
	byKey  map[any]*Descriptor[S, C]
	frozen bool
	log    *zap.Logger
}

func NewRegistry[S, C any](log *zap.Logger) *Registry[S, C] {
	return &Registry[S, C]{
		byCode: make([]*Descriptor[S, C], 0, 16),
		byKey:  make(map[any]*Descriptor[S, C]),
		log:    log,
	}
}

// Register adds payload type T, constructed by newFn, under the next free
// code. A nil handler registers a send-only type.
func Register[S, C any, T Payload](reg *Registry[S, C], newFn func() T, handler func(srv S, sender C, msg T) (Payload, error)) (byte, error) {
	typ := reflect.TypeFor[T]()
	d := &Descriptor[S, C]{
		Name:  typ.String(),
		newFn: func() Payload { return newFn() },
	}
	if handler != nil {
		d.handler = func(srv S, sender C, msg Payload) (Payload, error) {
			return handler(srv, sender, msg.(T))
		}
	}
	return reg.add(typ, d)
}

// RegisterDynamic adds the wire type name, whose payloads newFn builds. A nil
// handler registers a send-only type.
func RegisterDynamic[S, C any](reg *Registry[S, C], name string, newFn func() Dynamic, handler func(srv S, sender C, msg Dynamic) (Payload, error)) (byte, error) {
	d := &Descriptor[S, C]{
		Name:  name,
		newFn: func() Payload { return newFn() },
	}
	if handler != nil {
		d.handler = func(srv S, sender C, msg Payload) (Payload, error) {
			return handler(srv, sender, msg.(Dynamic))
		}
	}
	return reg.add(dynamicKey(name), d)
}

func (reg *Registry[S, C]) add(key any, d *Descriptor[S, C]) (byte, error) {
	if reg.frozen {
		return 0, fmt.Errorf("register %s: %w", d.Name, ErrFrozen)
	}
	if _, dup := reg.byKey[key]; dup {
		return 0, fmt.Errorf("register %s: %w", d.Name, ErrDuplicateType)
	}
	if len(reg.byCode) >= MaxTypes {
		return 0, fmt.Errorf("register %s: %w", d.Name, ErrCodeSpaceExhausted)
	}
	d.Code = byte(len(reg.byCode))
	reg.byCode = append(reg.byCode, d)
	reg.byKey[key] = d
	return d.Code, nil
}

// Freeze rejects further registrations.
func (reg *Registry[S, C]) Freeze() { reg.frozen = true }

// Len returns the number of registered types.
func (reg *Registry[S, C]) Len() int { return len(reg.byCode) }

// Lookup returns the descriptor for a type code.
func (reg *Registry[S, C]) Lookup(code byte) (*Descriptor[S, C], bool) {
	if int(code) >= len(reg.byCode) {
		return nil, false
	}
	return reg.byCode[code], true
}

// CodeOf returns the code registered for p's type.
func (reg *Registry[S, C]) CodeOf(p Payload) (byte, error) {
	d, ok := reg.byKey[keyOf(p)]
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrUnregistered, p)
	}
	return d.Code, nil
}

// Encode frames p for sending: [code][payload].
func (reg *Registry[S, C]) Encode(p Payload) ([]byte, error) {
	code, err := reg.CodeOf(p)
	if err != nil {
		return nil, err
	}
	w := NewWriterWithCode(code)
	p.Encode(w)
	return w.Bytes(), nil
}

// Dispatch decodes one received frame and runs its handler. resolve maps the
// sender id claimed by the frame to a connection; its error is returned
// unchanged so the caller can tell identity failures from protocol ones.
// A non-nil response is returned already encoded.
func (reg *Registry[S, C]) Dispatch(srv S, data []byte, resolve func(claimed int) (C, error)) ([]byte, error) {
	f, err := ParseFrame(data)
	if err != nil {
		return nil, err
	}
	d, ok := reg.Lookup(f.Code)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownCode, f.Code)
	}
	reg.log.Debug("packet received",
		zap.String("type", d.Name),
		zap.Uint8("code", f.Code),
		zap.Uint8("sender", f.Sender),
		zap.Int("size", len(data)),
	)

	sender, err := resolve(int(f.Sender))
	if err != nil {
		return nil, err
	}
	if d.handler == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, d.Name)
	}
	msg, err := d.Decode(f.Body)
	if err != nil {
		return nil, err
	}

	resp, err := reg.safeCall(d, srv, sender, msg)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, nil
	}
	return reg.Encode(resp)
}

// safeCall executes a handler with panic recovery so a single bad packet
// cannot take down the tick loop.
func (reg *Registry[S, C]) safeCall(d *Descriptor[S, C], srv S, sender C, msg Payload) (resp Payload, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			reg.log.Error("packet handler panic recovered",
				zap.String("type", d.Name),
				zap.Any("panic", rec),
			)
			resp, err = nil, fmt.Errorf("%w: %s: %v", ErrHandlerPanic, d.Name, rec)
		}
	}()
	return d.handler(srv, sender, msg)
}

package packet

import (
	"errors"
	"fmt"
)

// HeaderSize is the length of a client frame header: type code and claimed
// sender id.
const HeaderSize = 2

// ErrShortFrame is returned for frames without a complete header.
var ErrShortFrame = errors.New("packet: frame shorter than header")

// Frame is one received message.
// Wire format: [1B type code][1B sender-claimed connection id][payload].
type Frame struct {
	Code   byte
	Sender byte
	Body   []byte
}

// ParseFrame splits a received frame. Body aliases data.
func ParseFrame(data []byte) (Frame, error) {
	if len(data) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(data))
	}
	return Frame{Code: data[0], Sender: data[1], Body: data[HeaderSize:]}, nil
}

// AppendFrame builds a client-side frame. The server never sends this form;
// it exists for clients written in Go and for tests.
func AppendFrame(dst []byte, code, sender byte, body []byte) []byte {
	dst = append(dst, code, sender)
	return append(dst, body...)
}

package sim

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/opd-ai/hwcodec/status"
)

// HeaderSize is the length of the picture header that starts every packet.
const HeaderSize = 4

// PictureType is the coding type of a simulated picture.
type PictureType byte

const (
	PictureI PictureType = 'I'
	PictureP PictureType = 'P'
	PictureB PictureType = 'B'
)

// IsAnchor reports whether the picture can be referenced.
func (t PictureType) IsAnchor() bool { return t == PictureI || t == PictureP }

func (t PictureType) valid() bool { return t == PictureI || t == PictureP || t == PictureB }

// Header is the decoded picture header.
type Header struct {
	Type PictureType
	POC  int
}

// ErrBadHeader indicates a packet too short or with an unknown picture type.
var ErrBadHeader = fmt.Errorf("%w: malformed picture header", status.ErrInvalidArgument)

// EncodePacket builds a packet: type byte, reserved byte, big-endian POC,
// then payload.
func EncodePacket(typ PictureType, poc int, payload []byte) []byte {
	out := make([]byte, HeaderSize+len(payload))
	out[0] = byte(typ)
	binary.BigEndian.PutUint16(out[2:4], uint16(poc))
	copy(out[HeaderSize:], payload)
	return out
}

// ParseHeader decodes the picture header at the start of data.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrBadHeader, len(data))
	}
	typ := PictureType(data[0])
	if !typ.valid() {
		return Header{}, fmt.Errorf("%w: picture type %q", ErrBadHeader, data[0])
	}
	return Header{Type: typ, POC: int(binary.BigEndian.Uint16(data[2:4]))}, nil
}

// StreamPicture is one entry of a generated stream, in decode order.
type StreamPicture struct {
	Header
	Data []byte
}

// Stream generates n pictures following gop, a display-order pattern such
// as "IBBP" repeated as needed, and returns them in decode order: each
// anchor precedes the B pictures displayed before it. Trailing B pictures
// with no following anchor are coded as P. Payloads are payloadSize bytes
// derived from the POC.
func Stream(gop string, n, payloadSize int) ([]StreamPicture, error) {
	gop = strings.ToUpper(gop)
	if gop == "" || n <= 0 || payloadSize < 0 {
		return nil, fmt.Errorf("%w: gop %q, %d pictures", status.ErrInvalidArgument, gop, n)
	}
	if gop[0] != byte(PictureI) {
		return nil, fmt.Errorf("%w: gop %q must start with I", status.ErrInvalidArgument, gop)
	}
	for i := 0; i < len(gop); i++ {
		if !PictureType(gop[i]).valid() {
			return nil, fmt.Errorf("%w: gop %q has picture type %q", status.ErrInvalidArgument, gop, gop[i])
		}
	}

	display := make([]PictureType, n)
	for i := range display {
		display[i] = PictureType(gop[i%len(gop)])
	}
	for i := n - 1; i >= 0 && display[i] == PictureB; i-- {
		display[i] = PictureP
	}

	out := make([]StreamPicture, 0, n)
	var pending []int
	emit := func(poc int) {
		payload := make([]byte, payloadSize)
		for j := range payload {
			payload[j] = byte(poc*31 + j)
		}
		h := Header{Type: display[poc], POC: poc}
		out = append(out, StreamPicture{Header: h, Data: EncodePacket(h.Type, poc, payload)})
	}
	for poc, typ := range display {
		if typ == PictureB {
			pending = append(pending, poc)
			continue
		}
		emit(poc)
		for _, b := range pending {
			emit(b)
		}
		pending = pending[:0]
	}
	return out, nil
}

package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	Magic          uint32 = 0x4841434B // "HACK"
	Version        uint16 = 1
	FixedHeaderLen uint16 = 32

	FlagIsResponse uint32 = 0x01
	FlagIsError    uint32 = 0x02
)

var (
	ErrShortHeader        = errors.New("frame: short fixed header")
	ErrInvalidMagic       = errors.New("frame: invalid magic")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrHeaderLenMismatch  = errors.New("frame: header_len mismatch")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
	ErrShortPayload       = errors.New("frame: short payload")
)

// Header is the fixed wire header.
type Header struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	MessageID   uint64
	MessageType uint32
	Flags       uint32
	PayloadLen  uint64
}

// IsResponse reports whether the frame answers an earlier request.
func (h Header) IsResponse() bool {
	return h.Flags&FlagIsResponse != 0
}

// IsError reports whether the frame carries an error response.
func (h Header) IsError() bool {
	return h.Flags&FlagIsError != 0
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 1 * 1024 * 1024,
	}
}

// ReadFrame reads exactly one frame from r.
// Any header error leaves the stream unsynchronised; callers should drop the connection.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [FixedHeaderLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if err := validateHeader(h, limits); err != nil {
		return Frame{}, err
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return Frame{}, ErrShortPayload
			}
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}

// WriteFrame stamps magic, version and lengths onto f and writes it to w in one call.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	buf, err := Marshal(f, limits)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// Marshal renders f into wire bytes.
func Marshal(f Frame, limits Limits) ([]byte, error) {
	payloadLen := uint64(len(f.Payload))
	if payloadLen > limits.MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	h := f.Header
	h.Magic = Magic
	h.Version = Version
	h.HeaderLen = FixedHeaderLen
	h.PayloadLen = payloadLen

	buf := make([]byte, 0, int(FixedHeaderLen)+len(f.Payload))
	buf = append(buf, EncodeHeader(h)...)
	buf = append(buf, f.Payload...)
	return buf, nil
}

func validateHeader(h Header, limits Limits) error {
	if h.Magic != Magic {
		return ErrInvalidMagic
	}
	if h.Version != Version {
		return ErrUnsupportedVersion
	}
	if h.HeaderLen != FixedHeaderLen {
		return ErrHeaderLenMismatch
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	return nil
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.MessageID)
	binary.BigEndian.PutUint32(buf[16:20], h.MessageType)
	binary.BigEndian.PutUint32(buf[20:24], h.Flags)
	binary.BigEndian.PutUint64(buf[24:32], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:       binary.BigEndian.Uint32(b[0:4]),
		Version:     binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:   binary.BigEndian.Uint16(b[6:8]),
		MessageID:   binary.BigEndian.Uint64(b[8:16]),
		MessageType: binary.BigEndian.Uint32(b[16:20]),
		Flags:       binary.BigEndian.Uint32(b[20:24]),
		PayloadLen:  binary.BigEndian.Uint64(b[24:32]),
	}, nil
}

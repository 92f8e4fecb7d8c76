package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestReadWriteFrameRoundTrip(t *testing.T) {
	in := Frame{
		Header:  Header{MessageID: 42, MessageType: 4, Flags: FlagIsResponse},
		Payload: []byte("scan"),
	}
	var buf bytes.Buffer
	if err := WriteFrame(&buf, in, DefaultLimits()); err != nil {
		t.Fatalf("write frame: %v", err)
	}
	if buf.Len() != int(FixedHeaderLen)+4 {
		t.Fatalf("unexpected encoded length: %d", buf.Len())
	}

	out, err := ReadFrame(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	if out.Header.Magic != Magic || out.Header.Version != Version {
		t.Fatalf("magic/version not stamped: %+v", out.Header)
	}
	if out.Header.MessageID != 42 || out.Header.MessageType != 4 {
		t.Fatalf("header mismatch: %+v", out.Header)
	}
	if !out.Header.IsResponse() || out.Header.IsError() {
		t.Fatalf("unexpected flags: %#x", out.Header.Flags)
	}
	if string(out.Payload) != "scan" {
		t.Fatalf("payload mismatch: %q", out.Payload)
	}
}

func TestReadFrameSequential(t *testing.T) {
	var buf bytes.Buffer
	for i := uint64(1); i <= 3; i++ {
		if err := WriteFrame(&buf, Frame{Header: Header{MessageID: i, MessageType: 2}}, DefaultLimits()); err != nil {
			t.Fatalf("write frame %d: %v", i, err)
		}
	}
	for i := uint64(1); i <= 3; i++ {
		f, err := ReadFrame(&buf, DefaultLimits())
		if err != nil {
			t.Fatalf("read frame %d: %v", i, err)
		}
		if f.Header.MessageID != i {
			t.Fatalf("out of order frame: got=%d want=%d", f.Header.MessageID, i)
		}
	}
	if _, err := ReadFrame(&buf, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF on clean end, got %v", err)
	}
}

func TestReadFrameRejectsBadMagic(t *testing.T) {
	h := EncodeHeader(Header{Magic: 0xDEADBEEF, Version: Version, HeaderLen: FixedHeaderLen})
	if _, err := ReadFrame(bytes.NewReader(h), DefaultLimits()); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestReadFrameRejectsVersion(t *testing.T) {
	h := EncodeHeader(Header{Magic: Magic, Version: 9, HeaderLen: FixedHeaderLen})
	if _, err := ReadFrame(bytes.NewReader(h), DefaultLimits()); !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestReadFrameLimitsAndTruncation(t *testing.T) {
	limits := Limits{MaxPayloadBytes: 4}
	if err := WriteFrame(io.Discard, Frame{Payload: []byte("too long")}, limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on write, got %v", err)
	}

	h := EncodeHeader(Header{Magic: Magic, Version: Version, HeaderLen: FixedHeaderLen, PayloadLen: 64})
	if _, err := ReadFrame(bytes.NewReader(h), limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on read, got %v", err)
	}

	h = EncodeHeader(Header{Magic: Magic, Version: Version, HeaderLen: FixedHeaderLen, PayloadLen: 4})
	truncated := append(h, 'a', 'b')
	if _, err := ReadFrame(bytes.NewReader(truncated), limits); !errors.Is(err, ErrShortPayload) {
		t.Fatalf("expected ErrShortPayload, got %v", err)
	}

	if _, err := ReadFrame(bytes.NewReader(h[:10]), limits); !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

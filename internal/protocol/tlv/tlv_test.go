package tlv

import (
	"errors"
	"testing"
)

func TestEncodeDecodeFields(t *testing.T) {
	in := []Field{
		String(1, "transfer 10.0.0.2 25"),
		U64(2, 1<<40),
		U32(3, 7),
		Bool(4, true),
		String(5, ""),
	}
	out, err := DecodeFields(EncodeFields(in))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("field count mismatch: got=%d want=%d", len(out), len(in))
	}

	text, err := out[0].AsString()
	if err != nil || text != "transfer 10.0.0.2 25" {
		t.Fatalf("string field: %q %v", text, err)
	}
	big, err := out[1].AsU64()
	if err != nil || big != 1<<40 {
		t.Fatalf("u64 field: %d %v", big, err)
	}
	small, err := out[2].AsU32()
	if err != nil || small != 7 {
		t.Fatalf("u32 field: %d %v", small, err)
	}
	flag, err := out[3].AsBool()
	if err != nil || !flag {
		t.Fatalf("bool field: %v %v", flag, err)
	}
	if f, ok := GetField(out, 5); !ok || len(f.Value) != 0 {
		t.Fatalf("empty string field lost: %+v ok=%v", f, ok)
	}
}

func TestTypedAccessorsRejectMismatch(t *testing.T) {
	if _, err := String(1, "x").AsU64(); !errors.Is(err, ErrFieldTypeMismatch) {
		t.Fatalf("expected ErrFieldTypeMismatch, got %v", err)
	}
	bad := Field{ID: 1, Type: TypeU64, Value: []byte{1, 2}}
	if _, err := bad.AsU64(); !errors.Is(err, ErrInvalidLength) {
		t.Fatalf("expected ErrInvalidLength, got %v", err)
	}
}

func TestDecodeFieldsTruncated(t *testing.T) {
	payload := EncodeField(String(1, "hello"))
	if _, err := DecodeFields(payload[:HeaderLen-2]); !errors.Is(err, ErrShortFieldHeader) {
		t.Fatalf("expected ErrShortFieldHeader, got %v", err)
	}
	if _, err := DecodeFields(payload[:len(payload)-1]); !errors.Is(err, ErrShortFieldValue) {
		t.Fatalf("expected ErrShortFieldValue, got %v", err)
	}
}

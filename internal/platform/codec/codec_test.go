package codec

import (
	"bytes"
	"testing"
)

type record struct {
	ID     string `cbor:"id"`
	Active bool   `cbor:"active"`
	At     uint64 `cbor:"at"`
}

func TestMarshal_IsDeterministic(t *testing.T) {
	a := map[string]uint64{"b": 2, "a": 1, "c": 3}
	b := map[string]uint64{"c": 3, "a": 1, "b": 2}

	ea, err := Marshal(a)
	if err != nil {
		t.Fatalf("marshal a: %v", err)
	}
	eb, err := Marshal(b)
	if err != nil {
		t.Fatalf("marshal b: %v", err)
	}
	if !bytes.Equal(ea, eb) {
		t.Fatalf("expected identical encodings, got %x vs %x", ea, eb)
	}
}

func TestUnmarshal_IgnoresUnknownFields(t *testing.T) {
	raw, err := Marshal(map[string]any{"id": "h1", "active": true, "at": uint64(7), "extra": "x"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got record
	if err := Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.ID != "h1" || !got.Active || got.At != 7 {
		t.Fatalf("unexpected record: %#v", got)
	}
}

func TestUnmarshal_RejectsGarbage(t *testing.T) {
	var got record
	if err := Unmarshal([]byte{0xff, 0x00}, &got); err == nil {
		t.Fatalf("expected error for invalid cbor")
	}
}

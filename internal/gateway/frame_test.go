package gateway

import (
	"testing"

	"github.com/codecollab/hub/internal/room"
)

func TestParseFramePingPongHaveNoPayload(t *testing.T) {
	for _, kind := range []byte{room.KindPing, room.KindPong} {
		f, err := parseFrame([]byte{kind})
		if err != nil {
			t.Fatalf("parseFrame(%#x) error: %v", kind, err)
		}
		if f.Kind != kind {
			t.Errorf("Kind = %#x, want %#x", f.Kind, kind)
		}
		if len(f.Payload) != 0 {
			t.Errorf("Payload = %v, want empty", f.Payload)
		}
	}
}

func TestParseFramePingRejectsTrailingBytes(t *testing.T) {
	if _, err := parseFrame([]byte{room.KindPing, 0x01}); err == nil {
		t.Error("expected error for ping frame with trailing bytes")
	}
}

func TestParseFrameDecodesLengthPrefixedPayload(t *testing.T) {
	payload := []byte("hello")
	raw := append([]byte{room.KindDocUpdate, byte(len(payload))}, payload...)

	f, err := parseFrame(raw)
	if err != nil {
		t.Fatalf("parseFrame() error: %v", err)
	}
	if f.Kind != room.KindDocUpdate {
		t.Errorf("Kind = %#x, want KindDocUpdate", f.Kind)
	}
	if string(f.Payload) != "hello" {
		t.Errorf("Payload = %q, want %q", f.Payload, "hello")
	}
}

func TestParseFrameRejectsTruncatedPayload(t *testing.T) {
	raw := []byte{room.KindDocUpdate, 10, 'h', 'i'}
	if _, err := parseFrame(raw); err == nil {
		t.Error("expected error when declared length exceeds message size")
	}
}

func TestParseFrameRejectsOversizedMessage(t *testing.T) {
	raw := make([]byte, MaxFrameSize+1)
	if _, err := parseFrame(raw); err != ErrFrameTooLarge {
		t.Errorf("err = %v, want ErrFrameTooLarge", err)
	}
}

func TestParseFrameRejectsUnknownKind(t *testing.T) {
	if _, err := parseFrame([]byte{0xFF}); err == nil {
		t.Error("expected error for unknown kind tag")
	}
}

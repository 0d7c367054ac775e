package room

import (
	"testing"
	"time"
)

func TestAwarenessEncodeSnapshotRoundTrip(t *testing.T) {
	a := NewAwareness()
	a.Set(1, AwarenessState{User: AwarenessUser{UserID: "u1", DisplayName: "Ada"}, LastUpdate: time.Unix(1000, 0)})
	a.Set(2, AwarenessState{User: AwarenessUser{UserID: "u2", DisplayName: "Bea"}, LastUpdate: time.Unix(2000, 0)})

	raw, err := a.EncodeSnapshot()
	if err != nil {
		t.Fatalf("EncodeSnapshot() error: %v", err)
	}

	decoded, err := DecodeUpdate(raw)
	if err != nil {
		t.Fatalf("DecodeUpdate() error: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("decoded %d entries, want 2", len(decoded))
	}
	if decoded[1] == nil || decoded[1].User.UserID != "u1" {
		t.Errorf("entry 1 = %+v, want u1", decoded[1])
	}
	if decoded[2] == nil || decoded[2].User.UserID != "u2" {
		t.Errorf("entry 2 = %+v, want u2", decoded[2])
	}
}

func TestAwarenessEncodeUpdateMarksRemovalsWithNull(t *testing.T) {
	a := NewAwareness()
	a.Set(1, AwarenessState{User: AwarenessUser{UserID: "u1"}, LastUpdate: time.Unix(1000, 0)})
	a.Set(2, AwarenessState{User: AwarenessUser{UserID: "u2"}, LastUpdate: time.Unix(1000, 0)})
	a.Remove(2)

	raw, err := a.EncodeUpdate([]ClientID{1, 2}, map[ClientID]bool{2: true})
	if err != nil {
		t.Fatalf("EncodeUpdate() error: %v", err)
	}

	decoded, err := DecodeUpdate(raw)
	if err != nil {
		t.Fatalf("DecodeUpdate() error: %v", err)
	}
	if decoded[1] == nil {
		t.Fatal("entry 1 should be present")
	}
	if _, ok := decoded[2]; !ok {
		t.Fatal("entry 2 should be present as a removal marker")
	}
	if decoded[2] != nil {
		t.Errorf("entry 2 = %+v, want nil (removed)", decoded[2])
	}
}

func TestAwarenessAllReturnsCopy(t *testing.T) {
	a := NewAwareness()
	a.Set(1, AwarenessState{User: AwarenessUser{UserID: "u1"}})

	snapshot := a.All()
	snapshot[2] = AwarenessState{User: AwarenessUser{UserID: "intruder"}}

	if _, ok := a.All()[2]; ok {
		t.Error("mutating the returned map must not affect internal state")
	}
}

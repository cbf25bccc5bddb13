package ids

import "testing"

func TestDeterministicIsStable(t *testing.T) {
	a := RoomID("room-1")
	b := RoomID("room-1")
	if a != b {
		t.Fatalf("expected stable ID, got %q then %q", a, b)
	}
}

func TestRoomAndUserNamespacesDiverge(t *testing.T) {
	if RoomID("same-external-id") == UserID("same-external-id") {
		t.Fatal("expected room and user IDs to diverge for the same external string")
	}
}

func TestMessageIDsAreRandom(t *testing.T) {
	a := NewMessageID()
	b := NewMessageID()
	if a == b {
		t.Fatal("expected distinct random message IDs")
	}
}

package realtime

import "testing"

func TestNewRoomStore(t *testing.T) {
	s := NewRoomStore[string]()
	if s == nil {
		t.Fatal("NewRoomStore returned nil")
	}
	if s.Len() != 0 {
		t.Errorf("Len %d, want 0", s.Len())
	}
}

func TestRoomStore_Create_Get(t *testing.T) {
	s := NewRoomStore[string]()
	s.Create("room1", "state1")
	room, ok := s.Get("room1")
	if !ok {
		t.Fatal("Get returned false for existing room")
	}
	if room.ID != "room1" {
		t.Errorf("room ID %q, want room1", room.ID)
	}
	if room.State != "state1" {
		t.Errorf("room State %q, want state1", room.State)
	}
	if room.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	_, ok = s.Get("nonexistent")
	if ok {
		t.Error("Get should return false for missing ID")
	}
}

func TestRoomStore_Delete(t *testing.T) {
	s := NewRoomStore[int]()
	s.Create("r1", 1)
	s.Create("r2", 2)

	r, ok := s.Delete("r1")
	if !ok || r.State != 1 {
		t.Fatalf("Delete returned %v, %v", r, ok)
	}
	if _, ok := s.Get("r1"); ok {
		t.Error("r1 should be gone")
	}
	if _, ok := s.Delete("r1"); ok {
		t.Error("second Delete should report false")
	}
	if s.Len() != 1 {
		t.Errorf("Len %d, want 1", s.Len())
	}
}

func TestRoomStore_RoomsOldestFirst(t *testing.T) {
	s := NewRoomStore[int]()
	s.Create("a", 1)
	s.Create("b", 2)
	s.Create("c", 3)
	rooms := s.Rooms()
	if len(rooms) != 3 {
		t.Fatalf("len(Rooms) %d, want 3", len(rooms))
	}
	for i := 1; i < len(rooms); i++ {
		if rooms[i].CreatedAt.Before(rooms[i-1].CreatedAt) {
			t.Errorf("rooms out of order at %d", i)
		}
	}
}

package cursor

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cursor.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadMissingReturnsZero(t *testing.T) {
	s := openTestStore(t)

	c, err := s.Load("!never:s")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.EventID != "" || c.Timestamp != 0 {
		t.Errorf("got %+v, want zero cursor for unknown room", c)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save("!R:s", Cursor{EventID: "$e1", Timestamp: 100}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	c, err := s.Load("!R:s")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.EventID != "$e1" || c.Timestamp != 100 {
		t.Errorf("got %+v, want {$e1 100}", c)
	}
}

func TestSaveOverwritesAdvance(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save("!R:s", Cursor{EventID: "$e1", Timestamp: 100}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("!R:s", Cursor{EventID: "$e2", Timestamp: 200}); err != nil {
		t.Fatal(err)
	}

	c, err := s.Load("!R:s")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.EventID != "$e2" || c.Timestamp != 200 {
		t.Errorf("got %+v, want latest cursor", c)
	}
}

func TestRoomsAreIndependent(t *testing.T) {
	s := openTestStore(t)

	if err := s.Save("!a:s", Cursor{EventID: "$a", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save("!b:s", Cursor{EventID: "$b", Timestamp: 2}); err != nil {
		t.Fatal(err)
	}

	a, _ := s.Load("!a:s")
	b, _ := s.Load("!b:s")
	if a.EventID != "$a" || b.EventID != "$b" {
		t.Errorf("cursors crossed rooms: a=%+v b=%+v", a, b)
	}
}

package ledger

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/roomd/internal/db"
)

func newLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "ledger.sqlite"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestLedger_AppendAndRecent(t *testing.T) {
	l := newLedger(t)

	if err := l.Append(EventRoomConverged, "RoomA", map[string]any{"attempts": 1}); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if err := l.Append(EventConvergenceExhausted, "RoomA", map[string]any{"attempts": 3}); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(EventRoomConverged, "RoomB", nil); err != nil {
		t.Fatal(err)
	}

	entries, err := l.Recent("RoomA", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Recent() returned %d entries, want 2", len(entries))
	}
	if entries[0].EventType != EventConvergenceExhausted {
		t.Errorf("newest entry = %s, want %s", entries[0].EventType, EventConvergenceExhausted)
	}
	if got := entries[0].Payload["attempts"]; got != float64(3) {
		t.Errorf("payload attempts = %v, want 3", got)
	}

	all, err := l.Recent("", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("Recent(all) returned %d entries, want 3", len(all))
	}
	if all[0].Payload != nil {
		t.Errorf("nil payload decoded as %v", all[0].Payload)
	}

	byType, err := l.GetByType(EventRoomConverged, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(byType) != 2 {
		t.Errorf("GetByType() returned %d entries, want 2", len(byType))
	}
}

func TestLedger_DeleteOlderThan(t *testing.T) {
	l := newLedger(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	l.now = func() time.Time { return base.Add(-48 * time.Hour) }
	if err := l.Append(EventUpdateFailed, "RoomA", nil); err != nil {
		t.Fatal(err)
	}
	l.now = func() time.Time { return base }
	if err := l.Append(EventRoomConverged, "RoomA", nil); err != nil {
		t.Fatal(err)
	}

	deleted, err := l.DeleteOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatalf("DeleteOlderThan() error = %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	entries, _ := l.Recent("RoomA", 10)
	if len(entries) != 1 || entries[0].EventType != EventRoomConverged {
		t.Errorf("remaining entries = %+v", entries)
	}
}

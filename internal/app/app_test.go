package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/roomd/internal/config"
	"github.com/dokzlo13/roomd/internal/db"
	"github.com/dokzlo13/roomd/internal/kv"
	"github.com/dokzlo13/roomd/internal/ledger"
	"github.com/dokzlo13/roomd/internal/reconcile"
)

type fakeLoop struct {
	seeded bool
	state  reconcile.State
}

func (f fakeLoop) Seeded() bool           { return f.seeded }
func (f fakeLoop) State() reconcile.State { return f.state }

func TestHealthService_Handler(t *testing.T) {
	tests := []struct {
		name       string
		loop       fakeLoop
		path       string
		wantStatus int
		wantBody   map[string]string
	}{
		{
			name:       "health always ok",
			loop:       fakeLoop{},
			path:       "/health",
			wantStatus: http.StatusOK,
			wantBody:   map[string]string{"status": "healthy"},
		},
		{
			name:       "not ready before seeding",
			loop:       fakeLoop{},
			path:       "/ready",
			wantStatus: http.StatusServiceUnavailable,
			wantBody:   map[string]string{"status": "starting"},
		},
		{
			name:       "ready reports loop state",
			loop:       fakeLoop{seeded: true, state: reconcile.StateConverging},
			path:       "/ready",
			wantStatus: http.StatusOK,
			wantBody:   map[string]string{"status": "ready", "loop": "converging"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewHealthService(&config.Config{}, tt.loop)
			rec := httptest.NewRecorder()

			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			for k, v := range tt.wantBody {
				if body[k] != v {
					t.Errorf("body[%q] = %q, want %q", k, body[k], v)
				}
			}
		})
	}
}

func TestMaintenanceService_Cleanup(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "roomd.sqlite"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	defer database.Close()

	l := ledger.New(database.DB)
	if err := l.Append(ledger.EventRoomConverged, "RoomA", nil); err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	old := time.Now().Add(-40 * 24 * time.Hour).Unix()
	if _, err := database.Exec(
		`INSERT INTO event_ledger (event_type, timestamp, room, payload) VALUES (?, ?, ?, ?)`,
		string(ledger.EventUpdateFailed), old, "RoomA", "",
	); err != nil {
		t.Fatalf("insert old entry: %v", err)
	}

	bucket := kv.NewSQLiteBucket(database.DB, "scratch")
	if _, err := database.Exec(
		`INSERT INTO kv_store (bucket, key, value, expires_at, created_at, updated_at) VALUES ('scratch', 'gone', '"x"', ?, ?, ?)`,
		old, old, old,
	); err != nil {
		t.Fatalf("insert expired value: %v", err)
	}
	if err := bucket.Put("kept", "y", nil); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	cfg := &config.Config{Ledger: config.LedgerConfig{RetentionDays: 30}}
	NewMaintenanceService(cfg, database, l).cleanup()

	entries, err := l.Recent("RoomA", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(entries) != 1 || entries[0].EventType != ledger.EventRoomConverged {
		t.Errorf("entries after cleanup = %+v, want only the recent one", entries)
	}

	var rows int
	if err := database.QueryRow(`SELECT COUNT(*) FROM kv_store WHERE bucket = 'scratch'`).Scan(&rows); err != nil {
		t.Fatalf("count kv rows: %v", err)
	}
	if rows != 1 {
		t.Errorf("kv rows = %d, want 1", rows)
	}
}

func TestApp_StopOnce(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "roomd.sqlite"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}

	cfg := &config.Config{}
	a := &App{cfg: cfg, services: &Services{cfg: cfg, DB: database}}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}

	done := make(chan struct{})
	go func() {
		a.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait() did not return after Stop()")
	}
}

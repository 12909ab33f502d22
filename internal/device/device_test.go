package device

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/dokzlo13/roomd/internal/config"
	"github.com/dokzlo13/roomd/internal/retry"
	"github.com/dokzlo13/roomd/internal/roomstatus"
)

type published struct {
	path  string
	value any
}

type fakeCloud struct {
	mu          sync.Mutex
	thingsErr   int
	thingsCalls int
	tokens      int
	published   []published
	properties  []Property
}

func newFakeCloud(t *testing.T) (*fakeCloud, *httptest.Server) {
	f := &fakeCloud{
		properties: []Property{
			{ID: "p-busy", Name: "busynow", LastValue: float64(0)},
			{ID: "p-msg", Name: "curevmsg", LastValue: "Free all day"},
			{ID: "p-next", Name: "nextevmsg", LastValue: nil},
			{ID: "p-other", Name: "firmware", LastValue: "1.2"},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/clients/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse token form: %v", err)
		}
		if r.PostForm.Get("grant_type") != "client_credentials" || r.PostForm.Get("client_id") != "id" {
			t.Errorf("unexpected token request %v", r.PostForm)
		}
		if r.PostForm.Get("audience") == "" {
			t.Error("token request without audience")
		}
		f.mu.Lock()
		f.tokens++
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","token_type":"bearer","expires_in":3600}`))
	})
	authed := func(h http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if r.Header.Get("X-Organization") != "org" {
				t.Errorf("missing organization header")
			}
			h(w, r)
		}
	}
	mux.HandleFunc("GET /v2/things", authed(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.thingsCalls++
		fail := f.thingsErr > 0
		if fail {
			f.thingsErr--
		}
		f.mu.Unlock()
		if fail {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode([]Thing{{ID: "t-b", Name: "RoomB"}, {ID: "t-a", Name: "RoomA"}})
	}))
	mux.HandleFunc("GET /v2/things/t-a/properties", authed(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(f.properties)
	}))
	mux.HandleFunc("PUT /v2/things/t-a/properties/{pid}/publish", authed(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode publish body: %v", err)
		}
		f.mu.Lock()
		f.published = append(f.published, published{path: r.PathValue("pid"), value: body["value"]})
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func newRegistry(t *testing.T, srv *httptest.Server) *Registry {
	t.Helper()
	client := NewClient(context.Background(), config.DeviceConfig{
		Host:           srv.URL,
		TokenURL:       srv.URL + "/v1/clients/token",
		ClientID:       "id",
		ClientSecret:   "secret",
		OrganizationID: "org",
		RateLimitRPS:   1000,
	})
	t.Cleanup(func() { client.Close() })
	return NewRegistry(client, retry.Policy{Attempts: 3})
}

func TestRegistry_Status(t *testing.T) {
	cloud, srv := newFakeCloud(t)
	r := newRegistry(t, srv)

	status, err := r.Status(context.Background(), "RoomA")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.Valid || status.Name != "RoomA" {
		t.Errorf("status = %+v", status)
	}
	if status.Busy {
		t.Error("Busy = true, want false")
	}
	if status.Current.Message != "Free all day" || status.Next.Message != "" {
		t.Errorf("blocks = %+v / %+v", status.Current, status.Next)
	}
	if status.Metadata[MetaThingID] != "t-a" || status.Metadata["curevmsg"] != "p-msg" {
		t.Errorf("metadata = %v", status.Metadata)
	}
	if cloud.tokens != 1 {
		t.Errorf("tokens fetched = %d, want 1", cloud.tokens)
	}
}

func TestRegistry_StatusUnknownRoom(t *testing.T) {
	_, srv := newFakeCloud(t)
	r := newRegistry(t, srv)

	status, err := r.Status(context.Background(), "RoomZ")
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Status() error = %v, want ErrInvalidState", err)
	}
	if status.Valid {
		t.Error("status for unknown room is valid")
	}
}

func TestRegistry_FetchStatusRetries(t *testing.T) {
	cloud, srv := newFakeCloud(t)
	cloud.thingsErr = 2
	r := newRegistry(t, srv)

	if status := r.FetchStatus(context.Background(), "RoomA"); !status.Valid {
		t.Fatal("FetchStatus() invalid after transient failures")
	}

	cloud.thingsErr = 3
	if status := r.FetchStatus(context.Background(), "RoomA"); status.Valid {
		t.Fatal("FetchStatus() valid after exhausting attempts")
	}
}

func TestRegistry_FetchStatusUnknownRoomIsNotRetried(t *testing.T) {
	cloud, srv := newFakeCloud(t)
	r := newRegistry(t, srv)

	if status := r.FetchStatus(context.Background(), "RoomZ"); status.Valid {
		t.Fatal("FetchStatus() valid for unknown room")
	}
	cloud.mu.Lock()
	defer cloud.mu.Unlock()
	if cloud.thingsCalls != 1 {
		t.Errorf("things listed %d times, want 1", cloud.thingsCalls)
	}
}

func TestRegistry_PublishWritesOnlyDifferences(t *testing.T) {
	cloud, srv := newFakeCloud(t)
	r := newRegistry(t, srv)

	current, err := r.Status(context.Background(), "RoomA")
	if err != nil {
		t.Fatal(err)
	}
	desired := current
	desired.Busy = true
	desired.Current.Message = "Standup"

	if err := r.Publish(context.Background(), desired, current); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	want := []published{{"p-msg", "Standup"}, {"p-busy", float64(1)}}
	if len(cloud.published) != len(want) {
		t.Fatalf("published = %+v, want %+v", cloud.published, want)
	}
	for i := range want {
		if cloud.published[i] != want[i] {
			t.Errorf("published[%d] = %+v, want %+v", i, cloud.published[i], want[i])
		}
	}
}

func TestRegistry_PublishMissingIdentifiers(t *testing.T) {
	cloud, srv := newFakeCloud(t)
	r := newRegistry(t, srv)

	desired := roomstatus.RoomStatus{Name: "RoomA", Busy: true, Valid: true}
	err := r.Publish(context.Background(), desired, roomstatus.RoomStatus{Name: "RoomA", Valid: true})
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Publish() without thing id error = %v", err)
	}

	current := roomstatus.RoomStatus{
		Name:     "RoomA",
		Valid:    true,
		Metadata: map[string]string{MetaThingID: "t-a", "busynow": "p-busy"},
	}
	desired.Current.Organizer = "boss@example.com"
	err = r.Publish(context.Background(), desired, current)
	if !errors.Is(err, ErrInvalidState) {
		t.Fatalf("Publish() without property id error = %v", err)
	}
	if len(cloud.published) != 1 || cloud.published[0].path != "p-busy" {
		t.Errorf("published = %+v, want only busynow", cloud.published)
	}
}

func TestProperty_Value(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"text", "text"},
		{float64(1), "1"},
		{2.5, "2.5"},
		{true, "1"},
	}
	for _, tt := range tests {
		if got := (Property{LastValue: tt.in}).Value(); got != tt.want {
			t.Errorf("Value(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

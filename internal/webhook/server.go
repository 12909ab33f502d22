// Package webhook serves calendar push notifications and instant meeting
// requests.
package webhook

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/roomd/internal/calendar"
	"github.com/dokzlo13/roomd/internal/config"
	"github.com/dokzlo13/roomd/internal/notify"
	"github.com/dokzlo13/roomd/internal/roomstatus"
)

// DefaultMeetingMinutes is used when a meeting request has no duration.
const DefaultMeetingMinutes = 60

// Calendar is the subset of the calendar client the server needs.
type Calendar interface {
	ListUpcoming(ctx context.Context, calendarID string) ([]roomstatus.RawEvent, error)
	InsertInstantMeeting(ctx context.Context, calendarID string, durationMins int) (string, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
}

// ChannelLookup resolves push notification channels to rooms.
type ChannelLookup interface {
	Lookup(channelID string) (string, bool)
}

// Server is an HTTP server receiving calendar notifications and publishing
// them as notify messages.
type Server struct {
	addr       string
	secret     string
	calendar   Calendar
	channels   ChannelLookup // optional
	publisher  notify.Channel
	rooms      map[string]string // room -> calendar id
	byCalendar map[string]string // calendar id -> room
	now        func() time.Time
	httpServer *http.Server
}

// NewServer creates a new webhook server. channels may be nil, in which case
// notifications are accepted on any channel carrying the right token.
func NewServer(host string, port int, secret string, rooms []config.RoomConfig, cal Calendar, channels ChannelLookup, publisher notify.Channel) *Server {
	s := &Server{
		addr:       fmt.Sprintf("%s:%d", host, port),
		secret:     secret,
		calendar:   cal,
		channels:   channels,
		publisher:  publisher,
		rooms:      make(map[string]string, len(rooms)),
		byCalendar: make(map[string]string, len(rooms)),
		now:        time.Now,
	}
	for _, r := range rooms {
		s.rooms[r.Name] = r.CalendarID
		s.byCalendar[r.CalendarID] = r.Name
	}
	return s
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", s.handleNotification)
	mux.HandleFunc("POST /meetings", s.requireSecret(s.handleCreateMeeting))
	mux.HandleFunc("DELETE /meetings/{id}", s.requireSecret(s.handleDeleteMeeting))
	return mux
}

// Run starts the webhook server. It blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting webhook server")

	// Handle graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Webhook server shutdown error")
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// handleNotification processes a Google Calendar push notification: it
// fetches the calendar's upcoming events and publishes them for the room.
func (s *Server) handleNotification(w http.ResponseWriter, r *http.Request) {
	channelID := r.Header.Get("X-Goog-Channel-Id")
	resourceState := r.Header.Get("X-Goog-Resource-State")
	logger := log.With().Str("channel_id", channelID).Str("resource_state", resourceState).Logger()

	if s.secret != "" && !secretEqual(r.Header.Get("X-Goog-Channel-Token"), s.secret) {
		logger.Warn().Msg("Rejecting notification with invalid channel token")
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "invalid channel token"})
		return
	}

	// The first message on a new channel only confirms the subscription.
	if resourceState == "sync" {
		logger.Debug().Msg("Watch channel synced")
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
		return
	}

	if s.channels != nil {
		if _, ok := s.channels.Lookup(channelID); !ok {
			logger.Info().Msg("Ignoring notification for unknown channel")
			writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
			return
		}
	}

	calendarID := calendar.ExtractCalendarID(r.Header.Get("X-Goog-Resource-Uri"))
	room, ok := s.byCalendar[calendarID]
	if !ok {
		logger.Info().Str("calendar_id", calendarID).Msg("Ignoring notification for unconfigured calendar")
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	logger.Info().Str("room", room).Str("calendar_id", calendarID).Msg("Calendar notification received")

	events, err := s.calendar.ListUpcoming(r.Context(), calendarID)
	if err != nil {
		logger.Error().Err(err).Str("room", room).Msg("Failed to list events")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list events"})
		return
	}

	if err := s.publisher.Publish(r.Context(), notify.Message{Room: room, Events: events}); err != nil {
		logger.Error().Err(err).Str("room", room).Msg("Failed to publish notification")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to publish"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

type createMeetingRequest struct {
	Room         string      `json:"room_name"`
	DurationMins json.Number `json:"duration_mins"`
}

type deleteMeetingRequest struct {
	Room string `json:"room_name"`
}

// handleCreateMeeting books the room from now unless it is already busy.
func (s *Server) handleCreateMeeting(w http.ResponseWriter, r *http.Request) {
	var req createMeetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	duration := DefaultMeetingMinutes
	if req.DurationMins != "" {
		n, err := req.DurationMins.Int64()
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid duration_mins"})
			return
		}
		duration = int(n)
	}

	calendarID, ok := s.calendarFor(w, req.Room)
	if !ok {
		return
	}

	events, err := s.calendar.ListUpcoming(r.Context(), calendarID)
	if err != nil {
		log.Error().Err(err).Str("room", req.Room).Msg("Failed to list events")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not read calendar"})
		return
	}
	if roomstatus.Resolve(events, req.Room, s.now()).Busy {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "room already busy"})
		return
	}

	id, err := s.calendar.InsertInstantMeeting(r.Context(), calendarID, duration)
	if err != nil {
		log.Error().Err(err).Str("room", req.Room).Msg("Could not insert meeting")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not insert meeting"})
		return
	}

	log.Info().Str("room", req.Room).Str("event_id", id).Int("duration_mins", duration).Msg("Meeting created")
	writeJSON(w, http.StatusCreated, map[string]string{"status": "Meeting created", "id": id})
}

func (s *Server) handleDeleteMeeting(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("id")

	var req deleteMeetingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	calendarID, ok := s.calendarFor(w, req.Room)
	if !ok {
		return
	}

	if err := s.calendar.DeleteEvent(r.Context(), calendarID, eventID); err != nil {
		log.Error().Err(err).Str("room", req.Room).Str("event_id", eventID).Msg("Could not delete meeting")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not delete meeting"})
		return
	}

	log.Info().Str("room", req.Room).Str("event_id", eventID).Msg("Meeting deleted")
	writeJSON(w, http.StatusOK, map[string]string{"status": "Meeting deleted", "id": eventID})
}

func (s *Server) calendarFor(w http.ResponseWriter, room string) (string, bool) {
	if room == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "room_name is required"})
		return "", false
	}
	calendarID, ok := s.rooms[room]
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown room " + room})
		return "", false
	}
	return calendarID, true
}

// requireSecret rejects requests without "Authorization: Bearer <secret>".
func (s *Server) requireSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if s.secret == "" || !found || !secretEqual(token, s.secret) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "client not authorized"})
			return
		}
		next(w, r)
	}
}

func secretEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

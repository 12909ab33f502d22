package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/roomd/internal/calendar"
	"github.com/dokzlo13/roomd/internal/roomstatus"
	"github.com/dokzlo13/roomd/internal/webhook"
)

var meetingCmd = &cobra.Command{
	Use:     "meeting",
	Aliases: []string{"meet"},
	Short:   "Book or cancel instant meetings",
}

var meetingCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Book a room from now",
	Long: `Book a room starting at the current quarter hour. The duration is
rounded down to a multiple of 15 minutes. Booking fails when the room is busy.`,
	RunE: runMeetingCreate,
}

var meetingDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a meeting from a room's calendar",
	RunE:  runMeetingDelete,
}

func init() {
	meetingCreateCmd.Flags().StringP("room", "r", "", "Room name (required)")
	meetingCreateCmd.Flags().IntP("duration", "d", webhook.DefaultMeetingMinutes, "Duration in minutes")
	meetingCreateCmd.MarkFlagRequired("room")

	meetingDeleteCmd.Flags().StringP("room", "r", "", "Room name (required)")
	meetingDeleteCmd.Flags().String("id", "", "Event ID (required)")
	meetingDeleteCmd.MarkFlagRequired("room")
	meetingDeleteCmd.MarkFlagRequired("id")

	meetingCmd.AddCommand(meetingCreateCmd, meetingDeleteCmd)
	rootCmd.AddCommand(meetingCmd)
}

func runMeetingCreate(cmd *cobra.Command, args []string) error {
	roomName, _ := cmd.Flags().GetString("room")
	duration, _ := cmd.Flags().GetInt("duration")
	if duration <= 0 {
		return errors.New("duration must be positive")
	}

	room, ok := cfg.Room(roomName)
	if !ok {
		return fmt.Errorf("unknown room %q", roomName)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	client, err := calendar.New(ctx, cfg.Calendar)
	if err != nil {
		return err
	}

	events, err := client.ListUpcoming(ctx, room.CalendarID)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	if roomstatus.Resolve(events, room.Name, time.Now()).Busy {
		return fmt.Errorf("room %s is already busy", room.Name)
	}

	id, err := client.InsertInstantMeeting(ctx, room.CalendarID, duration)
	if err != nil {
		return err
	}

	fmt.Printf("Meeting created in %s: %s\n", room.Name, id)
	return nil
}

func runMeetingDelete(cmd *cobra.Command, args []string) error {
	roomName, _ := cmd.Flags().GetString("room")
	eventID, _ := cmd.Flags().GetString("id")

	room, ok := cfg.Room(roomName)
	if !ok {
		return fmt.Errorf("unknown room %q", roomName)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	client, err := calendar.New(ctx, cfg.Calendar)
	if err != nil {
		return err
	}

	if err := client.DeleteEvent(ctx, room.CalendarID, eventID); err != nil {
		return err
	}

	fmt.Printf("Meeting %s deleted from %s\n", eventID, room.Name)
	return nil
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dokzlo13/roomd/internal/calendar"
	"github.com/dokzlo13/roomd/internal/device"
	"github.com/dokzlo13/roomd/internal/retry"
	"github.com/dokzlo13/roomd/internal/roomstatus"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status derived from a room's calendar",
	Long: `Fetch the upcoming events of a room and print the status roomd would
push to its display. With --device the status currently shown on the device
is printed next to it.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringP("room", "r", "", "Room name (required)")
	statusCmd.Flags().Bool("device", false, "Also read the status currently on the device")
	statusCmd.MarkFlagRequired("room")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	roomName, _ := cmd.Flags().GetString("room")
	withDevice, _ := cmd.Flags().GetBool("device")

	room, ok := cfg.Room(roomName)
	if !ok {
		return fmt.Errorf("unknown room %q", roomName)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()

	client, err := calendar.New(ctx, cfg.Calendar)
	if err != nil {
		return err
	}

	events, err := client.ListUpcoming(ctx, room.CalendarID)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}
	desired := roomstatus.Resolve(events, room.Name, time.Now())

	var current roomstatus.RoomStatus
	if withDevice {
		devices := device.NewClient(ctx, cfg.Device)
		defer devices.Close()
		registry := device.NewRegistry(devices, retry.Policy{
			Attempts: cfg.Device.RetryAttempts,
			Delay:    cfg.Device.RetryDelay.Duration(),
		})
		current = registry.FetchStatus(ctx, room.Name)
		if !current.Valid {
			return fmt.Errorf("could not read device status for %q", room.Name)
		}
	}

	fmt.Printf("Room: %s (%d upcoming events)\n\n", room.Name, len(events))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	if withDevice {
		fmt.Fprintln(w, "FIELD\tCALENDAR\tDEVICE\t")
	} else {
		fmt.Fprintln(w, "FIELD\tCALENDAR\t")
	}
	for _, f := range roomstatus.Fields() {
		if withDevice {
			marker := ""
			if desired.Value(f) != current.Value(f) {
				marker = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", f.Name(), desired.Value(f), current.Value(f), marker)
		} else {
			fmt.Fprintf(w, "%s\t%s\t\n", f.Name(), desired.Value(f))
		}
	}
	return w.Flush()
}

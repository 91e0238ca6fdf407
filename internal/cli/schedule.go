package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantumflow/supportflow/internal/scheduling"
)

var (
	scheduleName     string
	scheduleEmail    string
	scheduleCompany  string
	scheduleDuration time.Duration
	scheduleNotes    string
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule <when>",
	Short: "Book a product demo",
	Long: `Book a product demo on the sales calendar.

<when> is a free-form time expression such as "tomorrow at 3pm",
"in 2 hours", "friday 10:30" or "2026-05-04 14:00".

Example:
  supportflow schedule "tomorrow at 3pm" --name "Ada Lovelace" --email ada@example.com --company Acme`,
	Args: cobra.ExactArgs(1),
	RunE: runSchedule,
}

func init() {
	scheduleCmd.Flags().StringVar(&scheduleName, "name", "", "attendee name")
	scheduleCmd.Flags().StringVar(&scheduleEmail, "email", "", "attendee email")
	scheduleCmd.Flags().StringVar(&scheduleCompany, "company", "", "attendee company")
	scheduleCmd.Flags().DurationVar(&scheduleDuration, "duration", 0, "demo length (default from config)")
	scheduleCmd.Flags().StringVar(&scheduleNotes, "notes", "", "notes for the sales team")
	_ = scheduleCmd.MarkFlagRequired("email")
}

func runSchedule(cmd *cobra.Command, args []string) error {
	scheduler, err := deps.openScheduler(cmd.Context())
	if err != nil {
		return err
	}

	booking, err := scheduler.Schedule(cmd.Context(), scheduling.DemoRequest{
		Name:          scheduleName,
		Email:         scheduleEmail,
		Company:       scheduleCompany,
		RequestedTime: args[0],
		Duration:      scheduleDuration,
		Notes:         scheduleNotes,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Booked %s - %s (%s, parsed by %s)\n",
		booking.Start.Format("Mon Jan 2 15:04 MST"),
		booking.End.Format("15:04"),
		booking.End.Sub(booking.Start),
		booking.Tier)
	if booking.Link != "" {
		fmt.Printf("Event: %s\n", booking.Link)
	}
	return nil
}

package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// Clock represents the world clock from the API.
type Clock struct {
	CurrentTick  int64     `json:"currentTick"`
	LastAdvanced time.Time `json:"lastAdvancedUtc"`
	ETag         string    `json:"etag"`
}

type clockResponse struct {
	Clock Clock `json:"clock"`
}

var clockCmd = &cobra.Command{
	Use:   "clock",
	Short: "Inspect and advance the world clock",
	Long:  `Read the shared world clock or advance it by a duration.`,
}

var clockGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the current world clock",
	RunE:  runClockGet,
}

var clockAdvanceCmd = &cobra.Command{
	Use:   "advance",
	Short: "Advance the world clock",
	Long:  `Advance the world clock by a duration in milliseconds. The first advancement initializes the clock at tick zero.`,
	Example: `  # Advance the world by one minute
  aetherctl clock advance --duration-ms 60000 --reason maintenance`,
	RunE: runClockAdvance,
}

var (
	clockDurationMs int64
	clockReason     string
)

func init() {
	clockAdvanceCmd.Flags().Int64Var(&clockDurationMs, "duration-ms", 0, "Milliseconds to advance (required)")
	clockAdvanceCmd.Flags().StringVar(&clockReason, "reason", "manual", "Reason recorded in the advancement history")
	_ = clockAdvanceCmd.MarkFlagRequired("duration-ms")

	clockCmd.AddCommand(clockGetCmd)
	clockCmd.AddCommand(clockAdvanceCmd)
}

func runClockGet(cmd *cobra.Command, args []string) error {
	client := NewClient(serverURL, apiKey)

	var resp clockResponse
	if err := client.Get("/api/world/clock", &resp); err != nil {
		return fmt.Errorf("failed to get clock: %w", err)
	}

	if outputJSON {
		return PrintJSON(resp.Clock)
	}

	printClock(resp.Clock)
	return nil
}

func runClockAdvance(cmd *cobra.Command, args []string) error {
	client := NewClient(serverURL, apiKey)

	body := map[string]interface{}{
		"durationMs": clockDurationMs,
		"reason":     clockReason,
	}

	var resp clockResponse
	if err := client.Post("/api/world/clock/advance", body, &resp); err != nil {
		return fmt.Errorf("failed to advance clock: %w", err)
	}

	if outputJSON {
		return PrintJSON(resp.Clock)
	}

	fmt.Printf("Advanced world clock by %s.\n", FormatTick(clockDurationMs))
	printClock(resp.Clock)
	return nil
}

func printClock(c Clock) {
	fmt.Printf("Tick:          %d (%s)\n", c.CurrentTick, FormatTick(c.CurrentTick))
	fmt.Printf("Last Advanced: %s\n", c.LastAdvanced.Format(time.RFC3339))
	fmt.Printf("ETag:          %s\n", c.ETag)
}

package cmd

import (
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// Event represents a world event envelope from the API.
type Event struct {
	ID            string    `json:"id"`
	ScopeKey      string    `json:"scopeKey"`
	EventType     string    `json:"eventType"`
	Status        string    `json:"status"`
	OccurredUTC   time.Time `json:"occurredUtc"`
	ActorKind     string    `json:"actorKind"`
	ActorID       string    `json:"actorId,omitempty"`
	CorrelationID string    `json:"correlationId"`
}

type eventsResponse struct {
	Events []Event `json:"events"`
	Count  int     `json:"count"`
}

var eventsCmd = &cobra.Command{
	Use:     "events",
	Aliases: []string{"ev"},
	Short:   "Query the world event log",
	Long:    `Query the durable event log by scope, or list the most recent events across scopes.`,
}

var eventsQueryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query events in a scope",
	Example: `  # Events at a location
  aetherctl events query --scope loc:<location-id>

  # Dead-lettered events in the global scope
  aetherctl events query --scope global:world --status dead_lettered`,
	RunE: runEventsQuery,
}

var eventsRecentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recent events",
	RunE:  runEventsRecent,
}

// Flags for events commands
var (
	eventScope  string
	eventStatus string
	eventLimit  int
	eventFrom   string
	eventTo     string
)

func init() {
	eventsQueryCmd.Flags().StringVar(&eventScope, "scope", "", "Scope key, e.g. loc:<id> or global:world (required)")
	eventsQueryCmd.Flags().StringVar(&eventStatus, "status", "", "Filter by status (pending, processed, failed, dead_lettered)")
	eventsQueryCmd.Flags().IntVarP(&eventLimit, "limit", "l", 0, "Maximum results (default: server limit)")
	eventsQueryCmd.Flags().StringVar(&eventFrom, "from", "", "Only events at or after this RFC3339 time")
	eventsQueryCmd.Flags().StringVar(&eventTo, "to", "", "Only events before this RFC3339 time")
	_ = eventsQueryCmd.MarkFlagRequired("scope")

	eventsRecentCmd.Flags().IntVarP(&eventLimit, "limit", "l", 50, "Maximum results")

	eventsCmd.AddCommand(eventsQueryCmd)
	eventsCmd.AddCommand(eventsRecentCmd)
}

func runEventsQuery(cmd *cobra.Command, args []string) error {
	client := NewClient(serverURL, apiKey)

	params := url.Values{}
	params.Set("scope", eventScope)
	if eventStatus != "" {
		params.Set("status", eventStatus)
	}
	if eventLimit > 0 {
		params.Set("limit", strconv.Itoa(eventLimit))
	}
	if eventFrom != "" {
		params.Set("from", eventFrom)
	}
	if eventTo != "" {
		params.Set("to", eventTo)
	}

	var resp eventsResponse
	if err := client.Get("/api/events?"+params.Encode(), &resp); err != nil {
		return fmt.Errorf("failed to query events: %w", err)
	}

	return printEvents(resp)
}

func runEventsRecent(cmd *cobra.Command, args []string) error {
	client := NewClient(serverURL, apiKey)

	var resp eventsResponse
	if err := client.Get("/api/events/recent?limit="+strconv.Itoa(eventLimit), &resp); err != nil {
		return fmt.Errorf("failed to list recent events: %w", err)
	}

	return printEvents(resp)
}

func printEvents(resp eventsResponse) error {
	if outputJSON {
		return PrintJSON(resp)
	}

	if resp.Count == 0 {
		fmt.Println("No events found.")
		return nil
	}

	headers := []string{"ID", "TYPE", "SCOPE", "STATUS", "OCCURRED"}
	rows := make([][]string, len(resp.Events))
	for i, e := range resp.Events {
		rows[i] = []string{
			Truncate(e.ID, 12),
			e.EventType,
			Truncate(e.ScopeKey, 20),
			e.Status,
			e.OccurredUTC.Format("2006-01-02 15:04:05"),
		}
	}
	PrintTable(headers, rows)
	return nil
}

package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

// Location represents a location from the API.
type Location struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Version      int64  `json:"version"`
	ExitsSummary string `json:"exitsSummary"`
	RealmID      string `json:"realmId,omitempty"`
}

// ExitInfo is one resolved exit from the look endpoint.
type ExitInfo struct {
	Direction    string `json:"direction"`
	Availability string `json:"availability"`
	ToLocationID string `json:"toLocationId,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// Layer is one active description layer from the look endpoint.
type Layer struct {
	LayerType string `json:"layerType"`
	Value     string `json:"value"`
}

var locationCmd = &cobra.Command{
	Use:     "location",
	Aliases: []string{"loc"},
	Short:   "Inspect locations",
	Long:    `Get locations, resolve their exits and layers, and list occupants.`,
}

var locationGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Get a location by ID",
	Args:  cobra.ExactArgs(1),
	RunE:  runLocationGet,
}

var locationLookCmd = &cobra.Command{
	Use:   "look <id>",
	Short: "Describe a location as a player would see it",
	Long:  `Resolve a location's exits and the description layers active at the current world tick.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runLocationLook,
}

var locationOccupantsCmd = &cobra.Command{
	Use:   "occupants <id>",
	Short: "List the players at a location",
	Args:  cobra.ExactArgs(1),
	RunE:  runLocationOccupants,
}

func init() {
	locationCmd.AddCommand(locationGetCmd)
	locationCmd.AddCommand(locationLookCmd)
	locationCmd.AddCommand(locationOccupantsCmd)
}

func runLocationGet(cmd *cobra.Command, args []string) error {
	client := NewClient(serverURL, apiKey)

	var resp struct {
		Location Location `json:"location"`
	}
	if err := client.Get("/api/location?id="+url.QueryEscape(args[0]), &resp); err != nil {
		return fmt.Errorf("failed to get location: %w", err)
	}

	if outputJSON {
		return PrintJSON(resp.Location)
	}

	loc := resp.Location
	fmt.Printf("ID:      %s\n", loc.ID)
	fmt.Printf("Name:    %s\n", loc.Name)
	if loc.RealmID != "" {
		fmt.Printf("Realm:   %s\n", loc.RealmID)
	}
	fmt.Printf("Version: %d\n", loc.Version)
	fmt.Printf("Exits:   %s\n", loc.ExitsSummary)
	fmt.Printf("\n%s\n", loc.Description)
	return nil
}

func runLocationLook(cmd *cobra.Command, args []string) error {
	client := NewClient(serverURL, apiKey)

	var resp struct {
		Location Location   `json:"location"`
		Exits    []ExitInfo `json:"exits"`
		Layers   []Layer    `json:"layers"`
		Tick     int64      `json:"tick"`
	}
	if err := client.Get("/api/location/look?id="+url.QueryEscape(args[0]), &resp); err != nil {
		return fmt.Errorf("failed to look at location: %w", err)
	}

	if outputJSON {
		return PrintJSON(resp)
	}

	fmt.Printf("%s (tick %d)\n\n%s\n", resp.Location.Name, resp.Tick, resp.Location.Description)
	for _, l := range resp.Layers {
		fmt.Printf("\n[%s] %s\n", l.LayerType, l.Value)
	}

	if len(resp.Exits) > 0 {
		fmt.Println()
		headers := []string{"DIRECTION", "STATE", "TO", "REASON"}
		rows := make([][]string, len(resp.Exits))
		for i, e := range resp.Exits {
			rows[i] = []string{
				e.Direction,
				FormatAvailability(e.Availability),
				Truncate(e.ToLocationID, 12),
				e.Reason,
			}
		}
		PrintTable(headers, rows)
	}
	return nil
}

func runLocationOccupants(cmd *cobra.Command, args []string) error {
	client := NewClient(serverURL, apiKey)

	var resp struct {
		Occupants []struct {
			ID    string `json:"id"`
			Name  string `json:"name,omitempty"`
			Guest bool   `json:"guest"`
		} `json:"occupants"`
		Count int `json:"count"`
	}
	if err := client.Get("/api/location/occupants?id="+url.QueryEscape(args[0]), &resp); err != nil {
		return fmt.Errorf("failed to list occupants: %w", err)
	}

	if outputJSON {
		return PrintJSON(resp)
	}

	if resp.Count == 0 {
		fmt.Println("Nobody here.")
		return nil
	}

	headers := []string{"ID", "NAME", "GUEST"}
	rows := make([][]string, len(resp.Occupants))
	for i, o := range resp.Occupants {
		rows[i] = []string{Truncate(o.ID, 12), o.Name, fmt.Sprintf("%t", o.Guest)}
	}
	PrintTable(headers, rows)
	return nil
}

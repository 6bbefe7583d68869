package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

// Player represents a player from the API.
type Player struct {
	ID                string    `json:"id"`
	Guest             bool      `json:"guest"`
	ExternalID        string    `json:"externalId,omitempty"`
	CurrentLocationID string    `json:"currentLocationId"`
	Name              string    `json:"name,omitempty"`
	CreatedUTC        time.Time `json:"createdUtc"`
	UpdatedUTC        time.Time `json:"updatedUtc"`
}

var playerCmd = &cobra.Command{
	Use:   "player",
	Short: "Manage players",
	Long:  `Bootstrap guest players, link external identities, and move players through the world.`,
}

var playerBootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create or resume a guest player",
	Long:  `Create a guest player at the starter location, or resume the player named by --guid. The same guid always resolves to the same player.`,
	RunE:  runPlayerBootstrap,
}

var playerGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Get a player by ID",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlayerGet,
}

var playerLinkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link a player to an external identity",
	Long:  `Attach an external account id to a guest player, promoting it to a full player. An external id can only belong to one player.`,
	Example: `  aetherctl player link --guid <player-guid> --external-id auth0|12345`,
	RunE: runPlayerLink,
}

var playerMoveCmd = &cobra.Command{
	Use:   "move",
	Short: "Move a player in a direction",
	Example: `  # Move a player north from their current location
  aetherctl player move --guid <player-guid> --dir north

  # Resolve a move from an explicit origin
  aetherctl player move --dir n --from <location-id>`,
	RunE: runPlayerMove,
}

// Flags for player commands
var (
	playerGUID  string
	playerExtID string
	moveDir     string
	moveFrom    string
)

func init() {
	playerBootstrapCmd.Flags().StringVar(&playerGUID, "guid", "", "Player guid to resume (optional)")

	playerLinkCmd.Flags().StringVar(&playerGUID, "guid", "", "Player guid (required)")
	playerLinkCmd.Flags().StringVar(&playerExtID, "external-id", "", "External identity (required)")
	_ = playerLinkCmd.MarkFlagRequired("guid")
	_ = playerLinkCmd.MarkFlagRequired("external-id")

	playerMoveCmd.Flags().StringVar(&playerGUID, "guid", "", "Moving player's guid")
	playerMoveCmd.Flags().StringVar(&moveDir, "dir", "", "Direction to move (required)")
	playerMoveCmd.Flags().StringVar(&moveFrom, "from", "", "Origin location id (defaults to the player's location)")
	_ = playerMoveCmd.MarkFlagRequired("dir")

	playerCmd.AddCommand(playerBootstrapCmd)
	playerCmd.AddCommand(playerGetCmd)
	playerCmd.AddCommand(playerLinkCmd)
	playerCmd.AddCommand(playerMoveCmd)
}

func runPlayerBootstrap(cmd *cobra.Command, args []string) error {
	client := NewClient(serverURL, apiKey)

	var resp struct {
		PlayerGUID string `json:"playerGuid"`
		Player     Player `json:"player"`
		Created    bool   `json:"created"`
	}
	req := func(r *http.Request) {
		if playerGUID != "" {
			r.Header.Set("x-player-guid", playerGUID)
		}
	}
	if err := client.DoWith(http.MethodGet, "/api/player/bootstrap", nil, &resp, req); err != nil {
		return fmt.Errorf("failed to bootstrap player: %w", err)
	}

	if outputJSON {
		return PrintJSON(resp)
	}

	verb := "Resumed"
	if resp.Created {
		verb = "Created"
	}
	fmt.Printf("%s player: %s\n", verb, resp.PlayerGUID)
	printPlayer(resp.Player)
	return nil
}

func runPlayerGet(cmd *cobra.Command, args []string) error {
	client := NewClient(serverURL, apiKey)

	var resp struct {
		Player Player `json:"player"`
	}
	if err := client.Get("/api/player/get?id="+url.QueryEscape(args[0]), &resp); err != nil {
		return fmt.Errorf("failed to get player: %w", err)
	}

	if outputJSON {
		return PrintJSON(resp.Player)
	}

	printPlayer(resp.Player)
	return nil
}

func runPlayerLink(cmd *cobra.Command, args []string) error {
	client := NewClient(serverURL, apiKey)

	body := map[string]string{
		"playerGuid": playerGUID,
		"externalId": playerExtID,
	}

	var resp struct {
		Player Player `json:"player"`
		Linked bool   `json:"linked"`
	}
	if err := client.Post("/api/player/link", body, &resp); err != nil {
		return fmt.Errorf("failed to link player: %w", err)
	}

	if outputJSON {
		return PrintJSON(resp)
	}

	if !resp.Linked {
		fmt.Printf("Player %s already linked to %s.\n", resp.Player.ID, resp.Player.ExternalID)
		return nil
	}
	fmt.Printf("Linked player %s to %s.\n", resp.Player.ID, resp.Player.ExternalID)
	return nil
}

func runPlayerMove(cmd *cobra.Command, args []string) error {
	client := NewClient(serverURL, apiKey)

	path := "/api/player/move?dir=" + url.QueryEscape(moveDir)
	if moveFrom != "" {
		path += "&from=" + url.QueryEscape(moveFrom)
	}
	req := func(r *http.Request) {
		if playerGUID != "" {
			r.Header.Set("x-player-guid", playerGUID)
		}
	}

	var resp struct {
		Outcome   string   `json:"outcome"`
		Direction string   `json:"direction"`
		Location  Location `json:"location"`
	}
	if err := client.DoWith(http.MethodPost, path, nil, &resp, req); err != nil {
		return fmt.Errorf("move failed: %w", err)
	}

	if outputJSON {
		return PrintJSON(resp)
	}

	fmt.Printf("Moved %s to %s.\n", resp.Direction, resp.Location.Name)
	fmt.Printf("  Location: %s\n", resp.Location.ID)
	fmt.Printf("  Exits:    %s\n", resp.Location.ExitsSummary)
	return nil
}

func printPlayer(p Player) {
	fmt.Printf("  ID:       %s\n", p.ID)
	if p.Name != "" {
		fmt.Printf("  Name:     %s\n", p.Name)
	}
	fmt.Printf("  Guest:    %t\n", p.Guest)
	if p.ExternalID != "" {
		fmt.Printf("  External: %s\n", p.ExternalID)
	}
	fmt.Printf("  Location: %s\n", p.CurrentLocationID)
	fmt.Printf("  Created:  %s\n", p.CreatedUTC.Format(time.RFC3339))
}

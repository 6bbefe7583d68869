package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var worldCmd = &cobra.Command{
	Use:   "world",
	Short: "Grow and rewire the world",
	Long:  `Request bounded area generation and link existing rooms together.`,
}

var worldGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Request area generation around an anchor",
	Long:  `Enqueue a durable generation request. A background worker materializes the area; identical retries dedupe onto the same request.`,
	Example: `  # Grow five wilderness locations around an anchor
  aetherctl world generate --anchor <location-id> --mode wilderness --budget 5`,
	RunE: runWorldGenerate,
}

var worldLinkCmd = &cobra.Command{
	Use:   "link",
	Short: "Link two rooms with an exit",
	Example: `  # A door both ways
  aetherctl world link --origin <id> --dest <id> --dir north --reciprocal`,
	RunE: runWorldLink,
}

// Flags for world commands
var (
	genAnchor     string
	genMode       string
	genBudget     int
	genRealmHints []string
	genIdemKey    string

	linkOrigin     string
	linkDest       string
	linkDir        string
	linkReciprocal bool
	linkDesc       string
)

func init() {
	worldGenerateCmd.Flags().StringVar(&genAnchor, "anchor", "", "Anchor location id (default: starter location)")
	worldGenerateCmd.Flags().StringVar(&genMode, "mode", "auto", "Terrain mode (urban, wilderness, auto)")
	worldGenerateCmd.Flags().IntVar(&genBudget, "budget", 0, "Locations to generate (clamped to the server maximum)")
	worldGenerateCmd.Flags().StringSliceVar(&genRealmHints, "realm-hints", nil, "Realm ids to place generated locations under")
	worldGenerateCmd.Flags().StringVar(&genIdemKey, "idempotency-key", "", "Explicit idempotency key (default: derived from contents)")

	worldLinkCmd.Flags().StringVar(&linkOrigin, "origin", "", "Origin location id (required)")
	worldLinkCmd.Flags().StringVar(&linkDest, "dest", "", "Destination location id (required)")
	worldLinkCmd.Flags().StringVar(&linkDir, "dir", "", "Exit direction from origin (required)")
	worldLinkCmd.Flags().BoolVar(&linkReciprocal, "reciprocal", false, "Also create the opposite exit")
	worldLinkCmd.Flags().StringVar(&linkDesc, "description", "", "Exit description")
	_ = worldLinkCmd.MarkFlagRequired("origin")
	_ = worldLinkCmd.MarkFlagRequired("dest")
	_ = worldLinkCmd.MarkFlagRequired("dir")

	worldCmd.AddCommand(worldGenerateCmd)
	worldCmd.AddCommand(worldLinkCmd)
}

func runWorldGenerate(cmd *cobra.Command, args []string) error {
	client := NewClient(serverURL, apiKey)

	body := map[string]interface{}{
		"anchorLocationId": genAnchor,
		"mode":             genMode,
		"budget":           genBudget,
	}
	if len(genRealmHints) > 0 {
		body["realmHints"] = genRealmHints
	}
	if genIdemKey != "" {
		body["idempotencyKey"] = genIdemKey
	}

	var resp struct {
		EventID          string `json:"eventId"`
		AnchorLocationID string `json:"anchorLocationId"`
		IdempotencyKey   string `json:"idempotencyKey"`
		Terrain          string `json:"terrain"`
		Budget           int    `json:"budget"`
		MaxBudget        int    `json:"maxBudget"`
		Clamped          bool   `json:"clamped"`
		Duplicate        bool   `json:"duplicate"`
	}
	if err := client.Post("/api/world/generate-area", body, &resp); err != nil {
		return fmt.Errorf("failed to request generation: %w", err)
	}

	if outputJSON {
		return PrintJSON(resp)
	}

	if resp.Duplicate {
		fmt.Printf("Identical request already enqueued: %s\n", resp.EventID)
		fmt.Printf("  Idempotency key: %s\n", resp.IdempotencyKey)
		return nil
	}
	fmt.Printf("Enqueued generation request: %s\n", resp.EventID)
	fmt.Printf("  Anchor:  %s\n", resp.AnchorLocationID)
	fmt.Printf("  Terrain: %s\n", resp.Terrain)
	fmt.Printf("  Budget:  %d", resp.Budget)
	if resp.Clamped {
		fmt.Printf(" (clamped from request, max %d)", resp.MaxBudget)
	}
	fmt.Println()
	fmt.Printf("  Idempotency key: %s\n", resp.IdempotencyKey)
	return nil
}

func runWorldLink(cmd *cobra.Command, args []string) error {
	client := NewClient(serverURL, apiKey)

	body := map[string]interface{}{
		"originId":   linkOrigin,
		"destId":     linkDest,
		"dir":        linkDir,
		"reciprocal": linkReciprocal,
	}
	if linkDesc != "" {
		body["description"] = linkDesc
	}

	var resp struct {
		ForwardCreated bool `json:"forwardCreated"`
		ReverseCreated bool `json:"reverseCreated"`
	}
	if err := client.Post("/api/world/link-rooms", body, &resp); err != nil {
		return fmt.Errorf("failed to link rooms: %w", err)
	}

	if outputJSON {
		return PrintJSON(resp)
	}

	if !resp.ForwardCreated && !resp.ReverseCreated {
		fmt.Println("Exits already in place; nothing changed.")
		return nil
	}
	fmt.Printf("Linked %s --%s--> %s\n", linkOrigin, linkDir, linkDest)
	if resp.ReverseCreated {
		fmt.Println("Reverse exit created.")
	}
	return nil
}

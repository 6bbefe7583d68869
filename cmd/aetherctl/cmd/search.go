package cmd

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// Hit is one search result from the API.
type Hit struct {
	ID         string              `json:"id"`
	Kind       string              `json:"kind"`
	Score      float64             `json:"score"`
	Highlights map[string][]string `json:"highlights,omitempty"`
}

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search locations and layers",
	Long:  `Full-text search over location names, descriptions and description layers.`,
	Example: `  # Find anything mentioning ferns
  aetherctl search --query ferns

  # Only locations
  aetherctl search -q "marker stone" --kind location`,
	RunE: runSearch,
}

// Flags for search
var (
	searchQuery string
	searchKind  string
	searchLimit int
)

func init() {
	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "Search query (required)")
	searchCmd.Flags().StringVar(&searchKind, "kind", "", "Restrict to a kind (location, layer)")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 10, "Maximum results")
	_ = searchCmd.MarkFlagRequired("query")
}

func runSearch(cmd *cobra.Command, args []string) error {
	client := NewClient(serverURL, apiKey)

	params := url.Values{}
	params.Set("q", searchQuery)
	if searchKind != "" {
		params.Set("kind", searchKind)
	}
	if searchLimit > 0 {
		params.Set("limit", strconv.Itoa(searchLimit))
	}

	var resp struct {
		Total uint64 `json:"total"`
		Hits  []Hit  `json:"hits"`
	}
	if err := client.Get("/api/admin/search?"+params.Encode(), &resp); err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if outputJSON {
		return PrintJSON(resp)
	}

	if len(resp.Hits) == 0 {
		fmt.Println("No matches.")
		return nil
	}

	headers := []string{"ID", "KIND", "SCORE"}
	rows := make([][]string, len(resp.Hits))
	for i, h := range resp.Hits {
		rows[i] = []string{Truncate(h.ID, 40), h.Kind, fmt.Sprintf("%.3f", h.Score)}
	}
	PrintTable(headers, rows)
	fmt.Printf("\n%d total matches.\n", resp.Total)
	return nil
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	searchQuery string
	searchTopK  int
	searchJSON  bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search ingested documents",
	Long: `Search for relevant document chunks by semantic similarity.

Examples:
  docintel search -q "connection pooling"
  docintel search -q "rate limits" --top-k 10 --json`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().StringVarP(&searchQuery, "query", "q", "", "search query (required)")
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "number of results (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "output as JSON")
	searchCmd.MarkFlagRequired("query")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	topK := cfg.Retrieve.TopK
	if searchTopK > 0 {
		topK = searchTopK
	}

	results, err := p.retriever.Retrieve(context.Background(), searchQuery, topK)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if searchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}

	for i, r := range results {
		doc, docErr := p.store.GetDocument(r.DocID)
		name := r.DocID
		if docErr == nil {
			name = doc.Name
		}

		preview := strings.ReplaceAll(r.Text, "\n", " ")
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}

		fmt.Printf("%d. [%.3f] %s (chunk %d)\n", i+1, r.Score, name, r.Ordinal)
		fmt.Printf("   %s\n\n", preview)
	}
	return nil
}

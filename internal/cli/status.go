package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show document and index status",
	Long: `List all documents with their ingestion status and summarize the index.

Examples:
  docintel status
  docintel status --json`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	docs, err := p.coordinator.List()
	if err != nil {
		return err
	}
	stats, err := p.coordinator.Stats()
	if err != nil {
		return err
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"documents": docs,
			"stats":     stats,
		})
	}

	if len(docs) == 0 {
		fmt.Println("No documents ingested.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tCHUNKS\tUPDATED")
	for _, doc := range docs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
			doc.ID, doc.Name, doc.Status, doc.ChunkCount, doc.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	w.Flush()

	fmt.Printf("\n%d documents, %d vectors indexed\n", stats.Documents, stats.IndexedVectors)
	for status, count := range stats.ByStatus {
		fmt.Printf("  %s: %d\n", status, count)
	}
	return nil
}

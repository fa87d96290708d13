package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	askQuestion string
	askJSON     bool
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask a question grounded in ingested documents",
	Long: `Retrieve relevant document context and generate a grounded answer.
Requires a configured generation model and API key.

Examples:
  docintel ask -q "how does the retry policy work?"
  docintel ask -q "what are the storage limits?" --json`,
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askQuestion, "question", "q", "", "question to answer (required)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON")
	askCmd.MarkFlagRequired("question")
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	if p.asker == nil {
		return fmt.Errorf("question answering is not configured: set %s", cfg.QA.APIKeyEnv)
	}

	answer, err := p.asker.Ask(context.Background(), askQuestion)
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	if askJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(answer)
	}

	fmt.Println(answer.Text)
	if len(answer.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, src := range answer.Sources {
			doc, docErr := p.store.GetDocument(src.DocID)
			name := src.DocID
			if docErr == nil {
				name = doc.Name
			}
			fmt.Printf("  - %s (%s, score %.3f)\n", name, src.ChunkID, src.Score)
		}
	}
	return nil
}

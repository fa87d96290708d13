package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"docintel/internal/adapter/fs"
	"docintel/internal/domain"
)

var syncPrune bool

var syncCmd = &cobra.Command{
	Use:   "sync [path]",
	Short: "Ingest a directory of documents",
	Long: `Walk a directory and ingest every matching file. Files whose content
hash is unchanged since the last sync are skipped; changed files are
re-ingested. With --prune, documents whose source file disappeared are
removed.

Examples:
  docintel sync ./docs
  docintel sync ./docs --prune`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().BoolVar(&syncPrune, "prune", false, "delete documents whose source file no longer exists")
}

func runSync(cmd *cobra.Command, args []string) error {
	path := GetRootDir()
	if len(args) > 0 {
		var err error
		path, err = filepath.Abs(args[0])
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("path does not exist: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	cfg := GetConfig()

	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer p.close()

	walker := fs.NewWalker(cfg.Sync.Includes, cfg.Sync.Excludes)
	files, err := walker.Walk(path)
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", path, err)
	}

	fmt.Printf("Scanning %s: %d files\n", path, len(files))

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetDescription("syncing"),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)

	var submitted []string
	skipped := 0
	for _, file := range files {
		bar.Add(1)

		hash, err := fs.HashFile(file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", file, err)
			continue
		}

		if existing, err := p.store.GetDocumentByPath(file); err == nil {
			if existing.ContentHash == hash && existing.Status == domain.StatusIndexed {
				skipped++
				continue
			}
		}

		text, err := fs.ReadFile(file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", file, err)
			continue
		}

		doc, err := p.coordinator.Submit(filepath.Base(file), file, hash, text)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to submit %s: %v\n", file, err)
			continue
		}
		submitted = append(submitted, doc.ID)
	}
	bar.Finish()

	pruned := 0
	if syncPrune {
		pruned, err = pruneMissing(p, path)
		if err != nil {
			return err
		}
	}

	indexed, failed := awaitRuns(p, submitted)

	fmt.Printf("Sync complete: %d ingested, %d skipped, %d failed", indexed, skipped, failed)
	if syncPrune {
		fmt.Printf(", %d pruned", pruned)
	}
	fmt.Println()

	if failed > 0 {
		return fmt.Errorf("%d documents failed to ingest", failed)
	}
	return nil
}

// pruneMissing removes documents under root whose source file is gone.
func pruneMissing(p *pipeline, root string) (int, error) {
	docs, err := p.coordinator.List()
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, doc := range docs {
		if doc.SourcePath == "" || !strings.HasPrefix(doc.SourcePath, root+string(filepath.Separator)) {
			continue
		}
		if _, err := os.Stat(doc.SourcePath); !errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := p.coordinator.Delete(doc.ID); err != nil {
			return pruned, fmt.Errorf("failed to prune %s: %w", doc.SourcePath, err)
		}
		pruned++
	}
	return pruned, nil
}

func awaitRuns(p *pipeline, docIDs []string) (indexed, failed int) {
	for _, id := range docIDs {
		for {
			doc, err := p.coordinator.Status(id)
			if err != nil {
				failed++
				break
			}
			if doc.Status.Terminal() {
				if doc.Status == domain.StatusIndexed {
					indexed++
				} else {
					fmt.Fprintf(os.Stderr, "ingestion failed for %s: %s\n", doc.Name, doc.Error)
					failed++
				}
				break
			}
			time.Sleep(50 * time.Millisecond)
		}
	}
	return indexed, failed
}

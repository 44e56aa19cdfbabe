package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"supplychain-iq-api/pkg/services"
)

var pruneYes bool

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete index collections left behind in Qdrant",
	Long: `Each index generation lives in its own Qdrant collection and is dropped when
it is replaced. A process that exits without closing its index leaves its
collection behind; prune lists and deletes every collection carrying the
configured QDRANT_COLLECTION_PREFIX. Do not run it while a server is using the
same prefix.`,
	RunE: runPrune,
}

func init() {
	rootCmd.AddCommand(pruneCmd)
	pruneCmd.Flags().BoolVarP(&pruneYes, "yes", "y", false, "delete without asking")
}

func runPrune(cmd *cobra.Command, args []string) error {
	builder, err := services.NewQdrantIndexBuilder(cmd.Context(), services.QdrantOptions{
		URL:              cfg.QdrantURL,
		APIKey:           cfg.QdrantAPIKey,
		CollectionPrefix: cfg.QdrantCollectionPrefix,
	}, logger)
	if err != nil {
		return err
	}
	defer builder.Close()

	names, err := builder.ListCollections(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintf(out, "No collections with prefix %q\n", cfg.QdrantCollectionPrefix)
		return nil
	}

	fmt.Fprintf(out, "Collections to delete: %d\n", len(names))
	for _, name := range names {
		fmt.Fprintf(out, "  - %s\n", name)
	}

	if !pruneYes {
		fmt.Fprint(out, "Delete these collections? (yes/no): ")
		answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "yes" {
			fmt.Fprintln(out, "Cancelled")
			return nil
		}
	}

	failed := 0
	for _, name := range names {
		if err := builder.DeleteCollection(cmd.Context(), name); err != nil {
			fmt.Fprintf(out, "  failed %s: %v\n", name, err)
			failed++
			continue
		}
		fmt.Fprintf(out, "  deleted %s\n", name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d collections could not be deleted", failed, len(names))
	}
	return nil
}

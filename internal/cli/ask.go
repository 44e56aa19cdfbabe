package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	askQuery string
	askTopK  int
	askJSON  bool
)

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Ask a question about inventory and suppliers",
	Long: `Retrieve the most relevant item and supplier records and answer with the
configured language model. Without an API key the retrieved records are printed.

Examples:
  supplychainctl ask -q "which items are close to stockout?"
  supplychainctl ask -q "supplier defect rates" -k 10 --json`,
	RunE: runAsk,
}

func init() {
	rootCmd.AddCommand(askCmd)
	askCmd.Flags().StringVarP(&askQuery, "query", "q", "", "question (required)")
	askCmd.Flags().IntVarP(&askTopK, "top-k", "k", 0, "number of records to retrieve (default from RAG_TOP_K)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output as JSON")
	_ = askCmd.MarkFlagRequired("query")
}

func runAsk(cmd *cobra.Command, args []string) error {
	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	resp, err := app.RAG.Query(cmd.Context(), askQuery, askTopK)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if askJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprintln(out, resp.Answer)
	return nil
}

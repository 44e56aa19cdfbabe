package cli

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"supplychain-iq-api/pkg/services"
)

var (
	generateRows  int
	generateSeed  int64
	generateXLSX  string
	generateIndex bool
	generateQuiet bool
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate synthetic supply chain tables",
	Long: `Generate inventory, demand history, supplier and shipment tables and write
them as CSV into the data directory.

Examples:
  supplychainctl generate
  supplychainctl generate --rows 500 --seed 42 --xlsx dataset.xlsx`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().IntVarP(&generateRows, "rows", "n", services.DefaultSyntheticRows, "rows per table")
	generateCmd.Flags().Int64Var(&generateSeed, "seed", 0, "random seed (default: current time)")
	generateCmd.Flags().StringVar(&generateXLSX, "xlsx", "", "also export the dataset to this XLSX workbook")
	generateCmd.Flags().BoolVar(&generateIndex, "index", false, "rebuild the retrieval index afterwards")
	generateCmd.Flags().BoolVarP(&generateQuiet, "quiet", "q", false, "hide progress bars")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	if generateRows <= 0 {
		return fmt.Errorf("--rows must be positive")
	}
	opts := services.DefaultGeneratorOptions()
	opts.Items, opts.DemandRows, opts.Suppliers, opts.Shipments = generateRows, generateRows, generateRows, generateRows
	if generateSeed != 0 {
		opts.Seed = generateSeed
	}

	var progress services.ProgressFunc
	if !generateQuiet {
		progress = tableProgress()
	}

	start := time.Now()
	ds := services.NewDataGenerator(opts).Generate(progress)

	app, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Datasets.Save(ds); err != nil {
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	for _, name := range services.TableNames() {
		fmt.Fprintf(cmd.OutOrStdout(), "  wrote %s\n", filepath.Join(app.Datasets.DataDir(), name+".csv"))
	}

	if generateXLSX != "" {
		if err := services.ExportDatasetXLSX(generateXLSX, ds); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "  wrote %s\n", generateXLSX)
	}

	if generateIndex {
		status, err := app.Retrieval.Rebuild(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to rebuild index: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d chunks (generation %d)\n", status.Chunks, status.Generation)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Synthetic data generated in %s\n", time.Since(start).Round(time.Millisecond))
	return nil
}

// tableProgress はテーブルごとに進捗バーを切り替える
func tableProgress() services.ProgressFunc {
	var (
		bar     *progressbar.ProgressBar
		current string
	)
	return func(table string, done, total int) {
		if table != current {
			current = table
			bar = progressbar.NewOptions(total,
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionShowBytes(false),
				progressbar.OptionSetWidth(40),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%-14s[reset]", table)),
				progressbar.OptionSetTheme(progressbar.Theme{
					Saucer:        "[green]=[reset]",
					SaucerHead:    "[green]>[reset]",
					SaucerPadding: " ",
					BarStart:      "[",
					BarEnd:        "]",
				}),
				progressbar.OptionOnCompletion(func() {
					fmt.Println()
				}),
			)
		}
		_ = bar.Set(done)
	}
}

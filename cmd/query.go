package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/localrag/localrag/internal/retrieve"
)

var (
	flagLimit      int
	flagNoFallback bool
)

var queryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Retrieve the chunks most relevant to a question",
	Args:  cobra.ExactArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&flagLimit, "limit", "k", retrieve.DefaultLimit,
		"maximum number of sources to return")
	queryCmd.Flags().BoolVar(&flagNoFallback, "no-fallback", false,
		"disable the substring fallback search")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := setupApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	sources, err := a.Retriever.Retrieve(ctx, args[0], flagLimit,
		retrieve.WithFallback(!flagNoFallback),
		retrieve.WithProvider(flagProvider))
	if err != nil {
		return err
	}

	if len(sources) == 0 {
		if !a.Store.Available() {
			fmt.Println("No results: the vector store is unavailable.")
			return nil
		}
		fmt.Println("No matching sources found.")
		return nil
	}

	for i, src := range sources {
		fmt.Printf("--- source %d (score %.3f, %s)\n",
			i+1, src.Score, src.Metadata["source_file"])
		fmt.Println(src.Text)
	}
	return nil
}

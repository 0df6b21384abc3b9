package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dgallion1/parentdoc/internal/rag"
	"github.com/spf13/cobra"
)

var (
	flagTopChildren int
	flagMaxParents  int
	flagNoAnswer    bool
)

var queryCmd = &cobra.Command{
	Use:   "query TEXT...",
	Short: "Retrieve parent sections for a question and answer it",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().IntVar(&flagTopChildren, "top-children", 0, "child hits to retrieve (default from config)")
	queryCmd.Flags().IntVar(&flagMaxParents, "max-parents", 0, "parents in the context (default from config)")
	queryCmd.Flags().BoolVar(&flagNoAnswer, "no-answer", false, "skip answer generation")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, _, err := openApp(ctx, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	res, err := a.Service.Query(ctx, rag.QueryRequest{
		Query:          strings.Join(args, " "),
		TopChildren:    flagTopChildren,
		MaxParents:     flagMaxParents,
		GenerateAnswer: !flagNoAnswer,
	})
	if err != nil {
		return err
	}
	writeQueryResult(cmd.OutOrStdout(), res)
	return nil
}

func writeQueryResult(w io.Writer, res rag.QueryResult) {
	fmt.Fprintf(w, "%d child hits, %d parents\n\n", len(res.Children), len(res.Parents))
	for i, p := range res.Parents {
		title := p.Title
		if title == "" {
			title = p.ParentID
		}
		fmt.Fprintf(w, "[%d] %s (%s, score %.4f)\n%s\n\n", i+1, title, p.ParentID, p.Score, p.Text)
	}
	if res.Answer != nil {
		fmt.Fprintf(w, "Answer:\n%s\n", *res.Answer)
	}
}

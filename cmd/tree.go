package cmd

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/agentic-research/sift/api"
)

var (
	treeQuery string
	jsonOut   bool
)

func init() {
	treeCmd.Flags().StringVarP(&treeQuery, "query", "q", "", "Prune the tree to names containing this substring")
	treeCmd.Flags().BoolVar(&jsonOut, "json", false, "Print the raw result as JSON")
	rootCmd.AddCommand(treeCmd)
}

var treeCmd = &cobra.Command{
	Use:   "tree <root>",
	Short: "List a directory, optionally pruned to a search term",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		res, err := eng.LoadTree(cmd.Context(), root, treeQuery)
		if err != nil {
			return err
		}
		if jsonOut {
			return writeJSON(cmd.OutOrStdout(), res)
		}
		printTree(cmd.OutOrStdout(), res.Results, 0)
		noun := "entries"
		if strings.TrimSpace(treeQuery) != "" {
			noun = "matches"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s %s\n", humanize.Comma(int64(res.MatchedIDsCount)), noun)
		return nil
	},
}

func printTree(w io.Writer, nodes []api.DirectoryNode, depth int) {
	for _, n := range nodes {
		name := n.Title
		if n.Type == api.TypeDirectory {
			name += "/"
		}
		fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth), name)
		printTree(w, n.Children, depth+1)
	}
}

func writeJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

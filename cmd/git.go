package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/agentic-research/sift/api"
	"github.com/agentic-research/sift/internal/events"
)

func init() {
	gitCmd.Flags().BoolVar(&jsonOut, "json", false, "Print the raw result as JSON")
	gitCmd.Flags().BoolVar(&streamEvents, "events", false, "Stream token count events as JSON lines")
	rootCmd.AddCommand(gitCmd)
}

var gitCmd = &cobra.Command{
	Use:   "git <dir>",
	Short: "List working tree changes with diff token counts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		res, err := eng.GitStatus(cmd.Context(), root)
		if err != nil {
			return err
		}
		if res == nil {
			if jsonOut {
				return writeJSON(cmd.OutOrStdout(), nil)
			}
			return fmt.Errorf("%s is not inside a git repository", root)
		}
		eng.Wait()
		fillDiffCounts(res, root, rec.Events(api.EventGitTokenCounts))

		if jsonOut {
			return writeJSON(cmd.OutOrStdout(), res)
		}
		printChanges(cmd.OutOrStdout(), res)
		return nil
	},
}

func fillDiffCounts(res *api.GitStatusResults, root string, evs []events.Event) {
	counts := make(map[string]int)
	for _, ev := range evs {
		p, ok := ev.Payload.(api.GitTokenCountsEvent)
		if !ok || p.Root != root {
			continue
		}
		for path, n := range p.Files {
			counts[path] = n
		}
	}
	for i := range res.Results {
		c := &res.Results[i]
		if c.TokenCount != nil {
			continue
		}
		if n, ok := counts[c.Path]; ok {
			c.TokenCount = &n
		}
	}
}

func printChanges(w io.Writer, res *api.GitStatusResults) {
	if len(res.Results) == 0 {
		fmt.Fprintln(w, "clean")
		return
	}
	total := 0
	for _, c := range res.Results {
		count := "-"
		if c.TokenCount != nil {
			total += *c.TokenCount
			count = humanize.Comma(int64(*c.TokenCount))
		}
		fmt.Fprintf(w, "%-10s %+5d %-5s %8s  %s\n", c.ChangeType, c.LinesAdded, fmt.Sprintf("-%d", c.LinesDeleted), count, c.Path)
	}
	fmt.Fprintf(w, "\n%d changes, %s tokens", len(res.Results), humanize.Comma(int64(total)))
	if res.Truncated {
		fmt.Fprint(w, " (truncated)")
	}
	fmt.Fprintln(w)
}

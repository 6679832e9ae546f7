package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/agentic-research/sift/api"
	"github.com/agentic-research/sift/internal/events"
	"github.com/agentic-research/sift/internal/worker"
)

var streamEvents bool

func init() {
	selectCmd.Flags().BoolVar(&jsonOut, "json", false, "Print the raw result as JSON")
	selectCmd.Flags().BoolVar(&streamEvents, "events", false, "Stream token count events as JSON lines")
	rootCmd.AddCommand(selectCmd)
}

var selectCmd = &cobra.Command{
	Use:   "select <root> <path>...",
	Short: "Toggle paths into a selection and report its token cost",
	Long: `Toggles each path in turn, starting from an empty selection, and waits for
the background counts. Relative paths are resolved against root.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		var res *api.SelectionResult
		var current []string
		for _, p := range args[1:] {
			if !filepath.IsAbs(p) {
				p = filepath.Join(root, p)
			}
			res, err = eng.ToggleSelection(cmd.Context(), root, current, filepath.Clean(p))
			if err != nil {
				return err
			}
			current = res.SelectedNodesPaths
		}
		eng.Wait()
		fillFileCounts(res, rec.Events(api.EventFileTokenCounts))

		if jsonOut {
			return writeJSON(cmd.OutOrStdout(), res)
		}
		printSelection(cmd.OutOrStdout(), res)
		return nil
	},
}

// fillFileCounts copies counts from the events of the final selection's run
// into files still missing one.
func fillFileCounts(res *api.SelectionResult, evs []events.Event) {
	ids := make([]string, 0, len(res.SelectedFiles))
	for _, f := range res.SelectedFiles {
		ids = append(ids, f.Path)
	}
	want := worker.SelectionID(ids)

	counts := make(map[string]int)
	for _, ev := range evs {
		p, ok := ev.Payload.(api.TokenCountsEvent)
		if !ok || p.SelectionID != want {
			continue
		}
		for _, f := range p.Files {
			counts[f.ID] = f.TokenCount
		}
	}
	for i := range res.SelectedFiles {
		f := &res.SelectedFiles[i]
		if f.TokenCount != nil {
			continue
		}
		if n, ok := counts[f.Path]; ok {
			f.TokenCount = &n
		}
	}
}

func printSelection(w io.Writer, res *api.SelectionResult) {
	total := 0
	for _, f := range res.SelectedFiles {
		count := "?"
		if f.TokenCount != nil {
			total += *f.TokenCount
			count = humanize.Comma(int64(*f.TokenCount))
		}
		fmt.Fprintf(w, "%10s  %s\n", count, f.PrettyPath)
	}
	for _, p := range res.IndeterminateNodesPaths {
		fmt.Fprintf(w, "%10s  %s\n", "partial", p)
	}
	fmt.Fprintf(w, "\n%d files, %s tokens\n", len(res.SelectedFiles), humanize.Comma(int64(total)))
}

package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/selfdist/dino/envconfig"
	"github.com/selfdist/dino/history"
)

// newRunsCmd lists recorded training runs from the history database.
func newRunsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "runs",
		Short: "List recorded training runs",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := envconfig.HistoryPath()
			if path == "" {
				return fmt.Errorf("no history database configured; set DINO_HISTORY")
			}

			store, err := history.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.Runs()
			if err != nil {
				return err
			}

			var data [][]string
			for _, r := range runs {
				steps, err := store.Steps(r.ID)
				if err != nil {
					return err
				}
				finished := "-"
				if r.FinishedAt.Valid {
					finished = r.FinishedAt.Time.Format("2006-01-02 15:04:05")
				}
				finalCE := "-"
				if len(steps) > 0 {
					finalCE = fmt.Sprintf("%.4f", steps[len(steps)-1].CrossEntropy)
				}
				data = append(data, []string{
					r.ID[:8],
					r.Name,
					r.StartedAt.Format("2006-01-02 15:04:05"),
					finished,
					fmt.Sprintf("%d", len(steps)),
					finalCE,
				})
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"ID", "NAME", "STARTED", "FINISHED", "STEPS", "FINAL CE"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			table.AppendBulk(data)
			table.Render()
			return nil
		},
	}
}

package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/selfdist/dino/schedule"
)

// newScheduleCmd previews the hyperparameter schedules of a run without
// training anything.
func newScheduleCmd() *cobra.Command {
	var (
		epochs    int
		lr        float64
		warmup    float64
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Print the per-epoch hyperparameter schedule",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if epochs < 1 {
				return fmt.Errorf("--epochs must be at least 1, got %d", epochs)
			}

			duration := float64(epochs)
			scaled := lr * float64(batchSize) / 256
			schedules := []struct {
				name string
				s    schedule.Schedule
			}{
				{"momentum", schedule.Cosine{Start: 0.996, End: 1.0, Duration: duration}},
				{"teacher_temp", schedule.LinWarmup{Start: 0.04, End: 0.07, WarmupLen: warmup}},
				{"student_temp", schedule.Const{V: 0.1}},
				{"lr", schedule.Cosine{Start: scaled, End: scaled / 100, Duration: duration}},
				{"weight_decay", schedule.Cosine{Start: 0.04, End: 0.4, Duration: duration}},
			}

			header := []string{"EPOCH"}
			for _, s := range schedules {
				header = append(header, s.name)
			}

			var data [][]string
			for e := 0; e <= epochs; e++ {
				row := []string{fmt.Sprintf("%d", e)}
				for _, s := range schedules {
					row = append(row, fmt.Sprintf("%.6g", s.s.At(float64(e))))
				}
				data = append(data, row)
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader(header)
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

	f := cmd.Flags()
	f.IntVar(&epochs, "epochs", 10, "Number of training epochs")
	f.Float64Var(&lr, "lr", 5e-4, "Peak learning rate before batch-size scaling")
	f.Float64Var(&warmup, "warmup-epochs", 5, "Teacher temperature warmup length in epochs")
	f.IntVar(&batchSize, "batch-size", 256, "Batch size for the linear scaling rule")

	return cmd
}

package cmd

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/selfdist/dino/dino"
	"github.com/selfdist/dino/envconfig"
	"github.com/selfdist/dino/history"
	"github.com/selfdist/dino/multicrop"
	"github.com/selfdist/dino/nn"
	"github.com/selfdist/dino/schedule"
)

type trainOptions struct {
	name       string
	epochs     int
	batchSize  int
	samples    int
	imageSize  int
	globalSize int
	localSize  int
	locals     int

	embedDim   int
	outDim     int
	updateMode string
	wnFreeze   int

	lr       float64
	warmup   float64
	clipNorm float64
}

func newTrainCmd() *cobra.Command {
	var opts trainOptions

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a student/teacher pair on synthetic data",
		Args:  cobra.ExactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.name, "name", "synthetic", "Run name in the history database")
	f.IntVar(&opts.epochs, "epochs", 5, "Number of training epochs")
	f.IntVar(&opts.batchSize, "batch-size", 32, "Batch size")
	f.IntVar(&opts.samples, "samples", 512, "Number of synthetic images")
	f.IntVar(&opts.imageSize, "image-size", 32, "Source image side length")
	f.IntVar(&opts.globalSize, "global-size", 24, "Global crop side length")
	f.IntVar(&opts.localSize, "local-size", 12, "Local crop side length")
	f.IntVar(&opts.locals, "locals", 4, "Number of local crops")
	f.IntVar(&opts.embedDim, "embed-dim", 64, "Encoder embedding dimension")
	f.IntVar(&opts.outDim, "out-dim", 256, "Projection output dimension")
	f.StringVar(&opts.updateMode, "update-mode", "ema", "Teacher update mode (ema or copy)")
	f.IntVar(&opts.wnFreeze, "wn-freeze-epochs", 1, "Epochs to freeze the weight-normalized projection")
	f.Float64Var(&opts.lr, "lr", 5e-4, "Peak learning rate (before batch-size scaling)")
	f.Float64Var(&opts.warmup, "warmup-epochs", 1, "Learning rate warmup length in epochs")
	f.Float64Var(&opts.clipNorm, "clip-norm", 3.0, "Gradient norm clip (0 disables)")

	return cmd
}

func runTrain(cmd *cobra.Command, opts trainOptions) error {
	seed := envconfig.Seed()
	rng := rand.New(rand.NewSource(seed))

	specs := multicrop.GlobalLocalSpec(opts.globalSize, opts.localSize, opts.locals)
	printCropTable(specs)

	policy, err := multicrop.New(specs)
	if err != nil {
		return err
	}

	imgs := syntheticImages(rng, opts.samples, opts.imageSize, 10)
	workers := int(envconfig.NumWorkers())
	batches, err := collectBatches(cmd.Context(), policy, imgs, opts.batchSize, workers, seed)
	if err != nil {
		return fmt.Errorf("build batches: %w", err)
	}
	if len(batches) < 2 {
		return fmt.Errorf("need at least 2 batches, got %d; lower --batch-size or raise --samples", len(batches))
	}
	train, val := batches[:len(batches)-1], batches[len(batches)-1:]

	epochs := float64(opts.epochs)
	trainer, err := dino.New(dino.Config{
		Crops:   specs,
		Encoder: nn.NewMLPEncoder(rng, 3, 8, []int{512, 256}, opts.embedDim),
		Head: dino.HeadConfig{
			EmbedDim:      opts.embedDim,
			OutDim:        opts.outDim,
			HiddenDims:    []int{256, 256},
			BottleneckDim: 128,
			Act:           "gelu",
			InitTemp:      0.04,
		},
		Epochs:         opts.epochs,
		UpdateMode:     dino.UpdateMode(opts.updateMode),
		TeacherTemp:    schedule.LinWarmup{Start: 0.04, End: 0.07, WarmupLen: epochs / 2},
		LR:             schedule.Cosine{Start: opts.lr, End: opts.lr / 100, Duration: epochs},
		WeightDecay:    schedule.Cosine{Start: 0.04, End: 0.4, Duration: epochs},
		WNFreezeEpochs: opts.wnFreeze,
		Seed:           seed,
	})
	if err != nil {
		return err
	}

	fit := dino.FitConfig{
		Epochs:    opts.epochs,
		BatchSize: opts.batchSize,
		ClipNorm:  opts.clipNorm,
	}

	var store *history.Store
	runID := ""
	if path := envconfig.HistoryPath(); path != "" {
		store, err = history.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()

		runID, err = store.BeginRun(opts.name, map[string]any{
			"epochs":      opts.epochs,
			"batch_size":  opts.batchSize,
			"samples":     opts.samples,
			"embed_dim":   opts.embedDim,
			"out_dim":     opts.outDim,
			"update_mode": opts.updateMode,
			"lr":          opts.lr,
			"seed":        seed,
		})
		if err != nil {
			return err
		}
		fit.Recorder = store.Recorder(runID)
	}

	if err := trainer.Fit(cmd.Context(), train, val, fit); err != nil {
		return err
	}

	if store != nil {
		if err := store.FinishRun(runID); err != nil {
			return err
		}
		return printRunSummary(store, runID)
	}
	return nil
}

func printCropTable(specs []multicrop.CropSpec) {
	var data [][]string
	for _, s := range specs {
		data = append(data, []string{
			s.Name,
			strconv.Itoa(s.OutputSize),
			fmt.Sprintf("%.2f-%.2f", s.MinScale, s.MaxScale),
			boolMark(s.Teacher),
			boolMark(s.Student),
		})
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"CROP", "SIZE", "SCALE", "TEACHER", "STUDENT"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
}

func printRunSummary(store *history.Store, runID string) error {
	steps, err := store.Steps(runID)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return nil
	}

	first, last := steps[0], steps[len(steps)-1]
	data := [][]string{
		{"steps", strconv.Itoa(len(steps))},
		{"first ce", fmt.Sprintf("%.4f", first.CrossEntropy)},
		{"final ce", fmt.Sprintf("%.4f", last.CrossEntropy)},
		{"final kl", fmt.Sprintf("%.4f", last.KLDivergence)},
		{"final lr", fmt.Sprintf("%.2e", last.LR)},
	}

	fmt.Println()
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"RUN " + runID[:8], ""})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
	return nil
}

func boolMark(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

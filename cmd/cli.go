// Package cmd assembles the dino command line.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/selfdist/dino/envconfig"
	"github.com/selfdist/dino/logutil"
)

func appendEnvDocs(cmd *cobra.Command, envs []envconfig.EnvVar) {
	if len(envs) == 0 {
		return
	}

	envUsage := `
Environment Variables:
`
	for _, e := range envs {
		envUsage += fmt.Sprintf("      %-24s   %s\n", e.Name, e.Description)
	}

	cmd.SetUsageTemplate(cmd.UsageTemplate() + envUsage)
}

// NewCLI builds the root command with all subcommands attached.
func NewCLI() *cobra.Command {
	cobra.EnableCommandSorting = false
	slog.SetDefault(logutil.NewLogger(os.Stderr, envconfig.LogLevel()))

	rootCmd := &cobra.Command{
		Use:           "dino",
		Short:         "Self-distillation trainer",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Print(cmd.UsageString())
		},
	}

	trainCmd := newTrainCmd()
	scheduleCmd := newScheduleCmd()
	runsCmd := newRunsCmd()

	envVars := envconfig.AsMap()
	appendEnvDocs(trainCmd, []envconfig.EnvVar{
		envVars["DINO_DEBUG"],
		envVars["DINO_NUM_WORKERS"],
		envVars["DINO_HISTORY"],
		envVars["DINO_SEED"],
	})
	appendEnvDocs(runsCmd, []envconfig.EnvVar{envVars["DINO_HISTORY"]})

	rootCmd.AddCommand(trainCmd, scheduleCmd, runsCmd)
	return rootCmd
}

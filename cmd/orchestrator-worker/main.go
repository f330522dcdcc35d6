package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	command := NewOrchestratorWorkerCommand()
	if err := command.Execute(); err != nil {
		os.Exit(1)
	}
}

func NewOrchestratorWorkerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orchestrator-worker [command]",
		Short: "orchestrator-worker fans jobs out into pages and folds the results back.",
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
			os.Exit(1)
		},
	}
	cmd.AddCommand(NewCmdRun())
	cmd.AddCommand(NewCmdMigrate())
	cmd.AddCommand(NewCmdStart())
	cmd.AddCommand(NewCmdGet())

	return cmd
}

package main

import (
	"context"
	"fmt"

	"github.com/claboran/orchestrator-worker-poc/internal/config"
	"github.com/claboran/orchestrator-worker-poc/internal/service"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type StartOptions struct {
	JobID string

	cfg *config.Config
}

func DefaultStartOptions() *StartOptions {
	return &StartOptions{}
}

func NewCmdStart() *cobra.Command {
	o := DefaultStartOptions()
	cmd := &cobra.Command{
		Use:   "start [--job-id ID]",
		Short: "Enqueue a StartJob message on the control queue.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), cmd)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *StartOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVar(&o.JobID, "job-id", o.JobID, "Id of the job to start. A uuid is minted when empty.")
}

func (o *StartOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}
	o.cfg = cfg
	return nil
}

func (o *StartOptions) Validate(args []string) error {
	if o.cfg.Queue.Transport == config.TransportMemory {
		return fmt.Errorf("start needs a broker shared with the orchestrator, the %s transport lives in one process", config.TransportMemory)
	}
	return nil
}

func (o *StartOptions) Run(ctx context.Context, cmd *cobra.Command) error {
	flush, err := initLogging(o.cfg)
	if err != nil {
		return err
	}
	defer flush()

	transport, err := newTransport(ctx, o.cfg)
	if err != nil {
		return fmt.Errorf("creating transport: %w", err)
	}
	defer transport.Close()

	// the store is not touched by RequestJob
	id, err := service.NewJobService(nil, transport).RequestJob(ctx, o.JobID)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), id)
	return nil
}

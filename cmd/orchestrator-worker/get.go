package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/claboran/orchestrator-worker-poc/internal/config"
	"github.com/claboran/orchestrator-worker-poc/internal/service"
	"github.com/claboran/orchestrator-worker-poc/internal/store/model"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/thoas/go-funk"
	"sigs.k8s.io/yaml"
)

const (
	jsonFormat = "json"
	yamlFormat = "yaml"
)

var (
	legalOutputTypes = []string{jsonFormat, yamlFormat}
)

type GetOptions struct {
	Output string

	cfg *config.Config
}

func DefaultGetOptions() *GetOptions {
	return &GetOptions{}
}

func NewCmdGet() *cobra.Command {
	o := DefaultGetOptions()
	cmd := &cobra.Command{
		Use:   "get [JOB_ID]",
		Short: "Display one or all jobs.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := o.Complete(cmd, args); err != nil {
				return err
			}
			if err := o.Validate(args); err != nil {
				return err
			}
			return o.Run(cmd.Context(), cmd.OutOrStdout(), args)
		},
		SilenceUsage: true,
	}
	o.Bind(cmd.Flags())
	return cmd
}

func (o *GetOptions) Bind(fs *pflag.FlagSet) {
	fs.StringVarP(&o.Output, "output", "o", o.Output, fmt.Sprintf("Output format. One of: (%s).", strings.Join(legalOutputTypes, ", ")))
}

func (o *GetOptions) Complete(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("reading configuration: %w", err)
	}
	o.cfg = cfg
	return nil
}

func (o *GetOptions) Validate(args []string) error {
	if len(o.Output) > 0 && !funk.Contains(legalOutputTypes, o.Output) {
		return fmt.Errorf("output format must be one of %s", strings.Join(legalOutputTypes, ", "))
	}
	return nil
}

func (o *GetOptions) Run(ctx context.Context, out io.Writer, args []string) error {
	flush, err := initLogging(o.cfg)
	if err != nil {
		return err
	}
	defer flush()

	s, err := openStore(o.cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	// reading needs no transport
	jobs := service.NewJobService(s, nil)

	if len(args) == 1 {
		job, err := jobs.GetJob(ctx, args[0])
		if err != nil {
			return err
		}
		return printJobs(out, o.Output, model.JobList{*job}, true)
	}

	list, err := jobs.ListJobs(ctx, service.JobFilter{})
	if err != nil {
		return err
	}
	return printJobs(out, o.Output, list, false)
}

func printJobs(out io.Writer, format string, jobs model.JobList, withPages bool) error {
	var (
		data []byte
		err  error
	)

	var v any = jobs
	if withPages && len(jobs) == 1 {
		v = jobs[0]
	}

	switch format {
	case jsonFormat:
		data, err = json.MarshalIndent(v, "", "  ")
	case yamlFormat:
		data, err = yaml.Marshal(v)
	default:
		return printTable(out, jobs, withPages)
	}
	if err != nil {
		return fmt.Errorf("marshalling jobs: %w", err)
	}

	_, err = fmt.Fprintln(out, string(data))
	return err
}

func printTable(out io.Writer, jobs model.JobList, withPages bool) error {
	w := tabwriter.NewWriter(out, 0, 8, 1, '\t', 0)

	if withPages {
		fmt.Fprintln(w, "JOB\tPAGE\tPOSITION\tSTATUS\tERROR")
		for _, j := range jobs {
			for _, p := range j.Pages {
				msg := ""
				if p.ErrorMessage != nil {
					msg = *p.ErrorMessage
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", j.ID, p.ID, p.Position, p.Status, msg)
			}
		}
		return w.Flush()
	}

	fmt.Fprintln(w, "JOB\tSTATUS\tCREATED\tUPDATED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", j.ID, j.Status, j.CreatedAt.Format("2006-01-02T15:04:05Z07:00"), j.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"))
	}
	return w.Flush()
}

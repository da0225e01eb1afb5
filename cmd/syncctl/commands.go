package main

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/incident-sync/internal/job"
	"github.com/incident-sync/internal/storage"
	"github.com/spf13/cobra"
)

// ctlQueue is what the CLI needs from the queue set
type ctlQueue interface {
	Enqueue(ctx context.Context, queue, name string, payload interface{}, opts job.Options) (*job.Job, bool, error)
	AllStats(ctx context.Context) ([]*job.Stats, error)
	GetJob(ctx context.Context, queue, id string) (*job.Job, error)
	ReclaimExpired(ctx context.Context, queue string) (requeued int, failed []*job.Job, err error)
	Policies() job.Policies
}

type eventCounter interface {
	CountByKind(ctx context.Context, since time.Time) ([]storage.JobEventCount, error)
}

type app struct {
	queue   ctlQueue
	events  eventCounter
	closers []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

type opener func(ctx context.Context) (*app, error)

func newRootCmd(open opener) *cobra.Command {
	root := &cobra.Command{
		Use:          "syncctl",
		Short:        "Inspect and drive the incident sync queues",
		SilenceUsage: true,
	}

	// each command connects on demand so --help works offline
	with := func(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return fn(cmd, a, args)
		}
	}

	root.AddCommand(enqueueCmd(with))
	root.AddCommand(statsCmd(with))
	root.AddCommand(jobCmd(with))
	root.AddCommand(reclaimCmd(with))
	root.AddCommand(eventsCmd(with))
	return root
}

type runWith func(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error

func knownQueue(a *app, queue string) error {
	if _, ok := a.queue.Policies().Get(queue); !ok {
		return fmt.Errorf("unknown queue %q", queue)
	}
	return nil
}

func enqueueCmd(with runWith) *cobra.Command {
	var (
		name    string
		payload string
		id      string
		delay   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "enqueue <queue>",
		Short: "Enqueue a job; a sync without --id reuses the scheduler's trigger id",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, a *app, args []string) error {
			queue := args[0]
			if err := knownQueue(a, queue); err != nil {
				return err
			}
			if queue == job.QueueOpenIncidents {
				return fmt.Errorf("%s is fed by incident discovery only", queue)
			}

			opts := job.Options{JobID: id}
			if opts.JobID == "" && name == job.NameSync {
				opts.JobID = job.SyncJobID(queue)
			}
			if cmd.Flags().Changed("delay") {
				if delay < 0 {
					return fmt.Errorf("--delay must not be negative")
				}
				opts.Delay = &delay
			}

			var body interface{}
			if payload != "" {
				if !json.Valid([]byte(payload)) {
					return fmt.Errorf("--payload is not valid JSON")
				}
				body = json.RawMessage(payload)
			}

			j, created, err := a.queue.Enqueue(cmd.Context(), queue, name, body, opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !created {
				fmt.Fprintf(out, "job %s already %s\n", j.ID, j.State)
				return nil
			}
			fmt.Fprintf(out, "enqueued %s/%s (%s) state=%s\n", queue, j.ID, j.Name, j.State)
			return nil
		}),
	}
	cmd.Flags().StringVar(&name, "name", job.NameSync, "Job name")
	cmd.Flags().StringVar(&payload, "payload", "", "JSON payload")
	cmd.Flags().StringVar(&id, "id", "", "Job id, used for deduplication")
	cmd.Flags().DurationVar(&delay, "delay", 0, "Delay before the job is eligible; defaults to the queue policy")
	return cmd
}

func statsCmd(with runWith) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per queue and state",
		Args:  cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, a *app, _ []string) error {
			stats, err := a.queue.AllStats(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "QUEUE\tWAITING\tDELAYED\tACTIVE\tCOMPLETED\tFAILED")
			for _, s := range stats {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n", s.Queue, s.Waiting, s.Delayed, s.Active, s.Completed, s.Failed)
			}
			return tw.Flush()
		}),
	}
}

func jobCmd(with runWith) *cobra.Command {
	return &cobra.Command{
		Use:   "job <queue> <id>",
		Short: "Print one job as JSON",
		Args:  cobra.ExactArgs(2),
		RunE: with(func(cmd *cobra.Command, a *app, args []string) error {
			j, err := a.queue.GetJob(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(j)
		}),
	}
}

func reclaimCmd(with runWith) *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim <queue>",
		Short: "Requeue jobs whose lease expired",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, a *app, args []string) error {
			if err := knownQueue(a, args[0]); err != nil {
				return err
			}
			requeued, failed, err := a.queue.ReclaimExpired(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "requeued=%d failed=%d\n", requeued, len(failed))
			for _, j := range failed {
				fmt.Fprintf(out, "failed %s (%s) after %d attempts\n", j.ID, j.Name, j.AttemptsMade)
			}
			return nil
		}),
	}
}

func eventsCmd(with runWith) *cobra.Command {
	var since time.Duration
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Summarize recorded job events (requires ClickHouse)",
		Args:  cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, a *app, _ []string) error {
			if a.events == nil {
				return fmt.Errorf("job events are not recorded: set CLICKHOUSE_ENABLED=true")
			}
			counts, err := a.events.CountByKind(cmd.Context(), time.Now().Add(-since))
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "QUEUE\tKIND\tCOUNT")
			for _, c := range counts {
				fmt.Fprintf(tw, "%s\t%s\t%d\n", c.Queue, c.Kind, c.Count)
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "Look-back window")
	return cmd
}

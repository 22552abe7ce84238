package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"image-job-workers/internal/store"
)

func enqueueCmd(a *app) *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "enqueue <input-path>",
		Short: "Submit an image for processing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := filepath.Abs(args[0])
			if err != nil {
				return fmt.Errorf("resolve input path: %w", err)
			}
			job, err := a.producer.Submit(cmd.Context(), id, input)
			if errors.Is(err, store.ErrExists) {
				return fmt.Errorf("job %s already exists; pick another --id", id)
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), job.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "job id (default: random UUID)")
	return cmd
}

func statusCmd(a *app) *cobra.Command {
	var history bool
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print the stored record of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if history && a.history == nil {
				return errors.New("--history needs the audit trail; set POSTGRES_DSN")
			}

			job, err := a.store.Get(cmd.Context(), args[0])
			switch {
			case errors.Is(err, store.ErrNotFound) && !history:
				return fmt.Errorf("job %s not found or expired", args[0])
			case errors.Is(err, store.ErrNotFound):
				fmt.Fprintf(cmd.OutOrStdout(), "job %s not found or expired\n", args[0])
			case err != nil:
				return err
			default:
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(job); err != nil {
					return err
				}
			}
			if !history {
				return nil
			}

			transitions, err := a.history.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "AT\tFROM\tTO\tWORKER\tDETAIL")
			for _, t := range transitions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.At.Format(time.RFC3339), t.From, t.To, t.WorkerID, t.Detail)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&history, "history", false, "also print recorded status changes (needs POSTGRES_DSN)")
	return cmd
}

func depthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "depth",
		Short: "Print the number of jobs waiting in the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := a.queue.Depth(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", a.queue.Key(), n)
			return nil
		},
	}
}

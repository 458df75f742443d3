package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/olivere/queuectl"
)

var dlqCmd = &cobra.Command{
	Use:   "dlq",
	Short: "Dead-letter queue commands",
}

var dlqListFlags struct {
	limit  int
	offset int
}

var dlqListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs in the dead-letter queue",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		jobs, err := st.List(cmd.Context(), &queuectl.ListRequest{
			State:  queuectl.Dead,
			Limit:  dlqListFlags.limit,
			Offset: dlqListFlags.offset,
		})
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs in DLQ")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCOMMAND\tATTEMPTS\tERROR\tFINISHED")
		for _, job := range jobs {
			finished := ""
			if job.FinishedAt != nil {
				finished = job.FinishedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
				clip(job.ID, 20), clip(job.Command, 30), job.Attempts,
				clip(job.Error, 40), finished)
		}
		return w.Flush()
	},
}

var dlqRetryMaxRetries int

var dlqRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Move a job from the dead-letter queue back to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		var maxRetries *int
		if cmd.Flags().Changed("max-retries") {
			if dlqRetryMaxRetries < 1 {
				return fmt.Errorf("%w: max-retries must be at least 1", queuectl.ErrInvalidInput)
			}
			maxRetries = &dlqRetryMaxRetries
		}
		if err := st.DLQRetry(cmd.Context(), args[0], maxRetries, time.Now().UTC()); err != nil {
			return err
		}
		fmt.Printf("Job %s moved back to pending\n", args[0])
		return nil
	},
}

func init() {
	dlqListCmd.Flags().IntVar(&dlqListFlags.limit, "limit", 50, "maximum number of jobs to display")
	dlqListCmd.Flags().IntVar(&dlqListFlags.offset, "offset", 0, "offset for pagination")
	dlqRetryCmd.Flags().IntVar(&dlqRetryMaxRetries, "max-retries", 0, "update the job's retry budget")
	dlqCmd.AddCommand(dlqListCmd)
	dlqCmd.AddCommand(dlqRetryCmd)
}

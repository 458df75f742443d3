package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/olivere/queuectl"
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show details of a job, including its output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		job, err := st.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Job %s\n", job.ID)
		fmt.Printf("  Command:     %s\n", job.Command)
		fmt.Printf("  State:       %s\n", job.State)
		fmt.Printf("  Priority:    %d\n", job.Priority)
		fmt.Printf("  Attempts:    %d/%d\n", job.Attempts, job.MaxRetries)
		fmt.Printf("  Created at:  %s\n", job.CreatedAt.Format("2006-01-02 15:04:05 MST"))
		fmt.Printf("  Updated at:  %s\n", job.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
		if job.StartedAt != nil {
			fmt.Printf("  Started at:  %s\n", job.StartedAt.Format("2006-01-02 15:04:05 MST"))
		}
		if job.FinishedAt != nil {
			fmt.Printf("  Finished at: %s\n", job.FinishedAt.Format("2006-01-02 15:04:05 MST"))
		}
		if job.State == queuectl.Pending && !job.NextRunAt.IsZero() {
			fmt.Printf("  Next run at: %s\n", job.NextRunAt.Format("2006-01-02 15:04:05 MST"))
		}
		if job.ClaimedBy != "" {
			fmt.Printf("  Claimed by:  %s\n", job.ClaimedBy)
		}
		if job.ExitCode != nil {
			fmt.Printf("  Exit code:   %d\n", *job.ExitCode)
		}
		if job.Error != "" {
			fmt.Printf("  Error:       %s\n", job.Error)
		}
		if job.Stdout != "" {
			fmt.Printf("\nSTDOUT:\n%s\n", job.Stdout)
		}
		if job.Stderr != "" {
			fmt.Printf("\nSTDERR:\n%s\n", job.Stderr)
		}
		return nil
	},
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/olivere/queuectl"
)

var listFlags struct {
	state  string
	limit  int
	offset int
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs with optional filtering",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if listFlags.state != "" && !queuectl.ValidState(listFlags.state) {
			return fmt.Errorf("%w: unknown state %q", queuectl.ErrInvalidInput, listFlags.state)
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		jobs, err := st.List(cmd.Context(), &queuectl.ListRequest{
			State:  listFlags.state,
			Limit:  listFlags.limit,
			Offset: listFlags.offset,
		})
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs found")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCOMMAND\tSTATE\tPRIO\tATTEMPTS\tCREATED")
		for _, job := range jobs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d/%d\t%s\n",
				clip(job.ID, 20), clip(job.Command, 40), job.State,
				job.Priority, job.Attempts, job.MaxRetries,
				job.CreatedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	},
}

func init() {
	listCmd.Flags().StringVar(&listFlags.state, "state", "", "filter by state (pending, processing, completed, failed, dead)")
	listCmd.Flags().IntVar(&listFlags.limit, "limit", 50, "maximum number of jobs to display")
	listCmd.Flags().IntVar(&listFlags.offset, "offset", 0, "offset for pagination")
}

func clip(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

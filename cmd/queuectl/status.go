package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue counts and worker manager status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		stats, err := st.CountsByState(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Println("Queue:")
		fmt.Printf("  Pending:    %d\n", stats.Pending)
		fmt.Printf("  Processing: %d\n", stats.Processing)
		fmt.Printf("  Completed:  %d\n", stats.Completed)
		fmt.Printf("  Failed:     %d\n", stats.Failed)
		fmt.Printf("  Dead (DLQ): %d\n", stats.Dead)

		m := newManager(st)
		status := m.Status()
		fmt.Println("Workers:")
		if status.Running {
			fmt.Printf("  Manager:        running (pid %d)\n", status.PID)
			fmt.Printf("  Active workers: %d\n", status.ActiveWorkers)
		} else {
			fmt.Println("  Manager:        not running")
		}
		return nil
	},
}

package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/olivere/queuectl"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Worker management commands",
}

var workerStartCount int

var workerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the worker manager in the background",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if workerStartCount < 1 {
			return fmt.Errorf("%w: worker count must be at least 1", queuectl.ErrInvalidInput)
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		m := newManager(st)
		if err := m.Start(cmd.Context(), workerStartCount); err != nil {
			return err
		}
		fmt.Printf("Started worker manager with %d worker(s)\n", workerStartCount)
		return nil
	},
}

var workerStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the worker manager gracefully",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		m := newManager(st)
		if err := m.Stop(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("Worker manager stopped")
		return nil
	},
}

var workerRunCount int

// workerRunCmd is the body of the detached manager process spawned by
// "worker start". It is hidden from help output.
var workerRunCmd = &cobra.Command{
	Use:    "run",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		m := newManager(st, queuectl.SetConcurrency(workerRunCount))
		return m.Run(ctx)
	},
}

func init() {
	workerStartCmd.Flags().IntVar(&workerStartCount, "count", 1, "number of workers to start")
	workerRunCmd.Flags().IntVar(&workerRunCount, "count", 1, "number of workers to run")
	workerCmd.AddCommand(workerStartCmd)
	workerCmd.AddCommand(workerStopCmd)
	workerCmd.AddCommand(workerRunCmd)
}

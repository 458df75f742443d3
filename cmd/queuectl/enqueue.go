package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/olivere/queuectl"
)

var enqueueFlags struct {
	command    string
	id         string
	maxRetries int
	priority   int
	runAt      string
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [json]",
	Short: "Enqueue a new job",
	Long: `Enqueue a new job, either as a JSON document or via flags.

Examples:
  queuectl enqueue '{"id":"report-1","command":"make report"}'
  queuectl enqueue --command "make report" --max-retries 5 --priority 10`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := enqueueSpec(cmd, args)
		if err != nil {
			return err
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := cmd.Context()
		defMaxRetries, err := queuectl.ConfigInt(ctx, st, queuectl.ConfigMaxRetries)
		if err != nil {
			return err
		}
		job := spec.NewJob(defMaxRetries, time.Now().UTC())
		if err := st.Enqueue(ctx, job); err != nil {
			return err
		}
		fmt.Println(job.ID)
		return nil
	},
}

func init() {
	enqueueCmd.Flags().StringVar(&enqueueFlags.command, "command", "", "command to execute")
	enqueueCmd.Flags().StringVar(&enqueueFlags.id, "id", "", "job ID (generated if not provided)")
	enqueueCmd.Flags().IntVar(&enqueueFlags.maxRetries, "max-retries", 0, "maximum attempts before the job is dead")
	enqueueCmd.Flags().IntVar(&enqueueFlags.priority, "priority", 0, "job priority (higher runs first)")
	enqueueCmd.Flags().StringVar(&enqueueFlags.runAt, "run-at", "", "scheduled run time (RFC3339, UTC)")
}

// enqueueSpec builds a validated job spec from either the JSON argument
// or the flags.
func enqueueSpec(cmd *cobra.Command, args []string) (*queuectl.JobSpec, error) {
	if len(args) == 1 {
		return queuectl.ParseJobSpec([]byte(args[0]))
	}

	spec := &queuectl.JobSpec{
		ID:      enqueueFlags.id,
		Command: enqueueFlags.command,
	}
	if cmd.Flags().Changed("max-retries") {
		v := enqueueFlags.maxRetries
		spec.MaxRetries = &v
	}
	if cmd.Flags().Changed("priority") {
		v := enqueueFlags.priority
		spec.Priority = &v
	}
	if enqueueFlags.runAt != "" {
		t, err := time.Parse(time.RFC3339, enqueueFlags.runAt)
		if err != nil {
			return nil, fmt.Errorf("%w: unparsable run-at %q: %v", queuectl.ErrInvalidInput, enqueueFlags.runAt, err)
		}
		utc := t.UTC()
		spec.RunAt = &utc
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/olivere/queuectl"
	"github.com/olivere/queuectl/sqlite"
)

var dbPath string

var rootCmd = &cobra.Command{
	Use:           "queuectl",
	Short:         "A persistent background job queue with a CLI",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	def := os.Getenv("QUEUECTL_DB_PATH")
	if def == "" {
		def = queuectl.ConfigDefaults[queuectl.ConfigDBPath]
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", def, "database file location")

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %v", queuectl.ErrInvalidInput, err)
	})

	rootCmd.AddCommand(initDBCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(dlqCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(dashboardCmd)
}

// dataDir is the directory holding the database, the log file and the
// manager lifecycle files.
func dataDir() string {
	return filepath.Dir(dbPath)
}

func openStore() (*sqlite.Store, error) {
	return sqlite.NewStore(dbPath)
}

func newLogger() queuectl.Logger {
	return queuectl.NewLogger(filepath.Join(dataDir(), "queuectl.log"))
}

func newManager(st queuectl.Store, options ...queuectl.ManagerOption) *queuectl.Manager {
	base := []queuectl.ManagerOption{
		queuectl.SetStore(st),
		queuectl.SetDataDir(dataDir()),
		queuectl.SetLogger(newLogger()),
		queuectl.SetSpawnCommand("worker", "run", "--db", dbPath),
	}
	return queuectl.New(append(base, options...)...)
}

// Execute runs the CLI and exits with 0 on success, 1 on user-facing
// validation or state errors, and 2 on internal errors.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	for _, userErr := range []error{
		queuectl.ErrInvalidInput,
		queuectl.ErrDuplicateID,
		queuectl.ErrNotFound,
		queuectl.ErrAlreadyRunning,
		queuectl.ErrNotRunning,
	} {
		if errors.Is(err, userErr) {
			return 1
		}
	}
	return 2
}

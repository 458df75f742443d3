package main

import (
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/olivere/queuectl/dashboard"
	"github.com/olivere/queuectl/sqlite"
)

var dashboardFlags struct {
	host string
	port int
}

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Dashboard commands",
}

var dashboardStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Serve the read-only web dashboard",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// The dashboard must never mutate the store; open read-only.
		st, err := sqlite.NewReadOnlyStore(dbPath)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		addr := net.JoinHostPort(dashboardFlags.host, strconv.Itoa(dashboardFlags.port))
		fmt.Printf("Dashboard listening on http://%s\n", addr)
		srv := dashboard.New(st, dashboard.SetLogger(newLogger()))
		return srv.Serve(ctx, addr)
	},
}

func init() {
	dashboardStartCmd.Flags().StringVar(&dashboardFlags.host, "host", "127.0.0.1", "host to bind to")
	dashboardStartCmd.Flags().IntVar(&dashboardFlags.port, "port", 5000, "port to bind to")
	dashboardCmd.AddCommand(dashboardStartCmd)
}

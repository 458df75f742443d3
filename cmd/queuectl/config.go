package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/olivere/queuectl"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value. Keys accept hyphens or underscores;
the persisted form uses underscores.

Examples:
  queuectl config set max-retries 5
  queuectl config set backoff_base 2`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if !queuectl.ValidConfigKey(key) {
			return fmt.Errorf("%w: unknown config key %q", queuectl.ErrInvalidInput, key)
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		canonical := queuectl.NormalizeConfigKey(key)
		if err := st.ConfigSet(cmd.Context(), canonical, value); err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", canonical, value)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		value, err := queuectl.ConfigValue(cmd.Context(), st, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s = %s\n", queuectl.NormalizeConfigKey(args[0]), value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
}

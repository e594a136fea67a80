package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pulsebot",
		Short:        "Deliver feed articles and price alerts to chat destinations",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/pulsebot/config.yaml)")

	root.AddCommand(runCmd())
	root.AddCommand(pollCmd())
	root.AddCommand(priceCmd())
	root.AddCommand(tenantsCmd())
	root.AddCommand(checkCmd())

	return root
}

func runCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the feed and price timers and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "API listen address (default: from config)")
	return cmd
}

func pollCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run one feed cycle without delivering or recording history",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoll(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func priceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "price <asset>",
		Short: "Show the current market data for an asset",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrice(args[0])
		},
	}
}

func tenantsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "tenants",
		Short: "List tenants and their subscriptions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTenants(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and print it with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck()
		},
	}
}

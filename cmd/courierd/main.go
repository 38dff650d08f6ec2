package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/courier-im/courier/internal/account"
	"github.com/courier-im/courier/internal/daemon"
)

func main() {
	var accountFlag string

	root := &cobra.Command{
		Use:   "courierd",
		Short: "Courier message sync daemon",
		Long: "courierd keeps one account's local message cache in sync with the\n" +
			"remote backend: it retries queued sends on reconnect, refreshes\n" +
			"conversation history, and prunes stale user snapshots.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := account.Resolve(accountFlag)
			if err := account.ValidateName(name); err != nil {
				return err
			}

			app := fx.New(
				daemon.Module(daemon.Params{AccountName: name}),
			)
			app.Run()
			return nil
		},
	}
	root.Flags().StringVar(&accountFlag, "account", "", "account name (overrides config default)")

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

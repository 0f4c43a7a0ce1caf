package cmd

import (
	"github.com/smallbiznis/mediaforge/internal/dispatch"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var dispatcherCmd = &cobra.Command{
	Use:   "dispatcher",
	Short: "Run only the dispatch worker that drains provider queues",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			infrastructure(),
			dispatchDomain(),
			dispatch.WorkerModule,
		)
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}

package cmd

import (
	"github.com/smallbiznis/mediaforge/internal/dispatch"
	"github.com/smallbiznis/mediaforge/internal/migration"
	"github.com/smallbiznis/mediaforge/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var withWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (and the dispatch worker unless --worker=false)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := []fx.Option{
			infrastructure(),
			migration.Module,
			server.Module,
		}
		if withWorker {
			opts = append(opts, dispatch.WorkerModule)
		}

		app := fx.New(opts...)
		if err := app.Err(); err != nil {
			return err
		}
		app.Run()
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&withWorker, "worker", true, "run the dispatch worker in the same process")
}

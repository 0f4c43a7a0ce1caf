package cmd

import (
	"context"
	"time"

	"github.com/smallbiznis/mediaforge/internal/migration"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations and exit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app := fx.New(
			infrastructure(),
			fx.Invoke(migration.Run),
		)
		if err := app.Err(); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		if err := app.Start(ctx); err != nil {
			return err
		}
		cmd.Println("migrations applied")
		return app.Stop(ctx)
	},
}

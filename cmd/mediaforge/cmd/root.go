package cmd

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/joho/godotenv"
	"github.com/smallbiznis/mediaforge/internal/clock"
	"github.com/smallbiznis/mediaforge/internal/config"
	"github.com/smallbiznis/mediaforge/internal/observability"
	"github.com/smallbiznis/mediaforge/pkg/db"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var (
	envFile string
	nodeID  int64
)

var rootCmd = &cobra.Command{
	Use:   "mediaforge",
	Short: "mediaforge runs the media generation backend",
	Long: `mediaforge accepts generation requests, reserves credits against the caller's tier,
dispatches work to the configured generation providers and reconciles their webhooks.

Common workflows:

  Run the API together with the dispatch worker:
    mediaforge serve

  Run only the dispatch worker:
    mediaforge dispatcher --node-id 2

  Apply schema migrations and exit:
    mediaforge migrate

  Drain one provider queue once:
    mediaforge pump song

Configuration is read from the environment (and an optional .env file).
Provider settings live in providers.yml.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			return nil
		}
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file loaded before configuration (default .env when present)")
	rootCmd.PersistentFlags().Int64Var(&nodeID, "node-id", 1, "snowflake node id; must be unique per running process")

	rootCmd.AddCommand(serveCmd, dispatcherCmd, migrateCmd, pumpCmd)
}

// infrastructure is shared by every command that touches the database.
func infrastructure() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake(nodeID)),
		db.Module,
		clock.Module,
	)
}

func RegisterSnowflake(id int64) func() (*snowflake.Node, error) {
	return func() (*snowflake.Node, error) {
		node, err := snowflake.NewNode(id)
		if err != nil {
			return nil, fmt.Errorf("snowflake node %d: %w", id, err)
		}
		return node, nil
	}
}

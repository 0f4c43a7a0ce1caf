package cmd

import (
	"context"
	"encoding/json"
	"time"

	"github.com/smallbiznis/mediaforge/internal/dispatch"
	dispatchdomain "github.com/smallbiznis/mediaforge/internal/dispatch/domain"
	"github.com/smallbiznis/mediaforge/internal/generation"
	"github.com/smallbiznis/mediaforge/internal/providers"
	"github.com/smallbiznis/mediaforge/internal/ratelimit"
	"github.com/smallbiznis/mediaforge/internal/refund"
	"github.com/smallbiznis/mediaforge/internal/subject"
	"github.com/smallbiznis/mediaforge/internal/submission"
	"github.com/smallbiznis/mediaforge/internal/usage"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var pumpTimeout time.Duration

var pumpCmd = &cobra.Command{
	Use:   "pump [provider_type]",
	Short: "Drain one provider queue once and print the result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var svc dispatchdomain.Service
		app := fx.New(
			infrastructure(),
			dispatchDomain(),
			fx.Populate(&svc),
		)
		if err := app.Err(); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), pumpTimeout)
		defer cancel()
		if err := app.Start(ctx); err != nil {
			return err
		}
		defer func() {
			_ = app.Stop(context.WithoutCancel(ctx))
		}()

		result, err := svc.Pump(ctx, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	pumpCmd.Flags().DurationVar(&pumpTimeout, "timeout", time.Minute, "upper bound for the whole pump run")
}

// dispatchDomain wires what a queue pump needs without the HTTP surface. The submission
// module supplies the listener that registers tasks and refunds failed submissions.
func dispatchDomain() fx.Option {
	return fx.Options(
		ratelimit.Module,
		providers.Module,
		usage.Module,
		subject.Module,
		refund.Module,
		generation.Module,
		dispatch.Module,
		submission.Module,
	)
}

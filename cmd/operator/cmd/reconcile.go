package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // cobra command pattern
var reconcileOutput string

//nolint:gochecknoglobals // cobra command pattern
var reconcileCmd = &cobra.Command{
	Use:   "reconcile NAME",
	Short: "Reconcile one Application now, whether or not it has drifted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStack(cmd, func(ctx context.Context, env commandEnv) error {
			result, err := env.stack.Engine.ReconcileNow(ctx, env.key(args[0]))
			if err != nil {
				return err
			}

			return render(env.out, reconcileOutput, result)
		})
	},
}

func init() {
	addOutputFlag(reconcileCmd, &reconcileOutput)

	rootCmd.AddCommand(reconcileCmd)
}

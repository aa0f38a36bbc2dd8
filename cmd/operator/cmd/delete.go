package cmd

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // cobra command pattern
var deleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete an Application together with its Deployment and Service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStack(cmd, func(ctx context.Context, env commandEnv) error {
			key := env.key(args[0])

			if err := env.stack.Engine.Delete(ctx, key); err != nil {
				return err
			}

			_, err := fmt.Fprintf(env.out, "application %s deleted\n", key)

			return errors.Wrap(err, "failed to write output")
		})
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
}

package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/lexfrei/application-operator/internal/printer"
)

//nolint:gochecknoglobals // cobra command pattern
var (
	getOutput  string
	listOutput string
)

//nolint:gochecknoglobals // cobra command pattern
var getCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Show one Application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStack(cmd, func(ctx context.Context, env commandEnv) error {
			resource, err := env.stack.Engine.Get(ctx, env.key(args[0]))
			if err != nil {
				return err
			}

			return render(env.out, getOutput, resource)
		})
	},
}

//nolint:gochecknoglobals // cobra command pattern
var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List Applications in the namespace, or in all namespaces when none is set",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStack(cmd, func(ctx context.Context, env commandEnv) error {
			resources, err := env.stack.Engine.List(ctx, env.namespace)
			if err != nil {
				return err
			}

			format, err := printer.ParseFormat(listOutput)
			if err != nil {
				return err
			}

			return printer.PrintList(env.out, format, resources)
		})
	},
}

func init() {
	addOutputFlag(getCmd, &getOutput)
	addOutputFlag(listCmd, &listOutput)

	rootCmd.AddCommand(getCmd, listCmd)
}

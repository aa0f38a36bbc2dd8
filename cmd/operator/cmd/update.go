package cmd

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/lexfrei/application-operator/internal/domain"
)

//nolint:gochecknoglobals // cobra command pattern
var (
	updateImage    string
	updateReplicas int32
	updatePort     int32
	updateEnv      map[string]string
	updateOutput   string
)

//nolint:gochecknoglobals // cobra command pattern
var updateCmd = &cobra.Command{
	Use:   "update NAME",
	Short: "Change the spec of an Application",
	Long: `Change the spec of an Application. Only the flags that are set are applied;
--env replaces the whole environment. The next sweep converges the change.

Example:
  application-operator update web --replicas 5`,
	Args: cobra.ExactArgs(1),
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().StringVar(&updateImage, "image", "", "Container image")
	updateCmd.Flags().Int32Var(&updateReplicas, "replicas", 0, "Number of replicas")
	updateCmd.Flags().Int32Var(&updatePort, "port", 0, "Container and service port")
	updateCmd.Flags().StringToStringVar(&updateEnv, "env", nil, "Environment variables (KEY=VALUE, repeatable)")
	addOutputFlag(updateCmd, &updateOutput)

	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	if !flags.Changed("image") && !flags.Changed("replicas") && !flags.Changed("port") && !flags.Changed("env") {
		return errors.New("nothing to update: set at least one of --image, --replicas, --port, --env")
	}

	return withStack(cmd, func(ctx context.Context, env commandEnv) error {
		key := env.key(args[0])

		current, err := env.stack.Engine.Get(ctx, key)
		if err != nil {
			return err
		}

		spec := domain.ResourceSpec{
			Replicas: current.Spec.Replicas,
			Image:    current.Spec.Image,
			Port:     current.Spec.Port,
			Env:      current.Spec.EnvCopy(),
		}

		if flags.Changed("image") {
			spec.Image = updateImage
		}

		if flags.Changed("replicas") {
			spec.Replicas = updateReplicas
		}

		if flags.Changed("port") {
			spec.Port = updatePort
		}

		if flags.Changed("env") {
			spec.Env = updateEnv
		}

		updated, err := env.stack.Engine.UpdateSpec(ctx, key, spec)
		if err != nil {
			return err
		}

		return render(env.out, updateOutput, updated)
	})
}

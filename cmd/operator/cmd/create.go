package cmd

import (
	"context"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/lexfrei/application-operator/internal/domain"
	"github.com/lexfrei/application-operator/internal/printer"
)

//nolint:gochecknoglobals // cobra command pattern
var (
	createFile     string
	createImage    string
	createReplicas int32
	createPort     int32
	createEnv      map[string]string
	createOutput   string
)

//nolint:gochecknoglobals // cobra command pattern
var createCmd = &cobra.Command{
	Use:   "create [NAME]",
	Short: "Create an Application and reconcile it immediately",
	Long: `Create an Application either from flags or from a manifest file.

Examples:
  application-operator create web --image nginx:1.25 --replicas 3 --port 80
  application-operator create -f web.yaml
  cat web.yaml | application-operator create -f -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCreate,
}

func init() {
	createCmd.Flags().StringVarP(&createFile, "filename", "f", "", "Manifest to create from (- for stdin)")
	createCmd.Flags().StringVar(&createImage, "image", "", "Container image")
	createCmd.Flags().Int32Var(&createReplicas, "replicas", 1, "Number of replicas")
	createCmd.Flags().Int32Var(&createPort, "port", 80, "Container and service port")
	createCmd.Flags().StringToStringVar(&createEnv, "env", nil, "Environment variables (KEY=VALUE, repeatable)")
	addOutputFlag(createCmd, &createOutput)

	rootCmd.AddCommand(createCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	return withStack(cmd, func(ctx context.Context, env commandEnv) error {
		resource, err := createRequest(cmd, args, env)
		if err != nil {
			return err
		}

		result, err := env.stack.Engine.CreateAndReconcile(ctx, resource.Name, resource.Namespace, resource.Spec)
		if err != nil {
			return err
		}

		return render(env.out, createOutput, result)
	})
}

// createRequest builds the requested resource from a manifest or from flags.
func createRequest(cmd *cobra.Command, args []string, env commandEnv) (domain.ManagedResource, error) {
	if createFile != "" {
		if len(args) > 0 {
			return domain.ManagedResource{}, errors.New("NAME cannot be combined with --filename")
		}

		reader, closeFn, err := openManifest(cmd, createFile)
		if err != nil {
			return domain.ManagedResource{}, err
		}
		defer closeFn()

		return printer.DecodeManifest(reader, env.key("").Namespace)
	}

	if len(args) == 0 {
		return domain.ManagedResource{}, errors.New("NAME or --filename is required")
	}

	key := env.key(args[0])

	return domain.ManagedResource{
		Name:      key.Name,
		Namespace: key.Namespace,
		Spec: domain.ResourceSpec{
			Replicas: createReplicas,
			Image:    createImage,
			Port:     createPort,
			Env:      createEnv,
		},
	}, nil
}

func openManifest(cmd *cobra.Command, path string) (io.Reader, func(), error) {
	if path == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}

	file, err := os.Open(path) //nolint:gosec // path is provided by the operator's user
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to open %s", path)
	}

	return file, func() { _ = file.Close() }, nil
}

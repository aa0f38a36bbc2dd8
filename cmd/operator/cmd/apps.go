package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/lexfrei/application-operator/internal/controller"
	"github.com/lexfrei/application-operator/internal/domain"
	"github.com/lexfrei/application-operator/internal/printer"
)

const defaultNamespace = "default"

// commandEnv is what a resource subcommand needs to run.
type commandEnv struct {
	stack     *controller.Stack
	namespace string
	out       io.Writer
}

// withStack loads configuration, opens the configured store and runs fn.
// Logs go to stderr so they never mix with command output.
func withStack(cmd *cobra.Command, fn func(ctx context.Context, env commandEnv) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cmd.ErrOrStderr(), cfg)
	slog.SetDefault(logger)

	stack, closeStore, err := controller.OpenStack(cfg, logger)
	if err != nil {
		return errors.Wrap(err, "failed to open store")
	}

	defer func() {
		if closeErr := closeStore(); closeErr != nil {
			logger.Error("failed to close store", "error", closeErr)
		}
	}()

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return fn(ctx, commandEnv{
		stack:     stack,
		namespace: cfg.Namespace,
		out:       cmd.OutOrStdout(),
	})
}

// key resolves a resource name against the namespace flag.
func (e commandEnv) key(name string) domain.Key {
	namespace := e.namespace
	if namespace == "" {
		namespace = defaultNamespace
	}

	return domain.Key{Namespace: namespace, Name: name}
}

func addOutputFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "output", "o", string(printer.FormatTable), "Output format (table, yaml, json)")
}

func render(out io.Writer, format string, resource domain.ManagedResource) error {
	parsed, err := printer.ParseFormat(format)
	if err != nil {
		return err
	}

	return printer.Print(out, parsed, resource)
}

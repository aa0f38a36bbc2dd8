package cmd

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/lexfrei/application-operator/internal/config"
	"github.com/lexfrei/application-operator/internal/controller"
)

//nolint:gochecknoglobals // set by SetVersion from main
var (
	version = "development"
	gitsha  = "development"
)

func SetVersion(ver, sha string) {
	version = ver
	gitsha = sha
}

//nolint:gochecknoglobals // cobra command pattern
var configFile string

//nolint:gochecknoglobals // cobra command pattern
var rootCmd = &cobra.Command{
	Use:   "application-operator",
	Short: "Kubernetes operator that converges Applications into Deployments and Services",
	Long: `A Kubernetes operator for the Application custom resource.
It periodically sweeps Applications, detects drift between the declared spec
and the last reconciled generation, and converges a Deployment and a Service
for each of them. Subcommands create, inspect and manage Applications directly.`,
	RunE:          runOperator,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to a config file (yaml, json or toml)")
	config.BindFlags(rootCmd.PersistentFlags())

	_ = viper.BindPFlags(rootCmd.PersistentFlags())
}

func initConfig() {
	config.SetupEnv(viper.GetViper())
	config.SetDefaults(viper.GetViper())
}

func Execute() error {
	return errors.Wrap(rootCmd.Execute(), "command execution failed")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper(), configFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}

	return cfg, nil
}

func setupLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo

	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

func runOperator(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(os.Stdout, cfg)
	slog.SetDefault(logger)

	ctrl.SetLogger(logr.FromSlogHandler(logger.Handler()))

	logger.Info("starting application-operator",
		"version", version,
		"gitsha", gitsha,
		"store", cfg.Store,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := controller.Run(ctx, cfg, logger); err != nil {
		return errors.Wrap(err, "failed to run operator")
	}

	return nil
}

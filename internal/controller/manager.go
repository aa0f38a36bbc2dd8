package controller

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log"
	ctrlmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	"sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/lexfrei/application-operator/api/v1alpha1"
	"github.com/lexfrei/application-operator/internal/config"
	"github.com/lexfrei/application-operator/internal/gateway"
	"github.com/lexfrei/application-operator/internal/metrics"
)

// EventSource is the component name on emitted Kubernetes events.
const EventSource = "application-operator"

const shutdownTimeout = 5 * time.Second

// NewScheme returns a scheme with the built-in types and Application.
func NewScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(v1alpha1.AddToScheme(scheme))

	return scheme
}

// Run starts the operator with the configured store and blocks until ctx is
// cancelled or a component fails.
//
// With the kubernetes store it runs a controller-runtime manager that serves
// metrics and health probes and drives the sweep as a Runnable. With the bolt
// store it runs the sweep against the local database and serves the same
// endpoints itself.
func Run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Store == config.StoreBolt {
		return runStandalone(ctx, cfg, logger)
	}

	return runManager(ctx, cfg, logger)
}

//nolint:funlen // manager setup requires multiple steps
func runManager(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	mgrLogger := log.FromContext(ctx).WithName("manager")
	mgrLogger.Info("initializing controller manager")

	mgrOptions := ctrl.Options{
		Scheme: NewScheme(),
		Metrics: server.Options{
			BindAddress: cfg.MetricsAddr,
		},
		HealthProbeBindAddress: cfg.HealthAddr,
	}

	if cfg.Namespace != "" {
		mgrOptions.Cache = cache.Options{
			DefaultNamespaces: map[string]cache.Config{cfg.Namespace: {}},
		}

		mgrLogger.Info("restricting to namespace", "namespace", cfg.Namespace)
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), mgrOptions)
	if err != nil {
		return errors.Wrap(err, "failed to create manager")
	}

	collector := metrics.NewCollector(ctrlmetrics.Registry)

	//nolint:staticcheck // the events/v1 recorder needs a different call shape in the gateway
	recorder := mgr.GetEventRecorderFor(EventSource)

	gw := gateway.NewKubernetesGateway(mgr.GetClient(), mgr.GetAPIReader(), recorder, collector, logger)
	stack := newStack(gw, cfg, collector, logger)

	if err := mgr.Add(stack.Trigger); err != nil {
		return errors.Wrap(err, "failed to add sweep trigger")
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return errors.Wrap(err, "failed to set up health check")
	}

	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return errors.Wrap(err, "failed to set up ready check")
	}

	mgrLogger.Info("starting manager",
		"sweepInterval", cfg.SweepInterval,
		"reconcileTimeout", cfg.ReconcileTimeout,
		"sweepConcurrency", cfg.SweepConcurrency,
	)

	if err := mgr.Start(ctx); err != nil {
		return errors.Wrap(err, "failed to start manager")
	}

	return nil
}

func runStandalone(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	collector := metrics.NewCollector(registry)

	gw, err := gateway.OpenBoltGateway(cfg.BoltPath, collector, logger)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := gw.Close(); closeErr != nil {
			logger.Error("failed to close bolt store", "error", closeErr)
		}
	}()

	stack := newStack(gw, cfg, collector, logger)

	logger.Info("starting standalone operator", "store", cfg.Store, "path", cfg.BoltPath)

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return stack.Trigger.Start(groupCtx)
	})

	group.Go(func() error {
		return serve(groupCtx, cfg.MetricsAddr, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), logger)
	})

	group.Go(func() error {
		probes := http.NewServeMux()
		probes.Handle("/healthz", &healthz.Handler{Checks: map[string]healthz.Checker{"ping": healthz.Ping}})
		probes.Handle("/readyz", &healthz.Handler{Checks: map[string]healthz.Checker{"ping": healthz.Ping}})

		return serve(groupCtx, cfg.HealthAddr, probes, logger)
	})

	return errors.Wrap(group.Wait(), "standalone operator stopped")
}

// serve runs an HTTP server until ctx is done. An empty or "0" address
// disables it, matching controller-runtime's convention.
func serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	if addr == "" || addr == "0" {
		return nil
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving", "addr", addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "failed to serve %s", addr)
	}

	return nil
}

// NewClient creates a direct, uncached client for one-shot commands.
func NewClient() (client.Client, error) {
	restConfig, err := ctrl.GetConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load kubeconfig")
	}

	c, err := client.New(restConfig, client.Options{Scheme: NewScheme()})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create client")
	}

	return c, nil
}

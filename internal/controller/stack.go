package controller

import (
	"log/slog"

	"github.com/lexfrei/application-operator/internal/config"
	"github.com/lexfrei/application-operator/internal/engine"
	"github.com/lexfrei/application-operator/internal/gateway"
	"github.com/lexfrei/application-operator/internal/metrics"
	"github.com/lexfrei/application-operator/internal/reconciler"
	"github.com/lexfrei/application-operator/internal/sweep"
)

// Stack is the set of components built on top of one gateway.
type Stack struct {
	Gateway    gateway.Gateway
	Reconciler *reconciler.Service
	Trigger    *sweep.Trigger
	Engine     *engine.Engine
}

func newStack(gw gateway.Gateway, cfg *config.Config, collector metrics.Collector, logger *slog.Logger) *Stack {
	svc := reconciler.NewService(gw, reconciler.Options{
		Timeout: cfg.ReconcileTimeout,
		Metrics: collector,
		Logger:  logger,
	})

	trigger := sweep.New(gw, svc, sweep.Options{
		Interval:    cfg.SweepInterval,
		Namespace:   cfg.Namespace,
		Concurrency: cfg.SweepConcurrency,
		Metrics:     collector,
		Logger:      logger,
	})

	return &Stack{
		Gateway:    gw,
		Reconciler: svc,
		Trigger:    trigger,
		Engine:     engine.New(gw, trigger, logger),
	}
}

// OpenStack builds the components for a one-shot command against the
// configured store. The returned close function releases the store.
func OpenStack(cfg *config.Config, logger *slog.Logger) (*Stack, func() error, error) {
	if cfg.Store == config.StoreBolt {
		gw, err := gateway.OpenBoltGateway(cfg.BoltPath, nil, logger)
		if err != nil {
			return nil, nil, err
		}

		return newStack(gw, cfg, nil, logger), gw.Close, nil
	}

	c, err := NewClient()
	if err != nil {
		return nil, nil, err
	}

	gw := gateway.NewKubernetesGateway(c, c, nil, nil, logger)

	return newStack(gw, cfg, nil, logger), func() error { return nil }, nil
}

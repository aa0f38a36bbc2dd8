// Package controller assembles the operator process.
//
// Run builds the gateway for the configured store, the reconciliation
// service, the periodic sweep trigger and the request-layer engine, then
// blocks until shutdown:
//
//	┌──────────────┐  tick   ┌──────────────┐  Reconcile  ┌──────────────┐
//	│ sweep        │────────>│ reconciler   │────────────>│ gateway      │
//	│ Trigger      │         │ Service      │             │ (k8s / bolt) │
//	└──────┬───────┘         └──────────────┘             └──────┬───────┘
//	       │ ReconcileNow                                        │
//	┌──────┴───────┐                                      ┌──────┴───────┐
//	│ engine       │                                      │ Application  │
//	│ (CLI)        │                                      │ Deployment   │
//	└──────────────┘                                      │ Service      │
//	                                                      └──────────────┘
//
// # Stores
//
// With --store=kubernetes (the default) a controller-runtime manager serves
// metrics and health probes and runs the trigger as a Runnable; sweeps read
// through the manager's uncached API reader. With --store=bolt everything is
// kept in a local bbolt file, which is handy for trying the operator without
// a cluster.
//
// # Configuration
//
// Settings come from CLI flags, APP_* environment variables or a config file;
// see the config package.
package controller

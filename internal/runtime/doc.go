/*
Package runtime provides the composition root of procflow: it connects the
workflow aggregates of an application to the process engines behind the
registered adapters.

# Architecture Overview

The runtime keeps three registries. Adapters (package adapter) are the
process-engine backends. Workflow services (package handlers) declare which
processes they implement and which funcs handle their tasks. Dispatchers
(package dispatch) route operations of one aggregate type to the adapter
chain configured for its primary process.

# Package Structure

## Core Service (service.go)

The Service struct wires together:
  - The adapter registry, sealed once the first aggregate is registered
  - One dispatcher per aggregate type
  - Deployment of the process models of every workflow module
  - Task handlers returned to adapters through WireTask
  - HTTP servers for metrics and the web UI

## Task Handlers (taskhandler.go, hooks.go)

A TaskHandler binds the arguments of a handler func from a task callback,
calls it and saves the aggregate. TaskHooks observe every invocation.

## Stats & Monitoring (stats.go)

Per-handler statistics shown in the wiring overview:
  - Latency percentiles (p50, p95, p99)
  - Throughput tracking
  - Error categorization

## WebUI (webui.go)

HTTP API exposing the current wiring at /api/wiring.

# Sub-packages

  - config/: Adapter routing and messaging configuration with validation
  - dispatch/: Dispatchers and the adapter chain fallback
  - errors/: Sentinel errors and error types
  - handlers/: Workflow service and task declarations
  - ids/: ULID generation
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Message metadata utilities
  - parameters/: Handler signature validation and argument binding
  - telemetry/: Prometheus metrics and OpenTelemetry spans
  - wiring/: Matching task nodes to handler funcs

# Usage Example

	svc, err := runtime.NewService(cfg, logger, runtime.ServiceDependencies{})
	if err != nil {
		return err
	}
	rides, err := svc.RegisterAggregate(ctx, "Ride", reflect.TypeOf(&Ride{}), repository.Erase[*Ride](store))
	if err != nil {
		return err
	}
	svc.RegisterServices(rideService)
	svc.RegisterModels("", rideModel)

	go svc.Start(ctx)
	rides.Start(ctx, &Ride{Pickup: "Main St"})
*/
package runtime

// Package procflow routes workflow operations of application aggregates to
// pluggable process-engine backends ("adapters") and binds declaratively
// described task handler funcs to the task callbacks those engines send.
//
// A Service owns the adapter registry, the workflow services and one
// dispatcher per aggregate type. RegisterAggregate returns a ProcessService
// that starts workflows, correlates messages and completes or cancels tasks on
// the adapter chain configured for the aggregate's primary process. The chain
// is read from Config at three levels (global, workflow module, process); the
// first adapter of a chain starts new workflows, the others are probed in order
// for running ones, which lets a workflow migrate from one engine to another.
//
// Deploy hands the process models of every workflow module to every adapter.
// Adapters call back with WireProcess and WireTask; WireTask resolves the
// handler func declared in a WorkflowService and validates its arguments
// against their roles (WorkflowAggregate, TaskID, TaskEvent, TaskParam and the
// multi-instance roles). A minimal setup therefore involves filling Config,
// creating a Service, registering aggregates, services and models, and calling
// Start.
//
// # Adapters
//
// procflow ships two adapters:
//   - inmem: keeps instances and open tasks in memory, for tests and demos
//   - messaging: drives a remote engine over a Watermill command bus
//
// The messaging adapter publishes commands to "<prefix>.commands" and consumes
// task callbacks from "<prefix>.tasks". The transport is selected by
// Config.Messaging.PubSubSystem:
//   - channel: In-memory Go channels for testing
//   - kafka: Commands partitioned by aggregate id
//   - rabbitmq: AMQP-based durable queues
//   - aws: AWS SNS/SQS with LocalStack support
//   - nats: Core NATS with queue groups
//   - http: Request/response messaging
//
// # Repositories
//
// Aggregates are loaded and saved through a TypedRepository. The repository
// package provides in-memory, bbolt and MySQL stores.
//
// # Task Hooks
//
// TaskHooks provides OnTaskStart, OnTaskDone, and OnTaskError callbacks for
// custom logging, metrics collection, and alerting around handler execution.
//
// When metrics are enabled, dispatch and handler metrics are exposed for
// Prometheus, and the web UI serves the current wiring together with
// per-handler statistics at /api/wiring.
package procflow

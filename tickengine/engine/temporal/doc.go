// Package temporal implements a tick engine adapter backed by Temporal
// (https://temporal.io). It satisfies the generic engine.Engine interface,
// so a session can drive durable tick workflows without importing the
// Temporal SDK directly.
//
// # Why Temporal?
//
// Temporal provides durable execution for long-running tick loops. When a
// turn spans multiple tool calls, waits on a confirmation, or just runs for
// a long time, Temporal ensures the workflow state survives process
// restarts, network failures, and crashes by replaying the workflow from
// its event history rather than re-running it from scratch.
//
// # Constructing an Engine
//
//	eng, err := temporal.New(temporal.Options{
//	    ClientOptions: &client.Options{
//	        HostPort:  "temporal:7233",
//	        Namespace: "default",
//	    },
//	    WorkerOptions: temporal.WorkerOptions{
//	        TaskQueue: "tick.default",
//	    },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer eng.Close()
//
// # Worker vs Client Mode
//
// The same engine can run in two modes with the same Options: worker mode
// polls task queues and runs ticks locally; client mode only submits
// workflows, for processes (API gateways, CLIs) that start runs without
// executing them.
//
// # Workflow Determinism
//
// Workflows must be deterministic: replaying the same event history must
// produce the same outputs. workflowContext exposes only deterministic
// operations — Now() returns workflow time rather than the wall clock,
// ExecuteActivity/ExecuteActivityAsync schedule activities, SignalChannel
// returns deterministic signal receivers. The tick loop's actual model and
// tool calls run inside activities, which are unconstrained by determinism;
// the workflow handler only coordinates activities and reacts to their
// results.
//
// # OpenTelemetry Integration
//
// The engine installs OTEL interceptors on the client and workers
// automatically, propagating trace context across workflow and activity
// boundaries, unless Instrumentation.DisableTracing/DisableMetrics is set.
package temporal

// Package bulkpanel provides a bulk hosting provisioner: it drives a
// hosting control panel API, a DNS provider API, and remote machines
// reachable over SSH through multi-step workflows, one workflow per
// input domain.
//
// The heart of the module is the orchestration engine: a process store
// holding the state of each bulk job, a bounded work queue executing
// per-item workflows with a fixed concurrency ceiling, a retry wrapper
// giving each item a fixed number of attempts, and a stage sequencer
// running named workflow stages in order. Polling clients read a
// progress snapshot and an offset-paginated log feed at any time.
//
// # Quick Start
//
//	st := memory.New()
//	reg := flow.NewRegistry()
//	provision.RegisterAll(reg, logger)
//	eng := engine.New(st, reg, logger)
//	jobID, err := eng.Submit(ctx, job.KindCreate, items, creds)
//
// Jobs execute in the background; Submit never blocks on workflow
// completion. Stop requests are cooperative: in-flight work finishes
// its current stage and unstarted items are recorded as skipped.
package bulkpanel

// Package engine wires the orchestration components together: the
// process store, the workflow registry, the bounded worker pool, the
// retrying executor and the extension registry. It exposes the
// caller-facing surface — Submit, GetStatus, GetLogs, RequestStop,
// Delete — and owns the background run of each submitted job, plus the
// janitor that sweeps terminal jobs past the retention window.
package engine

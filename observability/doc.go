// Package observability provides the OTel metrics extension: an
// ext.Extension recording job, item and stage lifecycle metrics.
// Per-attempt metrics live in the middleware package instead; this
// extension covers the coarser lifecycle events.
package observability

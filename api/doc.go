// Package api is the thin HTTP surface over the engine: submit a job,
// poll status, page logs, request a stop, delete. Handlers do shape
// validation only; everything else is the engine's contract.
package api

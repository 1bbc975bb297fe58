// Package dnsprov is the DNS API client used to point provisioned
// domains at the hosting server. It speaks a Cloudflare-style v4 REST
// API (bearer token, per-zone record endpoints) and guards outbound
// calls with a circuit breaker.
package dnsprov

// Package provision defines the three workflow kinds the engine runs:
//
//   - create: provision a panel account, DNS record and remote setup
//     for each domain, skipping domains whose account already exists.
//   - delete: tear down the panel account and DNS records for each
//     domain, skipping domains with no account.
//   - wpadmin: rotate the WordPress admin password on each domain's
//     machine.
//
// Each kind is a flow.Definition: a builder that turns the submission's
// collaborator credentials into clients, plus the per-item stage list.
// Stages depend on the narrow ControlPanel, DNSProvider and
// sshx.Factory interfaces so tests can substitute fakes.
package provision

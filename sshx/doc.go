// Package sshx wraps golang.org/x/crypto/ssh with the small surface
// the remote-setup stages need: dial a host with password auth, run a
// command capturing exit code and output, close. Each workflow attempt
// dials a fresh session so a half-dead connection from a failed
// attempt never leaks into the retry.
package sshx

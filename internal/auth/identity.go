// Package auth carries the identity of whoever requested an agent run or
// roundtable turn. OAuth login, JWT validation, and session-cookie server
// machinery live entirely in the HTTP transport layer this module does not
// own; what survives here is the identity shape itself, so session state and
// usage logs can attribute work to a caller without this package knowing how
// that caller authenticated.
package auth

// UserInfo identifies the external caller on whose behalf an agent run,
// subagent spawn, or roundtable session executes. It is supplied by the
// host application (populated from whatever auth scheme fronts it) and
// carried through unmodified.
type UserInfo struct {
	ID       string
	Provider string
	Email    string
	Name     string
}

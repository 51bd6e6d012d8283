// Package dashboard manages browser dashboard sessions.
//
// Each live channel starts unauthenticated. An auth event binds an immutable
// identity to it; only then can it register devices, list devices, request
// shutdowns or receive device events. Registered devices are tracked in a
// session registry keyed by (owner, MAC) and grouped into rooms named
// user:<id> and device:<mac>.
package dashboard

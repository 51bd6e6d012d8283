// Package auth resolves dashboard and HTTP callers into an Identity.
//
// Two modes are supported:
//   - token: the caller presents an HS256 session token whose subject is
//     the user id and whose role claim is a string or an array of strings.
//   - trusted: the userId/role pair supplied by the caller is accepted as-is,
//     for deployments where the dashboard web tier has already authenticated.
//
// An Identity is admin when its role is "admin" or a list containing "admin".
package auth

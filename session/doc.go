// Package session stores the server-side session rows referenced by the
// opaque browser cookie. A row exists from the moment the password check
// passes; whether its id has been committed to a cookie is the engine's
// concern, not this package's.
//
// Rows are binary encoded with a leading schema version byte and stored in
// redis under a per-session key, with a per-user index set enabling
// "sign out other sessions".
package session

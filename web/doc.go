// Package web is the HTTP surface over the nightcap engine: gin handlers
// for login, logout, verification, and two-factor management, plus the
// request guards (honeypot, CSRF double-submit) and all cookie plumbing.
// The engine never sees a cookie; this package translates between browser
// state and engine calls.
package web

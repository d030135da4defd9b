package session

// Session is one server-side session row.
//
// RememberMe is recorded at creation so that a deferred two-factor commit
// can later issue the cookie with the scope the user chose at the password
// step, not at the confirmation step.
type Session struct {
	ID         string
	UserID     string
	RememberMe bool

	CreatedAt int64
	ExpiresAt int64
}

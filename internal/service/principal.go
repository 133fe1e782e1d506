package service

import "strings"

// Principal is the authenticated caller on whose behalf the gateway talks to the backend.
type Principal struct {
	UserID string
	Token  string
}

// Valid reports whether the principal carries a user identity.
func (p Principal) Valid() bool {
	return strings.TrimSpace(p.UserID) != ""
}
